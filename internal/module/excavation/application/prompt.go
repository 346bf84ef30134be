package application

import (
	"context"
	"fmt"
	"strings"

	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
)

const (
	// UnitPromptVersion は解析単位プロンプトのバージョン
	UnitPromptVersion = "1.0"

	// DefaultMaxPromptTokens はプロンプト1件あたりのトークン上限
	DefaultMaxPromptTokens = 6000

	// minContentChars は切り詰め後に残す本文の最小文字数
	minContentChars = 400
)

const archaeologistSystemPrompt = `You are a Code Archaeologist.

Your task is to dig through legacy code and its history and explain what you find to people who did not write it.

Guidelines:
- Explain what the change or file does in simple business terms first
- Review it for hidden issues: leaked credentials, hardcoded logins, side effects that are only faked (e.g. printing instead of sending an email), missing validation or error handling, SQL built by string interpolation
- When you find an issue, recommend a safer rewrite in one or two sentences
- Name the historical layer this unit belongs to (a short theme such as "initial scaffolding" or "authentication rework")
- Be concise and factual - avoid speculation
- Return a valid JSON response`

// unitAnalysis は解析単位1件に対するモデルの応答です
type unitAnalysis struct {
	PromptVersion   string         `json:"prompt_version"`
	Summary         string         `json:"summary"`
	Layer           *layerHint     `json:"layer"`
	Patterns        []analysisItem `json:"patterns"`
	Gaps            []analysisItem `json:"gaps"`
	Recommendations []analysisItem `json:"recommendations"`
}

type layerHint struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

type analysisItem struct {
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Severity string `json:"severity"`
}

// generateUnitPrompt は解析単位のプロンプトを構築します
func generateUnitPrompt(unit domain.AnalysisUnit, body string) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s\n\n", archaeologistSystemPrompt)

	switch unit.Kind {
	case domain.UnitKindFile:
		fmt.Fprintf(&b, "Explain what this file does and review it for hidden issues.\n\n")
		fmt.Fprintf(&b, "File: %s\n", unit.ID)
	default:
		fmt.Fprintf(&b, "Explain this git commit in simple business terms and review the change for hidden issues.\n\n")
		fmt.Fprintf(&b, "Commit: %s\n", unit.ID)
		fmt.Fprintf(&b, "Message: %s\n", unit.Message)
	}
	if unit.Author != "" {
		fmt.Fprintf(&b, "Author: %s\n", unit.Author)
	}
	if !unit.Date.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", unit.Date.Format("2006-01-02"))
	}
	if unit.Language != "" {
		fmt.Fprintf(&b, "Language: %s\n", unit.Language)
	}
	if unit.SecretsMasked > 0 {
		fmt.Fprintf(&b, "Note: %d secret-like value(s) were replaced with %s before analysis; report them as leaked credentials.\n", unit.SecretsMasked, domain.SecretMaskToken)
	}
	if len(unit.SensitivePaths) > 0 {
		fmt.Fprintf(&b, "Sensitive files committed: %s\n", strings.Join(unit.SensitivePaths, ", "))
	}

	if len(unit.History) > 0 {
		b.WriteString("\nRecent history:\n")
		for _, c := range unit.History {
			fmt.Fprintf(&b, "- %s %s %s: %s\n", shortID(c.Hash), c.Date.Format("2006-01-02"), c.Author, firstLine(c.Message))
		}
	}

	if unit.Kind == domain.UnitKindFile {
		b.WriteString("\nContent:\n")
	} else {
		b.WriteString("\nDiff:\n")
	}
	b.WriteString(body)

	fmt.Fprintf(&b, `

Return a JSON response with the following structure:
{
  "prompt_version": "%s",
  "summary": "business-terms explanation",
  "layer": {"name": "short theme", "description": "one sentence"},
  "patterns": [{"title": "...", "detail": "..."}],
  "gaps": [{"title": "...", "detail": "...", "severity": "low|medium|high"}],
  "recommendations": [{"title": "...", "detail": "safer rewrite"}]
}`, UnitPromptVersion)

	return b.String()
}

// buildUnitPrompt はトークン上限に収まるよう本文を切り詰めてプロンプトを構築します
// 返り値は構築したプロンプトとそのトークン数
func buildUnitPrompt(ctx context.Context, synth domain.Synthesizer, unit domain.AnalysisUnit, maxTokens int) (string, int) {
	body := unit.Diff
	if unit.Kind == domain.UnitKindFile {
		body = unit.Content
	}

	prompt := generateUnitPrompt(unit, body)
	tokens := synth.CountTokens(ctx, prompt)
	if maxTokens <= 0 {
		return prompt, tokens
	}

	// 超過分の比率で本文を縮め、収まるまで繰り返す
	for attempt := 0; tokens > maxTokens && attempt < 4; attempt++ {
		runes := []rune(body)
		keep := int(float64(len(runes)) * float64(maxTokens) / float64(tokens) * 0.9)
		if keep < minContentChars {
			keep = min(minContentChars, len(runes))
		}
		if keep >= len(runes) {
			break
		}
		body = string(runes[:keep]) + "\n... (truncated)"
		prompt = generateUnitPrompt(unit, body)
		tokens = synth.CountTokens(ctx, prompt)
	}

	return prompt, tokens
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}

func shortID(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}
