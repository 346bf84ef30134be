package application

import (
	"sort"
	"strings"
	"time"

	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
)

// resultBuilder は解析結果を逐次マージして ExcavationResult を組み立てます
type resultBuilder struct {
	result *domain.ExcavationResult
	layers map[string]int
}

func newResultBuilder(job *domain.Job, ref, model string, total int) *resultBuilder {
	return &resultBuilder{
		result: &domain.ExcavationResult{
			Repository:      job.Repository,
			Ref:             ref,
			Mode:            job.Options.Mode,
			Model:           model,
			UnitsTotal:      total,
			Findings:        []domain.UnitFinding{},
			Layers:          []domain.Layer{},
			Patterns:        []domain.Finding{},
			Gaps:            []domain.Finding{},
			Recommendations: []domain.Finding{},
			Degraded:        []domain.DegradedMarker{},
		},
		layers: make(map[string]int),
	}
}

// addAnalysis は1単位の解析結果を各カテゴリにマージします
func (b *resultBuilder) addAnalysis(unit domain.AnalysisUnit, a *unitAnalysis) {
	r := b.result
	r.UnitsAnalyzed++

	r.Findings = append(r.Findings, domain.UnitFinding{
		UnitID:  unit.ID,
		Kind:    unit.Kind,
		Title:   unit.Title,
		Author:  unit.Author,
		Date:    unit.Date,
		Summary: strings.TrimSpace(a.Summary),
	})

	if a.Layer != nil && strings.TrimSpace(a.Layer.Name) != "" {
		b.addToLayer(unit, a.Layer)
	}

	r.Patterns = appendFindings(r.Patterns, unit.ID, a.Patterns)
	r.Gaps = appendFindings(r.Gaps, unit.ID, a.Gaps)
	r.Recommendations = appendFindings(r.Recommendations, unit.ID, a.Recommendations)
}

// addToLayer は同名（大文字小文字を区別しない）の地層に単位を追加します
func (b *resultBuilder) addToLayer(unit domain.AnalysisUnit, hint *layerHint) {
	key := strings.ToLower(strings.TrimSpace(hint.Name))
	idx, ok := b.layers[key]
	if !ok {
		b.result.Layers = append(b.result.Layers, domain.Layer{
			Name:        strings.TrimSpace(hint.Name),
			Description: strings.TrimSpace(hint.Description),
			Units:       []string{},
			Since:       unit.Date,
			Until:       unit.Date,
		})
		idx = len(b.result.Layers) - 1
		b.layers[key] = idx
	}

	layer := &b.result.Layers[idx]
	layer.Units = append(layer.Units, unit.ID)
	if !unit.Date.IsZero() {
		if layer.Since.IsZero() || unit.Date.Before(layer.Since) {
			layer.Since = unit.Date
		}
		if unit.Date.After(layer.Until) {
			layer.Until = unit.Date
		}
	}
	if layer.Description == "" {
		layer.Description = strings.TrimSpace(hint.Description)
	}
}

// addDegraded は解析できなかった単位を記録します
func (b *resultBuilder) addDegraded(unit domain.AnalysisUnit, reason string) {
	b.result.Degraded = append(b.result.Degraded, domain.DegradedMarker{UnitID: unit.ID, Reason: reason})
}

// addPromptTokens は推定プロンプトトークン数を加算します
func (b *resultBuilder) addPromptTokens(n int) {
	b.result.PromptTokens += n
}

// build は地層を古い順に並べ、信頼度を決めて結果を返します
func (b *resultBuilder) build(now time.Time) *domain.ExcavationResult {
	r := b.result
	sort.SliceStable(r.Layers, func(i, j int) bool {
		return r.Layers[i].Since.Before(r.Layers[j].Since)
	})

	r.Confidence = domain.ConfidenceFull
	if len(r.Degraded) > 0 {
		r.Confidence = domain.ConfidenceDegraded
	}
	r.CompletedAt = now
	return r
}

func appendFindings(dst []domain.Finding, unitID string, items []analysisItem) []domain.Finding {
	for _, item := range items {
		title := strings.TrimSpace(item.Title)
		detail := strings.TrimSpace(item.Detail)
		if title == "" && detail == "" {
			continue
		}
		dst = append(dst, domain.Finding{
			UnitID:   unitID,
			Title:    title,
			Detail:   detail,
			Severity: strings.ToLower(strings.TrimSpace(item.Severity)),
		})
	}
	return dst
}
