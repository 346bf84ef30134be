package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
	llmdomain "github.com/jinford/code-archaeologist/internal/module/llm/domain"
)

// Pipeline は解析単位を逐次処理して ExcavationResult を構築します
// プロバイダのレート制限と進捗の単調性のため、単位は並列に処理しない
type Pipeline struct {
	store           domain.JobStore
	events          domain.EventRecorder
	logger          *slog.Logger
	maxPromptTokens int
	now             func() time.Time
}

// NewPipeline は新しいPipelineを作成します
func NewPipeline(store domain.JobStore, events domain.EventRecorder, logger *slog.Logger, maxPromptTokens int) *Pipeline {
	if maxPromptTokens <= 0 {
		maxPromptTokens = DefaultMaxPromptTokens
	}
	return &Pipeline{
		store:           store,
		events:          events,
		logger:          logger,
		maxPromptTokens: maxPromptTokens,
		now:             time.Now,
	}
}

// Run はワークスペースから解析単位を取得し、1件ずつ解析して結果を返します
// 単位ごとの失敗は劣化マーカーとして記録し、ジョブ全体は失敗させない
func (p *Pipeline) Run(ctx context.Context, job *domain.Job, ws domain.Workspace, synth domain.Synthesizer) (*domain.ExcavationResult, error) {
	p.reportProgress(ctx, job.ID, 0, "Collecting analysis units")

	units, err := ws.Units(ctx, job.Options)
	if err != nil {
		return nil, &domain.UnrecoverablePipelineError{
			Stage:   domain.StageUnits,
			Message: "analysis units could not be read from the repository",
			Err:     err,
		}
	}
	if len(units) > job.Options.MaxUnits && job.Options.MaxUnits > 0 {
		units = units[:job.Options.MaxUnits]
	}

	total := len(units)
	builder := newResultBuilder(job, ws.Ref(), synth.Model(), total)
	p.logger.Info("Starting excavation", "jobID", job.ID, "units", total, "mode", job.Options.Mode, "model", synth.Model())

	for i, unit := range units {
		if err := ctx.Err(); err != nil {
			return nil, &domain.UnrecoverablePipelineError{Stage: domain.StageInternal, Message: "excavation was interrupted", Err: err}
		}

		prompt, tokens := buildUnitPrompt(ctx, synth, unit, p.maxPromptTokens)
		builder.addPromptTokens(tokens)

		var analysis unitAnalysis
		err := synth.GenerateJSON(ctx, prompt, &analysis)
		if err == nil && strings.TrimSpace(analysis.Summary) == "" {
			err = &llmdomain.ParseError{Response: "", Err: errors.New("analysis has no summary")}
		}

		if err != nil {
			var cfgErr *llmdomain.ConfigurationError
			if errors.As(err, &cfgErr) {
				return nil, &domain.UnrecoverablePipelineError{Stage: domain.StageSynthesis, Message: "no compatible model available", Err: err}
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, &domain.UnrecoverablePipelineError{Stage: domain.StageInternal, Message: "excavation was interrupted", Err: err}
			}

			reason := degradedReason(err)
			builder.addDegraded(unit, reason)
			p.logger.Warn("Skipping analysis unit", "jobID", job.ID, "unit", unit.ID, "reason", reason, "error", err)
			p.events.Add(domain.Event{
				Type:    domain.EventUnitDegraded,
				Message: fmt.Sprintf("Skipped %s %s: %s", unit.Kind, unitLabel(unit), reason),
				JobID:   job.ID,
			})
		} else {
			builder.addAnalysis(unit, &analysis)
		}

		processed := i + 1
		p.reportProgress(ctx, job.ID, progressOf(processed, total), fmt.Sprintf("Analyzed %d/%d units", processed, total))
	}

	result := builder.build(p.now())
	p.logger.Info("Excavation finished", "jobID", job.ID, "analyzed", result.UnitsAnalyzed, "degraded", len(result.Degraded))
	return result, nil
}

// unitLabel はイベント表示用の単位名です（コミットは短縮ハッシュ、ファイルはパス全体）
func unitLabel(unit domain.AnalysisUnit) string {
	if unit.Kind == domain.UnitKindCommit {
		return shortID(unit.ID)
	}
	return unit.ID
}

// reportProgress は進捗を保存します
// 進捗の保存失敗は観測のみに影響するため、ログに残して処理を続ける
func (p *Pipeline) reportProgress(ctx context.Context, jobID string, progress int, step string) {
	if err := p.store.Update(ctx, jobID, domain.ProgressPatch(progress, step)); err != nil {
		p.logger.Warn("Failed to persist progress", "jobID", jobID, "progress", progress, "error", err)
	}
}

// progressOf は round(100 * processed / total) を返します
func progressOf(processed, total int) int {
	if total <= 0 {
		return 100
	}
	return int(math.Round(100 * float64(processed) / float64(total)))
}

// degradedReason は結果に載せる短い理由を返します（プロバイダの詳細は含めない）
func degradedReason(err error) string {
	var parseErr *llmdomain.ParseError
	var synthErr *llmdomain.SynthesisError
	switch {
	case errors.As(err, &parseErr):
		return "model response could not be parsed"
	case errors.Is(err, llmdomain.ErrRateLimitExceeded):
		return "provider rate limit persisted after retries"
	case errors.As(err, &synthErr):
		return "synthesis failed after retries"
	}
	return "analysis failed"
}
