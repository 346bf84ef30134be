package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jinford/code-archaeologist/internal/module/llm/domain"
)

const (
	// DefaultMaxAttempts は1回の生成呼び出しあたりの最大試行回数
	DefaultMaxAttempts = 3

	// DefaultBaseBackoff はExponential Backoffの基底時間
	DefaultBaseBackoff = 2 * time.Second

	// DefaultRateLimitWait はプロバイダが待機時間を提示しなかった場合の待機時間
	DefaultRateLimitWait = 60 * time.Second

	// DefaultMaxRateLimitWait はレート制限時の待機時間の上限
	DefaultMaxRateLimitWait = 30 * time.Second
)

// EngineConfig はSynthesisEngineの設定です
type EngineConfig struct {
	PreferredModels  []string
	MaxAttempts      int
	BaseBackoff      time.Duration
	RateLimitWait    time.Duration
	MaxRateLimitWait time.Duration
	Temperature      float64
	MaxTokens        int
}

// DefaultEngineConfig はデフォルト設定を返します
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PreferredModels:  DefaultPreferredModels,
		MaxAttempts:      DefaultMaxAttempts,
		BaseBackoff:      DefaultBaseBackoff,
		RateLimitWait:    DefaultRateLimitWait,
		MaxRateLimitWait: DefaultMaxRateLimitWait,
		Temperature:      0.2,
		MaxTokens:        1200,
	}
}

// Sleeper は待機処理です（テストで差し替える）
type Sleeper func(ctx context.Context, d time.Duration) error

// Engine はプロバイダの一時的障害・レート制限を吸収する生成エンジンです
// 呼び出し側には結果か、単一の最終エラーのみが見える
type Engine struct {
	provider domain.Provider
	config   EngineConfig
	logger   *slog.Logger
	failures domain.FailureRecorder
	sleep    Sleeper

	mu          sync.Mutex
	model       string
	candidates  []string
	initialized bool
}

// EngineOption はEngine構築時のオプションです
type EngineOption func(*Engine)

// WithSleeper は待機処理を差し替える
func WithSleeper(sleep Sleeper) EngineOption {
	return func(e *Engine) {
		e.sleep = sleep
	}
}

// WithFailureRecorder は失敗記録先を設定する
func WithFailureRecorder(recorder domain.FailureRecorder) EngineOption {
	return func(e *Engine) {
		e.failures = recorder
	}
}

// NewEngine は新しいEngineを作成します（Initialize を呼ぶまで生成はできない）
func NewEngine(provider domain.Provider, config EngineConfig, logger *slog.Logger, opts ...EngineOption) *Engine {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.BaseBackoff <= 0 {
		config.BaseBackoff = DefaultBaseBackoff
	}
	if config.RateLimitWait <= 0 {
		config.RateLimitWait = DefaultRateLimitWait
	}
	if config.MaxRateLimitWait <= 0 {
		config.MaxRateLimitWait = DefaultMaxRateLimitWait
	}
	if len(config.PreferredModels) == 0 {
		config.PreferredModels = DefaultPreferredModels
	}
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		provider: provider,
		config:   config,
		logger:   logger,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Initialize はプロバイダのモデル一覧と優先リストから使用モデルを決定します
func (e *Engine) Initialize(ctx context.Context) error {
	models, err := e.listModels(ctx)
	if err != nil {
		var cfgErr *domain.ConfigurationError
		if errors.As(err, &cfgErr) {
			return err
		}
		return fmt.Errorf("failed to list provider models: %w", err)
	}

	candidates := SelectCandidates(e.config.PreferredModels, models)
	if len(candidates) == 0 {
		return &domain.ConfigurationError{Reason: "no compatible text generation model is available", Err: domain.ErrModelNotAvailable}
	}

	e.mu.Lock()
	e.candidates = candidates
	e.model = candidates[0]
	e.initialized = true
	e.mu.Unlock()

	e.logger.Info("Synthesis engine initialized", "model", candidates[0], "candidates", len(candidates))
	return nil
}

// listModels は一時的障害・レート制限の間だけ Generate と同じ予算でリトライします
func (e *Engine) listModels(ctx context.Context) ([]domain.ModelInfo, error) {
	var lastErr error
	for attempt := 1; attempt <= e.config.MaxAttempts; attempt++ {
		models, err := e.provider.ListModels(ctx)
		if err == nil {
			return models, nil
		}
		lastErr = err

		if ctx.Err() != nil || !isRetryable(err) || attempt >= e.config.MaxAttempts {
			break
		}

		wait := e.config.BaseBackoff * time.Duration(1<<(attempt-1))
		var rateErr *domain.RateLimitError
		if errors.As(err, &rateErr) {
			wait = e.rateLimitWait(err, rateErr)
		}
		e.logger.Warn("Listing provider models failed, retrying", "wait", wait, "attempt", attempt, "error", err)
		if sleepErr := e.sleep(ctx, wait); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return nil, lastErr
}

// Model は現在選択されているモデル名を返します
func (e *Engine) Model() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.model
}

// Candidates は試行候補のモデル一覧を返します
func (e *Engine) Candidates() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.candidates...)
}

// Generate はプロンプトからテキストを生成します
func (e *Engine) Generate(ctx context.Context, prompt string) (string, error) {
	return e.GenerateWithHistory(ctx, nil, prompt)
}

// GenerateWithHistory は会話履歴付きでテキストを生成します
func (e *Engine) GenerateWithHistory(ctx context.Context, history []domain.Message, prompt string) (string, error) {
	e.mu.Lock()
	model := e.model
	initialized := e.initialized
	e.mu.Unlock()

	if !initialized {
		return "", &domain.ConfigurationError{Reason: "synthesis engine is not initialized"}
	}

	tried := map[string]bool{model: true}
	var lastErr error
	attempts := 0

	for attempts < e.config.MaxAttempts {
		attempts++

		resp, err := e.provider.Generate(ctx, domain.GenerateRequest{
			Model:       model,
			History:     history,
			Prompt:      prompt,
			Temperature: e.config.Temperature,
			MaxTokens:   e.config.MaxTokens,
		})
		if err == nil {
			return resp.Content, nil
		}
		lastErr = err

		if ctx.Err() != nil || !isRetryable(err) || attempts >= e.config.MaxAttempts {
			break
		}

		var rateErr *domain.RateLimitError
		if errors.As(err, &rateErr) {
			// 別モデルへ切り替えられる場合は待たずに即リトライ
			if next, ok := e.switchModel(model, tried); ok {
				e.logger.Warn("Rate limited, switching model", "from", model, "to", next, "attempt", attempts)
				tried[next] = true
				model = next
				continue
			}

			wait := e.rateLimitWait(err, rateErr)
			e.logger.Warn("Rate limited, waiting before retry", "model", model, "wait", wait, "attempt", attempts)
			if sleepErr := e.sleep(ctx, wait); sleepErr != nil {
				lastErr = sleepErr
				break
			}
			continue
		}

		backoff := e.config.BaseBackoff * time.Duration(1<<(attempts-1))
		e.logger.Warn("Provider call failed, backing off", "model", model, "backoff", backoff, "attempt", attempts, "error", err)
		if sleepErr := e.sleep(ctx, backoff); sleepErr != nil {
			lastErr = sleepErr
			break
		}
	}

	synthErr := &domain.SynthesisError{Model: model, Attempts: attempts, Err: lastErr}
	e.recordFailure(classifyFailure(lastErr), model, prompt, "", synthErr, attempts)
	return "", synthErr
}

// GenerateJSON は生成結果からJSONを取り出して v にデコードします
func (e *Engine) GenerateJSON(ctx context.Context, prompt string, v any) error {
	text, err := e.Generate(ctx, prompt)
	if err != nil {
		return err
	}
	if err := ParseJSON(text, v); err != nil {
		e.recordFailure(domain.FailureKindParse, e.Model(), prompt, text, err, 1)
		return err
	}
	return nil
}

// CountTokens はトークン数を返します
// プロバイダのカウントに失敗した場合は ceil(文字数/4) で概算する
func (e *Engine) CountTokens(ctx context.Context, text string) int {
	n, err := e.provider.CountTokens(ctx, e.Model(), text)
	if err != nil || n < 0 {
		return EstimateTokens(text)
	}
	return n
}

// EstimateTokens は ceil(文字数/4) を返します
func EstimateTokens(text string) int {
	chars := utf8.RuneCountInString(text)
	return (chars + 3) / 4
}

// switchModel は current の次に優先度の高い未試行モデルへ切り替えます
func (e *Engine) switchModel(current string, tried map[string]bool) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := 0
	for i, id := range e.candidates {
		if id == current {
			start = i + 1
			break
		}
	}

	n := len(e.candidates)
	for i := 0; i < n; i++ {
		id := e.candidates[(start+i)%n]
		if !tried[id] {
			e.model = id
			return id, true
		}
	}
	return "", false
}

var retryAfterPattern = regexp.MustCompile(`(?i)(?:retry|try again)\s+(?:in|after)\s+([0-9]+(?:\.[0-9]+)?)\s*(ms|milliseconds?|s|secs?|seconds?)?`)

// rateLimitWait はプロバイダ提示の待機時間（なければ既定値）を上限で丸めて返します
func (e *Engine) rateLimitWait(err error, rateErr *domain.RateLimitError) time.Duration {
	wait := rateErr.RetryAfter
	if wait <= 0 {
		wait = parseRetryAfter(err.Error())
	}
	if wait <= 0 {
		wait = e.config.RateLimitWait
	}
	if wait > e.config.MaxRateLimitWait {
		wait = e.config.MaxRateLimitWait
	}
	return wait
}

// parseRetryAfter はエラーメッセージ中の "retry in 20s" 等から待機時間を読み取ります
func parseRetryAfter(msg string) time.Duration {
	m := retryAfterPattern.FindStringSubmatch(msg)
	if m == nil {
		return 0
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil || value <= 0 {
		return 0
	}
	unit := time.Second
	if len(m) > 2 && (m[2] == "ms" || m[2] == "millisecond" || m[2] == "milliseconds") {
		unit = time.Millisecond
	}
	return time.Duration(value * float64(unit))
}

// isRetryable はリトライ対象のエラーかどうかを判定します
func isRetryable(err error) bool {
	var cfgErr *domain.ConfigurationError
	var transient *domain.TransientProviderError
	switch {
	case errors.As(err, &transient):
		// 1回あたりのタイムアウトも含む
		return true
	case errors.As(err, &cfgErr):
		return false
	case errors.Is(err, domain.ErrInvalidRequest):
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

func classifyFailure(err error) domain.FailureKind {
	switch {
	case errors.Is(err, domain.ErrRateLimitExceeded):
		return domain.FailureKindRateLimit
	case errors.Is(err, context.DeadlineExceeded):
		return domain.FailureKindTimeout
	}
	return domain.FailureKindProvider
}

func (e *Engine) recordFailure(kind domain.FailureKind, model, prompt, response string, err error, attempts int) {
	if e.failures == nil {
		return
	}
	record := domain.FailureRecord{
		Timestamp:    time.Now(),
		Kind:         kind,
		Model:        model,
		Prompt:       truncate(prompt, 500),
		Response:     truncate(response, 500),
		ErrorMessage: err.Error(),
		Attempts:     attempts,
	}
	if recErr := e.failures.RecordFailure(record); recErr != nil {
		e.logger.Warn("Failed to record synthesis failure", "error", recErr)
	}
}

// sleepContext はコンテキストのキャンセルを考慮して待機します
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("retry wait interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
