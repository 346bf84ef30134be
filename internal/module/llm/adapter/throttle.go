package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/jinford/code-archaeologist/internal/module/llm/domain"
	"golang.org/x/time/rate"
)

// ThrottledProvider は1分あたりのリクエスト数を制限する domain.Provider のラッパー
type ThrottledProvider struct {
	next    domain.Provider
	limiter *rate.Limiter
}

// NewThrottledProvider は新しいThrottledProviderを作成する
// requestsPerMinute が0以下の場合は制限しない
func NewThrottledProvider(next domain.Provider, requestsPerMinute int) *ThrottledProvider {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(requestsPerMinute))
	}
	return &ThrottledProvider{
		next:    next,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// ListModels はモデル一覧を返す（制限対象外）
func (p *ThrottledProvider) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	return p.next.ListModels(ctx)
}

// Generate は実行枠を待ってから生成を行う
func (p *ThrottledProvider) Generate(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return domain.GenerateResponse{}, fmt.Errorf("failed to wait for request slot: %w", err)
	}
	return p.next.Generate(ctx, req)
}

// CountTokens はトークン数を返す（制限対象外）
func (p *ThrottledProvider) CountTokens(ctx context.Context, model, text string) (int, error) {
	return p.next.CountTokens(ctx, model, text)
}

var _ domain.Provider = (*ThrottledProvider)(nil)
