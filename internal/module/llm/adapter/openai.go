package adapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jinford/code-archaeologist/internal/module/llm/domain"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const (
	// DefaultTimeout はAPI呼び出し1回あたりのデフォルトタイムアウト
	DefaultTimeout = 60 * time.Second
)

var (
	// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
	ErrAPIKeyNotSet = errors.New("LLM API key not set")
)

// OpenAIProvider はOpenAI互換APIを使用した domain.Provider 実装
// リトライはSynthesisEngine側で制御するため、SDKのリトライは無効化する
type OpenAIProvider struct {
	client  openai.Client
	tokens  *TokenCounter
	timeout time.Duration
}

// NewOpenAIProvider はAPIキーとベースURLを指定してOpenAIProviderを作成する
func NewOpenAIProvider(apiKey, baseURL string) (*OpenAIProvider, error) {
	if apiKey == "" {
		return nil, &domain.ConfigurationError{Reason: "provider credentials are missing", Err: ErrAPIKeyNotSet}
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIProvider{
		client:  openai.NewClient(opts...),
		tokens:  NewTokenCounter(),
		timeout: DefaultTimeout,
	}, nil
}

// SetTimeout はAPIコールのタイムアウトを設定する
func (p *OpenAIProvider) SetTimeout(timeout time.Duration) {
	p.timeout = timeout
}

// ListModels は利用可能なモデル一覧を返す
func (p *OpenAIProvider) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	page, err := p.client.Models.List(callCtx)
	if err != nil {
		return nil, classifyError(ctx, "", err)
	}

	models := make([]domain.ModelInfo, 0, len(page.Data))
	for _, m := range page.Data {
		models = append(models, domain.ModelInfo{ID: m.ID})
	}
	return models, nil
}

// Generate はChatCompletion APIでテキストを生成する
func (p *OpenAIProvider) Generate(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResponse, error) {
	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.History)+1)
	for _, m := range req.History {
		switch m.Role {
		case domain.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	messages = append(messages, openai.UserMessage(req.Prompt))

	params := openai.ChatCompletionNewParams{
		Model:       shared.ChatModel(req.Model),
		Messages:    messages,
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	completion, err := p.client.Chat.Completions.New(callCtx, params)
	if err != nil {
		return domain.GenerateResponse{}, classifyError(ctx, req.Model, err)
	}

	if len(completion.Choices) == 0 {
		return domain.GenerateResponse{}, &domain.TransientProviderError{Err: errors.New("no completion choices returned")}
	}

	return domain.GenerateResponse{
		Content:    completion.Choices[0].Message.Content,
		TokensUsed: int(completion.Usage.TotalTokens),
		Model:      string(completion.Model),
	}, nil
}

// CountTokens はtiktokenでトークン数を数える
func (p *OpenAIProvider) CountTokens(ctx context.Context, model, text string) (int, error) {
	return p.tokens.Count(model, text)
}

// classifyError はSDKのエラーをドメインのエラー分類に変換する
// ctx は呼び出し元のコンテキストで、1回あたりのタイムアウトは含まない
func classifyError(ctx context.Context, model string, err error) error {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		if ctx.Err() != nil {
			return fmt.Errorf("provider call aborted: %w", ctx.Err())
		}
		// ネットワーク系のエラーと1回あたりのタイムアウト
		return &domain.TransientProviderError{Err: err}
	}

	switch code := apiErr.StatusCode; {
	case code == http.StatusTooManyRequests:
		return &domain.RateLimitError{Model: model, RetryAfter: retryAfter(apiErr.Response), Err: err}
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return &domain.ConfigurationError{Reason: "provider rejected credentials", Err: err}
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %w: %w", domain.ErrInvalidRequest, domain.ErrModelNotAvailable, err)
	case code == http.StatusRequestTimeout || code == http.StatusConflict || code >= 500:
		return &domain.TransientProviderError{StatusCode: code, Err: err}
	case code >= 400:
		return fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}

	return &domain.TransientProviderError{StatusCode: apiErr.StatusCode, Err: err}
}

// retryAfter はレスポンスヘッダから待機時間を読み取る（不明な場合は0）
func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}

	if v := resp.Header.Get("retry-after-ms"); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms > 0 {
			return time.Duration(ms * float64(time.Millisecond))
		}
	}

	if v := resp.Header.Get("retry-after"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
		if at, err := http.ParseTime(v); err == nil {
			if d := time.Until(at); d > 0 {
				return d
			}
		}
	}

	// x-ratelimit-reset-requests: "1s", "6m0s" 形式
	if v := resp.Header.Get("x-ratelimit-reset-requests"); v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil && d > 0 {
			return d
		}
	}

	return 0
}

// インターフェース実装の確認
var _ domain.Provider = (*OpenAIProvider)(nil)
