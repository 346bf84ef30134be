package domain

import "context"

// Role は会話履歴メッセージの話者です
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message は会話履歴の1メッセージです
type Message struct {
	Role    Role
	Content string
}

// ModelInfo はプロバイダが提供するモデルの情報です
type ModelInfo struct {
	ID string
}

// GenerateRequest はプロバイダへの生成リクエストです
type GenerateRequest struct {
	// Model は使用するモデル名
	Model string

	// History は先行する会話履歴（省略可）
	History []Message

	// Prompt はLLMに送信するプロンプト
	Prompt string

	// Temperature は生成の多様性を制御する (0.0-2.0)
	Temperature float64

	// MaxTokens は生成する最大トークン数（0 はプロバイダ既定）
	MaxTokens int
}

// GenerateResponse はプロバイダからのレスポンスです
type GenerateResponse struct {
	// Content は生成されたテキスト
	Content string

	// TokensUsed は使用されたトークン数
	TokensUsed int

	// Model は実際に使用されたモデル名
	Model string
}

// Provider は外部の生成モデルプロバイダへのポートです
// レート制限は *RateLimitError、一時的障害は *TransientProviderError で区別して返すこと
type Provider interface {
	// ListModels は現在利用可能なモデル一覧を返す
	ListModels(ctx context.Context) ([]ModelInfo, error)

	// Generate はプロンプトに基づいてテキストを生成する
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)

	// CountTokens はテキストのトークン数を返す
	CountTokens(ctx context.Context, model, text string) (int, error)
}
