package domain

import "context"

// Synthesizer はパイプラインが利用する生成エンジンのポートです
type Synthesizer interface {
	// GenerateJSON はプロンプトから構造化データを生成し v にデコードします
	GenerateJSON(ctx context.Context, prompt string, v any) error
	// CountTokens はテキストのトークン数を返します
	CountTokens(ctx context.Context, text string) int
	// Model は現在使用中のモデル名を返します
	Model() string
}

// SynthesizerFactory はジョブごとに初期化済みの Synthesizer を生成します
type SynthesizerFactory func(ctx context.Context) (Synthesizer, error)
