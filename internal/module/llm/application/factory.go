package application

import (
	"context"
	"log/slog"

	"github.com/jinford/code-archaeologist/internal/module/llm/domain"
)

// EngineFactory はジョブごとに初期化済みのEngineを生成します
// モデル切り替えの状態をジョブ間で共有しないため、シングルトンにはしない
type EngineFactory struct {
	provider domain.Provider
	config   EngineConfig
	logger   *slog.Logger
	opts     []EngineOption
}

// NewEngineFactory は新しいEngineFactoryを作成します
func NewEngineFactory(provider domain.Provider, config EngineConfig, logger *slog.Logger, opts ...EngineOption) *EngineFactory {
	return &EngineFactory{
		provider: provider,
		config:   config,
		logger:   logger,
		opts:     opts,
	}
}

// NewEngine はEngineを作成し Initialize まで済ませて返します
func (f *EngineFactory) NewEngine(ctx context.Context) (*Engine, error) {
	engine := NewEngine(f.provider, f.config, f.logger, f.opts...)
	if err := engine.Initialize(ctx); err != nil {
		return nil, err
	}
	return engine, nil
}
