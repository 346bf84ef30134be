package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jinford/code-archaeologist/internal/module/excavation/adapter/eventlog"
	"github.com/jinford/code-archaeologist/internal/module/excavation/adapter/git"
	"github.com/jinford/code-archaeologist/internal/module/excavation/adapter/store"
	"github.com/jinford/code-archaeologist/internal/module/excavation/application"
	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
	llmadapter "github.com/jinford/code-archaeologist/internal/module/llm/adapter"
	llmapp "github.com/jinford/code-archaeologist/internal/module/llm/application"
	llmdomain "github.com/jinford/code-archaeologist/internal/module/llm/domain"
	"github.com/jinford/code-archaeologist/internal/platform/config"
	"github.com/jinford/code-archaeologist/internal/platform/database"
)

// Container はアプリケーションの依存関係を保持する。
type Container struct {
	JobManager   *application.JobManager
	Events       *eventlog.Log
	Store        domain.JobStore
	StoreBackend domain.StoreBackend

	config     *config.Config
	logger     *slog.Logger
	engines    *llmapp.EngineFactory
	engineErr  error
	opened     *store.Opened
	failureLog *llmadapter.FailureLog
}

type containerOptions struct {
	logger   *slog.Logger
	provider llmdomain.Provider
	accessor domain.RepositoryAccessor
	launcher application.Launcher

	allowLocal bool
}

// Option は Container 構築時のオプション
type Option func(*containerOptions)

// WithLogger はロガーを差し替える
func WithLogger(logger *slog.Logger) Option {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithProvider は LLM プロバイダを差し替える
func WithProvider(provider llmdomain.Provider) Option {
	return func(opts *containerOptions) {
		opts.provider = provider
	}
}

// WithRepositoryAccessor はリポジトリアクセサを差し替える
func WithRepositoryAccessor(accessor domain.RepositoryAccessor) Option {
	return func(opts *containerOptions) {
		opts.accessor = accessor
	}
}

// WithLocalRepositories は設定に関わらずローカルリポジトリの解析を許可する
// 手元で実行するCLI向けで、HTTPサーバーでは使わない
func WithLocalRepositories() Option {
	return func(opts *containerOptions) {
		opts.allowLocal = true
	}
}

// WithLauncher はジョブタスクの起動方法を差し替える
func WithLauncher(launcher application.Launcher) Option {
	return func(opts *containerOptions) {
		opts.launcher = launcher
	}
}

// New は設定からコンテナを生成する。
// ストアの選択はここで1回だけ行う。
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Container, error) {
	options := containerOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	logger := options.logger

	// JobStore
	opened, err := store.Open(ctx, store.Config{
		Backend: store.Backend(cfg.JobStore.Backend),
		Database: database.ConnectionParams{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		},
		ConnectTimeout: cfg.Database.ConnectTimeout,
		TTL:            cfg.JobStore.TTL,
		ReapInterval:   cfg.JobStore.ReapInterval,
		MemoryCapacity: cfg.JobStore.MemoryCapacity,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("ジョブストア初期化に失敗しました: %w", err)
	}

	c := &Container{
		Events:       eventlog.New(cfg.Excavation.EventLogCapacity),
		Store:        opened.Store,
		StoreBackend: opened.Backend,
		config:       cfg,
		logger:       logger,
		opened:       opened,
	}

	// LLM (OpenAI互換 + スロットリング + 失敗ログ)
	failureLog, err := llmadapter.NewFailureLog(cfg.LLM.ErrorLogDir, logger)
	if err != nil {
		opened.Close()
		return nil, fmt.Errorf("失敗ログ初期化に失敗しました: %w", err)
	}
	c.failureLog = failureLog

	provider := options.provider
	if provider == nil {
		openaiProvider, err := llmadapter.NewOpenAIProvider(cfg.LLM.APIKey, cfg.LLM.BaseURL)
		if err != nil {
			// 認証情報がない場合も起動は続け、ジョブ実行時に失敗として報告する
			logger.Warn("LLM provider is not configured", "error", err)
			c.engineErr = err
		} else {
			if cfg.LLM.Timeout > 0 {
				openaiProvider.SetTimeout(cfg.LLM.Timeout)
			}
			provider = openaiProvider
		}
	}
	if provider != nil {
		engineConfig := llmapp.DefaultEngineConfig()
		if len(cfg.LLM.PreferredModels) > 0 {
			engineConfig.PreferredModels = cfg.LLM.PreferredModels
		}
		engineConfig.Temperature = cfg.LLM.Temperature
		if cfg.LLM.MaxTokens > 0 {
			engineConfig.MaxTokens = cfg.LLM.MaxTokens
		}
		throttled := llmadapter.NewThrottledProvider(provider, cfg.LLM.RequestsPerMinute)
		c.engines = llmapp.NewEngineFactory(throttled, engineConfig, logger, llmapp.WithFailureRecorder(failureLog))
	}

	// RepositoryAccessor (Git)
	accessor := options.accessor
	if accessor == nil {
		gitClient := git.NewGitClient(cfg.Git.SSHKeyPath, cfg.Git.SSHPassword)
		accessor = git.NewAccessor(gitClient, git.AccessorConfig{
			WorkDir:           cfg.Git.WorkDir,
			MaxHistoryCommits: cfg.Excavation.MaxHistory,
			HistoryDepth:      cfg.Excavation.HistoryDepth,
			AllowLocal:        cfg.Git.AllowLocalRepositories || options.allowLocal,
		}, logger)
	}

	// JobManager
	pipeline := application.NewPipeline(c.Store, c.Events, logger, cfg.Excavation.MaxPromptTokens)
	managerOpts := []application.JobManagerOption{application.WithMaxUnitsLimit(cfg.Excavation.MaxUnitsLimit)}
	if options.launcher != nil {
		managerOpts = append(managerOpts, application.WithLauncher(options.launcher))
	}
	c.JobManager = application.NewJobManager(c.Store, accessor, c.NewSynthesizer, pipeline, c.Events, logger, managerOpts...)

	logger.Info("Container initialized", "storeBackend", c.StoreBackend, "llmConfigured", c.engines != nil)
	return c, nil
}

// NewSynthesizer はジョブ用に初期化済みの生成エンジンを返す。
func (c *Container) NewSynthesizer(ctx context.Context) (domain.Synthesizer, error) {
	engine, err := c.NewEngine(ctx)
	if err != nil {
		return nil, err
	}
	return engine, nil
}

// NewEngine はモデル選択まで済ませた生成エンジンを返す。
func (c *Container) NewEngine(ctx context.Context) (*llmapp.Engine, error) {
	if c.engines == nil {
		if c.engineErr != nil {
			return nil, c.engineErr
		}
		return nil, &llmdomain.ConfigurationError{Reason: "provider credentials are missing", Err: llmadapter.ErrAPIKeyNotSet}
	}
	return c.engines.NewEngine(ctx)
}

// Shutdown は実行中のジョブを待ってからリソースを解放する。
func (c *Container) Shutdown(ctx context.Context) error {
	err := c.JobManager.Shutdown(ctx)
	c.Close()
	return err
}

// Close は内部リソースを解放する。
func (c *Container) Close() {
	if c == nil {
		return
	}
	if c.opened != nil {
		c.opened.Close()
	}
	if c.failureLog != nil {
		if err := c.failureLog.Close(); err != nil {
			c.Logger().Warn("Failed to close failure log", "error", err)
		}
	}
}

// Logger はロガーを返す。
func (c *Container) Logger() *slog.Logger {
	if c == nil || c.logger == nil {
		return slog.Default()
	}
	return c.logger
}

// Config は設定を返す。
func (c *Container) Config() *config.Config {
	return c.config
}
