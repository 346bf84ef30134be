package container

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
	testutil "github.com/jinford/code-archaeologist/internal/module/excavation/testing"
	llmdomain "github.com/jinford/code-archaeologist/internal/module/llm/domain"
	"github.com/jinford/code-archaeologist/internal/platform/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeProvider はモデル一覧と固定応答を返すプロバイダです
type fakeProvider struct {
	mu     sync.Mutex
	models []llmdomain.ModelInfo
	calls  int
}

func (p *fakeProvider) ListModels(ctx context.Context) ([]llmdomain.ModelInfo, error) {
	return p.models, nil
}

func (p *fakeProvider) Generate(ctx context.Context, req llmdomain.GenerateRequest) (llmdomain.GenerateResponse, error) {
	p.mu.Lock()
	p.calls++
	p.mu.Unlock()
	return llmdomain.GenerateResponse{
		Content: testutil.TestAnalysisJSON("adds the order workflow", "Order intake"),
		Model:   req.Model,
	}, nil
}

func (p *fakeProvider) CountTokens(ctx context.Context, model, text string) (int, error) {
	return len(text) / 4, nil
}

func testConfig() *config.Config {
	return &config.Config{
		JobStore: config.JobStoreConfig{Backend: "memory", MemoryCapacity: 10},
		LLM:      config.LLMConfig{PreferredModels: []string{"gpt-4o-mini"}, Temperature: 0.2},
		Excavation: config.ExcavationConfig{
			MaxPromptTokens:  6000,
			MaxUnitsLimit:    50,
			EventLogCapacity: 10,
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testAccessor() *testutil.MockRepositoryAccessor {
	return &testutil.MockRepositoryAccessor{
		AcquireFunc: func(ctx context.Context, reference string, opts domain.JobOptions) (domain.Workspace, error) {
			return &testutil.MockWorkspace{
				UnitsFunc: func(ctx context.Context, opts domain.JobOptions) ([]domain.AnalysisUnit, error) {
					return testutil.TestCommitUnits(opts.MaxUnits), nil
				},
			}, nil
		},
	}
}

func TestNew_EndToEnd(t *testing.T) {
	// Setup
	ctx := context.Background()
	provider := &fakeProvider{models: []llmdomain.ModelInfo{{ID: "gpt-4o-mini"}, {ID: "text-embedding-3-small"}}}
	c, err := New(ctx, testConfig(),
		WithLogger(testLogger()),
		WithProvider(provider),
		WithRepositoryAccessor(testAccessor()),
	)
	require.NoError(t, err)
	defer c.Close()
	assert.Equal(t, domain.StoreBackendMemory, c.StoreBackend)

	// Execute
	job, err := c.JobManager.Submit(ctx, "https://github.com/example/shop.git", domain.JobOptions{MaxUnits: 3})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.JobManager.Wait(waitCtx, job.ID))

	// Assert
	report, err := c.JobManager.Report(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", report.Model)
	assert.Equal(t, 3, report.UnitsAnalyzed)
	assert.Equal(t, domain.ConfidenceFull, report.Confidence)
	require.Len(t, report.Layers, 1)
	assert.Equal(t, "Order intake", report.Layers[0].Name)
	assert.Equal(t, 3, provider.calls)

	events := c.Events.Recent(0)
	require.NotEmpty(t, events)
	assert.Equal(t, domain.EventJobCompleted, events[0].Type)

	require.NoError(t, c.Shutdown(waitCtx))
}

func TestNew_WithoutCredentials(t *testing.T) {
	ctx := context.Background()
	c, err := New(ctx, testConfig(), WithLogger(testLogger()), WithRepositoryAccessor(testAccessor()))
	require.NoError(t, err)
	defer c.Close()

	_, err = c.NewEngine(ctx)
	var cfgErr *llmdomain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)

	// ジョブは受け付けられ、モデルがない旨で失敗する
	job, err := c.JobManager.Submit(ctx, "https://github.com/example/shop.git", domain.JobOptions{})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, c.JobManager.Wait(waitCtx, job.ID))

	got, err := c.JobManager.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, "no compatible model available", *got.Error)
}

func TestNew_NoCompatibleModel(t *testing.T) {
	ctx := context.Background()
	provider := &fakeProvider{models: []llmdomain.ModelInfo{{ID: "text-embedding-3-small"}, {ID: "whisper-1"}}}
	c, err := New(ctx, testConfig(), WithLogger(testLogger()), WithProvider(provider))
	require.NoError(t, err)
	defer c.Close()

	synth, err := c.NewSynthesizer(ctx)
	assert.Nil(t, synth)
	var cfgErr *llmdomain.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.ErrorIs(t, err, llmdomain.ErrModelNotAvailable)
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := testConfig()
	cfg.JobStore.Backend = "redis"

	_, err := New(context.Background(), cfg, WithLogger(testLogger()))
	assert.Error(t, err)
}
