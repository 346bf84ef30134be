package application_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jinford/code-archaeologist/internal/module/excavation/application"
	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
	testutil "github.com/jinford/code-archaeologist/internal/module/excavation/testing"
	llmdomain "github.com/jinford/code-archaeologist/internal/module/llm/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testRepository = "https://github.com/example/legacy.git"

// manualLauncher は起動されたタスクを保持し、テストから明示的に実行します
type manualLauncher struct {
	mu    sync.Mutex
	tasks []func()
}

func (l *manualLauncher) launch(task func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tasks = append(l.tasks, task)
}

func (l *manualLauncher) runAll() {
	l.mu.Lock()
	tasks := l.tasks
	l.tasks = nil
	l.mu.Unlock()
	for _, task := range tasks {
		task()
	}
}

type managerFixture struct {
	store     domain.JobStore
	events    *testutil.MockEventRecorder
	accessor  *testutil.MockRepositoryAccessor
	workspace *testutil.MockWorkspace
	synth     *testutil.MockSynthesizer
	factory   domain.SynthesizerFactory
	launcher  *manualLauncher
}

func newManagerFixture(t *testing.T, units int) *managerFixture {
	t.Helper()
	f := &managerFixture{
		store:     newMemoryStore(t),
		events:    &testutil.MockEventRecorder{},
		workspace: workspaceWith(testutil.TestCommitUnits(units)),
		synth: testutil.ScriptedSynthesizer(func(prompt string) (string, error) {
			return testutil.TestAnalysisJSON("explains the change", "Early scaffolding"), nil
		}),
		launcher: &manualLauncher{},
	}
	f.accessor = &testutil.MockRepositoryAccessor{
		AcquireFunc: func(ctx context.Context, reference string, opts domain.JobOptions) (domain.Workspace, error) {
			return f.workspace, nil
		},
	}
	f.factory = func(ctx context.Context) (domain.Synthesizer, error) {
		return f.synth, nil
	}
	return f
}

func (f *managerFixture) manager(opts ...application.JobManagerOption) *application.JobManager {
	pipeline := application.NewPipeline(f.store, f.events, testLogger(), 0)
	opts = append([]application.JobManagerOption{application.WithLauncher(f.launcher.launch)}, opts...)
	return application.NewJobManager(f.store, f.accessor, f.factory, pipeline, f.events, testLogger(), opts...)
}

func TestJobManager_Submit_PendingBeforeRunning(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newManagerFixture(t, 3)
	manager := f.manager()

	// Execute
	job, err := manager.Submit(ctx, testRepository, domain.JobOptions{MaxUnits: 3})

	// Assert
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, job.Status)
	assert.Equal(t, 0, job.Progress)

	polled, err := manager.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusPending, polled.Status)

	f.launcher.runAll()

	done, err := manager.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, done.Status)
	assert.Equal(t, 100, done.Progress)
	require.NotNil(t, done.Result)
	assert.Nil(t, done.Error)
	assert.Equal(t, 3, done.Result.UnitsAnalyzed)
	assert.Equal(t, 1, f.workspace.Released())

	assert.Equal(t, []domain.EventType{
		domain.EventJobSubmitted,
		domain.EventJobStarted,
		domain.EventJobCompleted,
	}, f.events.Types())
}

func TestJobManager_Submit_AppliesDefaults(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, 1)
	manager := f.manager()

	job, err := manager.Submit(ctx, "  "+testRepository+"  ", domain.JobOptions{})

	require.NoError(t, err)
	assert.Equal(t, testRepository, job.Repository)
	assert.Equal(t, domain.DefaultMaxUnits, job.Options.MaxUnits)
	assert.Equal(t, domain.UnitModeCommits, job.Options.Mode)
}

func TestJobManager_Submit_ValidationError(t *testing.T) {
	tests := []struct {
		name     string
		validate func(string) error
		opts     domain.JobOptions
		field    string
	}{
		{
			name: "不正なリポジトリ参照",
			validate: func(string) error {
				return &domain.ValidationError{Field: "repository", Reason: "not a valid git URL"}
			},
			field: "repository",
		},
		{
			name:  "maxUnitsが上限超過",
			opts:  domain.JobOptions{MaxUnits: 1000},
			field: "options.maxUnits",
		},
		{
			name:  "不明なモード",
			opts:  domain.JobOptions{Mode: "symbols"},
			field: "options.mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newManagerFixture(t, 1)
			f.accessor.ValidateFunc = tt.validate
			manager := f.manager()

			job, err := manager.Submit(ctx, testRepository, tt.opts)

			assert.Nil(t, job)
			var vErr *domain.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)

			// ジョブは作成されない
			list, err := manager.List(ctx)
			require.NoError(t, err)
			assert.Empty(t, list)
			assert.Empty(t, f.events.Events())
		})
	}
}

func TestJobManager_Failures(t *testing.T) {
	tests := []struct {
		name         string
		arrange      func(f *managerFixture)
		wantMessage  string
		wantReleased int
	}{
		{
			name: "互換モデルがない",
			arrange: func(f *managerFixture) {
				f.factory = func(ctx context.Context) (domain.Synthesizer, error) {
					return nil, &llmdomain.ConfigurationError{Reason: "no compatible text generation model is available", Err: llmdomain.ErrModelNotAvailable}
				}
			},
			wantMessage:  "no compatible model available",
			wantReleased: 0,
		},
		{
			name: "リポジトリを取得できない",
			arrange: func(f *managerFixture) {
				f.accessor.AcquireFunc = func(ctx context.Context, reference string, opts domain.JobOptions) (domain.Workspace, error) {
					return nil, errors.New("authentication required: ssh key /etc/secret/id_rsa rejected")
				}
			},
			wantMessage:  "repository could not be accessed",
			wantReleased: 0,
		},
		{
			name: "解析単位を取得できない",
			arrange: func(f *managerFixture) {
				f.workspace.UnitsFunc = func(ctx context.Context, opts domain.JobOptions) ([]domain.AnalysisUnit, error) {
					return nil, errors.New("packfile corrupted")
				}
			},
			wantMessage:  "analysis units could not be read from the repository",
			wantReleased: 1,
		},
		{
			name: "パイプライン内のパニック",
			arrange: func(f *managerFixture) {
				f.synth.GenerateJSONFunc = func(ctx context.Context, prompt string, v any) error {
					panic("nil map write")
				}
			},
			wantMessage:  "internal error during excavation",
			wantReleased: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Setup
			ctx := context.Background()
			f := newManagerFixture(t, 2)
			tt.arrange(f)
			manager := f.manager()

			// Execute
			job, err := manager.Submit(ctx, testRepository, domain.JobOptions{})
			require.NoError(t, err)
			f.launcher.runAll()

			// Assert
			got, err := manager.Get(ctx, job.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.JobStatusFailed, got.Status)
			require.NotNil(t, got.Error)
			assert.Equal(t, tt.wantMessage, *got.Error)
			assert.Nil(t, got.Result)
			assert.Equal(t, tt.wantReleased, f.workspace.Released())

			types := f.events.Types()
			assert.Equal(t, domain.EventJobFailed, types[len(types)-1])

			_, err = manager.Report(ctx, job.ID)
			var notReady *domain.ReportNotReadyError
			require.ErrorAs(t, err, &notReady)
			assert.Equal(t, domain.JobStatusFailed, notReady.Status)
			require.NotNil(t, notReady.JobError)
			assert.Equal(t, tt.wantMessage, *notReady.JobError)
		})
	}
}

func TestJobManager_Report(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, 2)
	manager := f.manager()

	job, err := manager.Submit(ctx, testRepository, domain.JobOptions{})
	require.NoError(t, err)

	// 完了前は現在の状態を返す
	_, err = manager.Report(ctx, job.ID)
	var notReady *domain.ReportNotReadyError
	require.ErrorAs(t, err, &notReady)
	assert.Equal(t, domain.JobStatusPending, notReady.Status)
	assert.Nil(t, notReady.JobError)

	f.launcher.runAll()

	report, err := manager.Report(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.UnitsAnalyzed)
	assert.Equal(t, domain.ConfidenceFull, report.Confidence)

	_, err = manager.Report(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
}

func TestJobManager_TerminalSnapshotIsStable(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, 2)
	manager := f.manager()

	job, err := manager.Submit(ctx, testRepository, domain.JobOptions{})
	require.NoError(t, err)
	f.launcher.runAll()

	first, err := manager.Get(ctx, job.ID)
	require.NoError(t, err)
	second, err := manager.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	// 終端状態への追加の書き込みは拒否される
	err = f.store.Update(ctx, job.ID, domain.FailedPatch("late"))
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestJobManager_ConcurrentJobsAreIsolated(t *testing.T) {
	// Setup
	ctx := context.Background()
	f := newManagerFixture(t, 3)
	f.accessor.AcquireFunc = func(ctx context.Context, reference string, opts domain.JobOptions) (domain.Workspace, error) {
		if reference == "https://github.com/example/broken.git" {
			return nil, errors.New("repository not found")
		}
		return workspaceWith(testutil.TestCommitUnits(3)), nil
	}
	pipeline := application.NewPipeline(f.store, f.events, testLogger(), 0)
	manager := application.NewJobManager(f.store, f.accessor, f.factory, pipeline, f.events, testLogger())

	// Execute
	good, err := manager.Submit(ctx, testRepository, domain.JobOptions{})
	require.NoError(t, err)
	bad, err := manager.Submit(ctx, "https://github.com/example/broken.git", domain.JobOptions{})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, manager.Wait(waitCtx, good.ID))
	require.NoError(t, manager.Wait(waitCtx, bad.ID))

	// Assert
	goodJob, err := manager.Get(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, goodJob.Status)

	badJob, err := manager.Get(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, badJob.Status)

	require.NoError(t, manager.Shutdown(waitCtx))
}

func TestJobManager_SubmitterCancellationDoesNotStopJob(t *testing.T) {
	f := newManagerFixture(t, 2)
	manager := f.manager()

	reqCtx, cancel := context.WithCancel(context.Background())
	job, err := manager.Submit(reqCtx, testRepository, domain.JobOptions{})
	require.NoError(t, err)
	cancel()

	f.launcher.runAll()

	got, err := manager.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCompleted, got.Status)
}

func TestJobManager_Wait(t *testing.T) {
	ctx := context.Background()
	f := newManagerFixture(t, 1)
	manager := f.manager()

	job, err := manager.Submit(ctx, testRepository, domain.JobOptions{})
	require.NoError(t, err)

	// タスクが終わるまで待ち続ける
	shortCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, manager.Wait(shortCtx, job.ID), context.DeadlineExceeded)

	f.launcher.runAll()
	assert.NoError(t, manager.Wait(ctx, job.ID))
	assert.ErrorIs(t, manager.Wait(ctx, "missing"), domain.ErrJobNotFound)
}
