package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"

	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
	llmdomain "github.com/jinford/code-archaeologist/internal/module/llm/domain"
)

// Launcher はジョブのタスクを起動します（既定は goroutine）
type Launcher func(task func())

// JobManager はジョブの投入と状態遷移を管理します
// 各ジョブのパイプラインは JobManager が所有するタスクとして実行され、
// タスク内のエラーやパニックはすべてジョブの error として書き戻される
type JobManager struct {
	store        domain.JobStore
	accessor     domain.RepositoryAccessor
	synthesizers domain.SynthesizerFactory
	pipeline     *Pipeline
	events       domain.EventRecorder
	logger       *slog.Logger

	maxUnitsLimit int
	launch        Launcher

	mu    sync.Mutex
	tasks map[string]chan struct{}
	wg    sync.WaitGroup
}

// JobManagerOption はJobManager構築時のオプションです
type JobManagerOption func(*JobManager)

// WithLauncher はタスクの起動方法を差し替えます
func WithLauncher(launch Launcher) JobManagerOption {
	return func(m *JobManager) {
		m.launch = launch
	}
}

// WithMaxUnitsLimit は maxUnits の上限を設定します
func WithMaxUnitsLimit(limit int) JobManagerOption {
	return func(m *JobManager) {
		m.maxUnitsLimit = limit
	}
}

// NewJobManager は新しいJobManagerを作成します
func NewJobManager(
	store domain.JobStore,
	accessor domain.RepositoryAccessor,
	synthesizers domain.SynthesizerFactory,
	pipeline *Pipeline,
	events domain.EventRecorder,
	logger *slog.Logger,
	opts ...JobManagerOption,
) *JobManager {
	m := &JobManager{
		store:         store,
		accessor:      accessor,
		synthesizers:  synthesizers,
		pipeline:      pipeline,
		events:        events,
		logger:        logger,
		maxUnitsLimit: domain.MaxUnitsLimit,
		launch:        func(task func()) { go task() },
		tasks:         make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit は入力を検証してジョブを作成し、パイプラインを起動して直ちに返します
// 返されるジョブは常に Pending のスナップショット
func (m *JobManager) Submit(ctx context.Context, repository string, opts domain.JobOptions) (*domain.Job, error) {
	repository = strings.TrimSpace(repository)
	if err := m.accessor.Validate(repository); err != nil {
		return nil, err
	}

	normalized, err := opts.Normalize(m.maxUnitsLimit)
	if err != nil {
		return nil, err
	}

	job, err := m.store.Create(ctx, domain.JobSpec{Repository: repository, Options: normalized})
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}
	snapshot := job.Clone()

	m.events.Add(domain.Event{
		Type:    domain.EventJobSubmitted,
		Message: fmt.Sprintf("Excavation submitted for %s", repository),
		JobID:   job.ID,
	})
	m.logger.Info("Excavation submitted", "jobID", job.ID, "repository", repository, "maxUnits", normalized.MaxUnits, "mode", normalized.Mode)

	done := make(chan struct{})
	m.mu.Lock()
	m.tasks[job.ID] = done
	m.mu.Unlock()
	m.wg.Add(1)

	// 投入元のリクエストが終わってもジョブは最後まで実行する
	taskCtx := context.WithoutCancel(ctx)
	m.launch(func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			delete(m.tasks, job.ID)
			m.mu.Unlock()
			close(done)
		}()
		m.run(taskCtx, job)
	})

	return snapshot, nil
}

// Get はジョブの最新スナップショットを返します（実行中のタスクを待たない）
func (m *JobManager) Get(ctx context.Context, id string) (*domain.Job, error) {
	return m.store.Get(ctx, id)
}

// List はジョブの一覧を返します
func (m *JobManager) List(ctx context.Context) ([]domain.JobSummary, error) {
	return m.store.List(ctx)
}

// Report は完了済みジョブの結果を返します
// 完了していない場合は ReportNotReadyError に現在の状態を載せて返す
func (m *JobManager) Report(ctx context.Context, id string) (*domain.ExcavationResult, error) {
	job, err := m.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusCompleted || job.Result == nil {
		return nil, &domain.ReportNotReadyError{JobID: job.ID, Status: job.Status, JobError: job.Error}
	}
	return job.Result, nil
}

// Wait はジョブのタスクが終了するまで待ちます
func (m *JobManager) Wait(ctx context.Context, id string) error {
	m.mu.Lock()
	done, running := m.tasks[id]
	m.mu.Unlock()

	if !running {
		// 終了済み、または他プロセスのジョブ
		_, err := m.store.Get(ctx, id)
		return err
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown は実行中のタスクがすべて終わるまで待ちます（ctx の期限まで）
func (m *JobManager) Shutdown(ctx context.Context) error {
	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("jobs still running at shutdown: %w", ctx.Err())
	}
}

// run はジョブ1件のタスク本体です
func (m *JobManager) run(ctx context.Context, job *domain.Job) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Excavation panicked", "jobID", job.ID, "panic", r, "stack", string(debug.Stack()))
			m.fail(ctx, job.ID, &domain.UnrecoverablePipelineError{
				Stage:   domain.StageInternal,
				Message: "internal error during excavation",
				Err:     fmt.Errorf("panic: %v", r),
			})
		}
	}()

	result, err := m.execute(ctx, job)
	if err != nil {
		m.fail(ctx, job.ID, err)
		return
	}
	m.complete(ctx, job.ID, result)
}

func (m *JobManager) execute(ctx context.Context, job *domain.Job) (*domain.ExcavationResult, error) {
	if err := m.store.Update(ctx, job.ID, domain.StatusPatch(domain.JobStatusRunning, "Initializing synthesis engine")); err != nil {
		return nil, fmt.Errorf("failed to mark job running: %w", err)
	}
	m.events.Add(domain.Event{
		Type:    domain.EventJobStarted,
		Message: fmt.Sprintf("Excavation started for %s", job.Repository),
		JobID:   job.ID,
	})

	synth, err := m.synthesizers(ctx)
	if err != nil {
		var cfgErr *llmdomain.ConfigurationError
		if errors.As(err, &cfgErr) {
			return nil, &domain.UnrecoverablePipelineError{Stage: domain.StageSynthesis, Message: "no compatible model available", Err: err}
		}
		return nil, &domain.UnrecoverablePipelineError{Stage: domain.StageSynthesis, Message: "synthesis engine could not be initialized", Err: err}
	}

	if err := m.store.Update(ctx, job.ID, domain.ProgressPatch(0, "Acquiring repository")); err != nil {
		m.logger.Warn("Failed to persist progress", "jobID", job.ID, "error", err)
	}

	ws, err := m.accessor.Acquire(ctx, job.Repository, job.Options)
	if err != nil {
		return nil, &domain.UnrecoverablePipelineError{Stage: domain.StageRepository, Message: "repository could not be accessed", Err: err}
	}
	defer func() {
		if err := ws.Release(); err != nil {
			m.logger.Warn("Failed to release workspace", "jobID", job.ID, "error", err)
		}
	}()

	return m.pipeline.Run(ctx, job, ws, synth)
}

func (m *JobManager) complete(ctx context.Context, id string, result *domain.ExcavationResult) {
	if err := m.store.Update(ctx, id, domain.CompletedPatch(result)); err != nil {
		m.fail(ctx, id, fmt.Errorf("failed to store excavation result: %w", err))
		return
	}

	m.events.Add(domain.Event{
		Type:    domain.EventJobCompleted,
		Message: fmt.Sprintf("Excavation completed: %d/%d units analyzed (%s)", result.UnitsAnalyzed, result.UnitsTotal, result.Confidence),
		JobID:   id,
	})
	m.logger.Info("Excavation completed", "jobID", id, "analyzed", result.UnitsAnalyzed, "total", result.UnitsTotal, "confidence", result.Confidence)
}

// fail はジョブを Failed にします
// 利用者に見せるのは短いメッセージのみで、詳細はログに出す
func (m *JobManager) fail(ctx context.Context, id string, err error) {
	message := publicMessage(err)
	m.logger.Error("Excavation failed", "jobID", id, "message", message, "error", err)

	if updErr := m.store.Update(ctx, id, domain.FailedPatch(message)); updErr != nil {
		m.logger.Error("Failed to record job failure", "jobID", id, "error", updErr)
	}
	m.events.Add(domain.Event{
		Type:    domain.EventJobFailed,
		Message: fmt.Sprintf("Excavation failed: %s", message),
		JobID:   id,
	})
}

func publicMessage(err error) string {
	var pipelineErr *domain.UnrecoverablePipelineError
	if errors.As(err, &pipelineErr) && pipelineErr.Message != "" {
		return pipelineErr.Message
	}
	return "internal error during excavation"
}
