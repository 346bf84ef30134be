package domain

import (
	"fmt"
	"time"
)

// JobStatus はジョブの状態を表します
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal は終端状態かどうかを返します
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsValid は既知のステータスかどうかを返します
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// rank は状態遷移の順序（前進のみ許可）
func (s JobStatus) rank() int {
	switch s {
	case JobStatusPending:
		return 0
	case JobStatusRunning:
		return 1
	case JobStatusCompleted, JobStatusFailed:
		return 2
	}
	return -1
}

// CanTransitionTo は from -> to の遷移が許可されているかを返します
// 同一状態への書き込み（進捗更新など）は非終端状態のみ許可
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if !next.IsValid() || s.IsTerminal() {
		return false
	}
	return next.rank() >= s.rank()
}

// JobSpec はジョブ作成時の入力です
type JobSpec struct {
	Repository string     `json:"repository"`
	Options    JobOptions `json:"options"`
}

// Job は1回の発掘（excavation）実行を表します
type Job struct {
	ID          string            `json:"id"`
	Status      JobStatus         `json:"status"`
	Progress    int               `json:"progress"`
	CurrentStep string            `json:"currentStep"`
	Repository  string            `json:"repository"`
	Options     JobOptions        `json:"options"`
	Result      *ExcavationResult `json:"result"`
	Error       *string           `json:"error"`
	CreatedAt   time.Time         `json:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// NewJob は Pending 状態のジョブを生成します
func NewJob(id string, spec JobSpec, now time.Time) *Job {
	return &Job{
		ID:          id,
		Status:      JobStatusPending,
		Progress:    0,
		CurrentStep: "Queued",
		Repository:  spec.Repository,
		Options:     spec.Options,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone はストア間で共有されないコピーを返します
// Result は完了後イミュータブルなのでポインタを共有する
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Options.Exclude = append([]string(nil), j.Options.Exclude...)
	if j.Error != nil {
		msg := *j.Error
		c.Error = &msg
	}
	return &c
}

// Summary は一覧表示用の要約を返します
func (j *Job) Summary() JobSummary {
	return JobSummary{
		ID:          j.ID,
		Status:      j.Status,
		Progress:    j.Progress,
		CurrentStep: j.CurrentStep,
		Repository:  j.Repository,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
	}
}

// JobSummary はジョブ一覧の1行です
type JobSummary struct {
	ID          string    `json:"id"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	CurrentStep string    `json:"currentStep"`
	Repository  string    `json:"repository"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// JobPatch はジョブの部分更新です（nil のフィールドは変更しない）
type JobPatch struct {
	Status      *JobStatus
	Progress    *int
	CurrentStep *string
	Result      *ExcavationResult
	Error       *string
}

// Apply はパッチをマージし updatedAt を更新します
// 両バックエンドが同じ規則でマージするため、遷移の検証はここに集約する
func (j *Job) Apply(patch JobPatch, now time.Time) error {
	if j.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, j.ID, j.Status)
	}

	next := j.Status
	if patch.Status != nil {
		if !j.Status.CanTransitionTo(*patch.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, *patch.Status)
		}
		next = *patch.Status
	}

	if patch.Result != nil && next != JobStatusCompleted {
		return fmt.Errorf("%w: result can only be attached on completion", ErrInvalidTransition)
	}
	if patch.Error != nil && next != JobStatusFailed {
		return fmt.Errorf("%w: error can only be attached on failure", ErrInvalidTransition)
	}
	if next == JobStatusCompleted && patch.Result == nil {
		return fmt.Errorf("%w: completed job requires a result", ErrInvalidTransition)
	}
	if next == JobStatusFailed && patch.Error == nil {
		return fmt.Errorf("%w: failed job requires an error", ErrInvalidTransition)
	}

	if patch.Progress != nil {
		p := clampProgress(*patch.Progress)
		// 進捗は単調非減少（巻き戻りは無視）
		if p > j.Progress {
			j.Progress = p
		}
	}
	if patch.CurrentStep != nil {
		j.CurrentStep = *patch.CurrentStep
	}

	j.Status = next
	if patch.Result != nil {
		j.Result = patch.Result
		j.Progress = 100
	}
	if patch.Error != nil {
		msg := *patch.Error
		j.Error = &msg
	}
	j.UpdatedAt = now

	return nil
}

func clampProgress(p int) int {
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// StatusPatch は状態遷移用のパッチを組み立てます
func StatusPatch(status JobStatus, step string) JobPatch {
	return JobPatch{Status: &status, CurrentStep: &step}
}

// ProgressPatch は進捗更新用のパッチを組み立てます
func ProgressPatch(progress int, step string) JobPatch {
	return JobPatch{Progress: &progress, CurrentStep: &step}
}

// CompletedPatch は完了用のパッチを組み立てます（状態と結果を同時に書く）
func CompletedPatch(result *ExcavationResult) JobPatch {
	status := JobStatusCompleted
	step := "Excavation complete"
	progress := 100
	return JobPatch{Status: &status, CurrentStep: &step, Progress: &progress, Result: result}
}

// FailedPatch は失敗用のパッチを組み立てます（状態とエラーを同時に書く）
func FailedPatch(message string) JobPatch {
	status := JobStatusFailed
	step := "Excavation failed"
	return JobPatch{Status: &status, CurrentStep: &step, Error: &message}
}
