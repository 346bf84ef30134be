package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrJobNotFound はジョブが存在しない（または期限切れ）場合のエラー
	ErrJobNotFound = errors.New("job not found")

	// ErrInvalidTransition は許可されていない状態遷移のエラー
	ErrInvalidTransition = errors.New("invalid job transition")
)

// ValidationError はジョブ投入内容が不正な場合のエラー（ジョブは作成されない）
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PipelineStage はパイプラインの失敗箇所を表します
type PipelineStage string

const (
	StageSynthesis  PipelineStage = "synthesis"
	StageRepository PipelineStage = "repository"
	StageUnits      PipelineStage = "units"
	StageInternal   PipelineStage = "internal"
)

// UnrecoverablePipelineError はジョブ全体を失敗させるエラー
// Message はポーリングで公開される人間向けメッセージ、Err は内部詳細（ログのみ）
type UnrecoverablePipelineError struct {
	Stage   PipelineStage
	Message string
	Err     error
}

func (e *UnrecoverablePipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
}

func (e *UnrecoverablePipelineError) Unwrap() error {
	return e.Err
}

// ReportNotReadyError はレポートがまだ取得できない場合のエラー
type ReportNotReadyError struct {
	JobID    string
	Status   JobStatus
	JobError *string
}

func (e *ReportNotReadyError) Error() string {
	if e.JobError != nil {
		return fmt.Sprintf("report for job %s is not available: job %s: %s", e.JobID, e.Status, *e.JobError)
	}
	return fmt.Sprintf("report for job %s is not available: job is %s", e.JobID, e.Status)
}
