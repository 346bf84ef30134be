package domain

import "time"

// FailureKind は記録する失敗の種類です
type FailureKind string

const (
	FailureKindParse     FailureKind = "parse_failed"
	FailureKindRateLimit FailureKind = "rate_limit_exceeded"
	FailureKindTimeout   FailureKind = "timeout"
	FailureKindProvider  FailureKind = "provider_error"
)

// FailureRecord は最終的に失敗した生成呼び出しの記録です
type FailureRecord struct {
	Timestamp    time.Time   `json:"timestamp"`
	Kind         FailureKind `json:"kind"`
	Model        string      `json:"model"`
	Prompt       string      `json:"prompt"`
	Response     string      `json:"response"`
	ErrorMessage string      `json:"error_message"`
	Attempts     int         `json:"attempts"`
}

// FailureRecorder は失敗記録の書き込み先です
type FailureRecorder interface {
	RecordFailure(record FailureRecord) error
}
