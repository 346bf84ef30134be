package domain

import "time"

// EventType はアクティビティログのイベント種別です
type EventType string

const (
	EventJobSubmitted EventType = "job_submitted"
	EventJobStarted   EventType = "job_started"
	EventUnitDegraded EventType = "unit_degraded"
	EventJobCompleted EventType = "job_completed"
	EventJobFailed    EventType = "job_failed"
)

// Event はアクティビティログの1レコードです
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Message   string    `json:"message"`
	JobID     string    `json:"jobId,omitempty"`
}

// EventRecorder はイベントの追記ポートです（観測用途のみ）
type EventRecorder interface {
	Add(event Event)
}
