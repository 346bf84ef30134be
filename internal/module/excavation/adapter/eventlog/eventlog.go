package eventlog

import (
	"sync"
	"time"

	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
)

// DefaultCapacity はイベントログの保持件数
const DefaultCapacity = 100

// Log は固定長のリングバッファで直近のイベントを保持します
// 容量を超えた場合は最も古いイベントから上書きする
type Log struct {
	mu     sync.RWMutex
	events []domain.Event
	next   int
	count  int
	now    func() time.Time
}

// New は新しいLogを作成します
func New(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		events: make([]domain.Event, capacity),
		now:    time.Now,
	}
}

// Add はイベントを追記します（Timestamp が空の場合は現在時刻）
func (l *Log) Add(event domain.Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.events[l.next] = event
	l.next = (l.next + 1) % len(l.events)
	if l.count < len(l.events) {
		l.count++
	}
}

// Recent は新しい順に最大 limit 件のイベントを返します
func (l *Log) Recent(limit int) []domain.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > l.count {
		limit = l.count
	}

	out := make([]domain.Event, 0, limit)
	for i := 0; i < limit; i++ {
		idx := (l.next - 1 - i + len(l.events)) % len(l.events)
		out = append(out, l.events[idx])
	}
	return out
}

// Len は保持しているイベント数を返します
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Capacity は最大保持件数を返します
func (l *Log) Capacity() int {
	return len(l.events)
}

var _ domain.EventRecorder = (*Log)(nil)
