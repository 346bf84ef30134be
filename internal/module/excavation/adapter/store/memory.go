package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
)

// DefaultMemoryCapacity はインメモリストアが保持するジョブ数の上限
const DefaultMemoryCapacity = 1000

// MemoryStore はプロセス内で完結する JobStore のフォールバック実装です
// TTLは持たず、上限を超えた場合は最も参照の古いジョブから追い出す
type MemoryStore struct {
	// mu は read-modify-write を直列化する
	mu    sync.Mutex
	cache *lru.Cache[string, *domain.Job]
	now   func() time.Time
}

// NewMemoryStore は新しいMemoryStoreを作成します
func NewMemoryStore(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	cache, err := lru.New[string, *domain.Job](capacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create job cache: %w", err)
	}
	return &MemoryStore{cache: cache, now: time.Now}, nil
}

// Create はジョブを作成します
func (s *MemoryStore) Create(ctx context.Context, spec domain.JobSpec) (*domain.Job, error) {
	job := domain.NewJob(uuid.NewString(), spec, s.now())

	s.mu.Lock()
	s.cache.Add(job.ID, job.Clone())
	s.mu.Unlock()

	return job, nil
}

// Get はジョブのスナップショットを返します
func (s *MemoryStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.cache.Get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}
	return job.Clone(), nil
}

// Update はパッチをマージします
func (s *MemoryStore) Update(ctx context.Context, id string, patch domain.JobPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.cache.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
	}

	// 検証に失敗した場合に保存済みの値を壊さないようコピーに適用する
	next := current.Clone()
	if err := next.Apply(patch, s.now()); err != nil {
		return err
	}
	s.cache.Add(id, next)
	return nil
}

// List は新しい順にジョブの要約を返します
func (s *MemoryStore) List(ctx context.Context) ([]domain.JobSummary, error) {
	s.mu.Lock()
	jobs := s.cache.Values()
	s.mu.Unlock()

	summaries := make([]domain.JobSummary, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, job.Summary())
	}
	sortSummaries(summaries)
	return summaries, nil
}

// Len は保持しているジョブ数を返します
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// sortSummaries は作成日時の降順（同時刻はID順）に並べる
func sortSummaries(summaries []domain.JobSummary) {
	sort.SliceStable(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID < summaries[j].ID
		}
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})
}

var _ domain.JobStore = (*MemoryStore)(nil)
