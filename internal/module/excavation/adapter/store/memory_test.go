package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClockedMemoryStore(t *testing.T, capacity int) *MemoryStore {
	t.Helper()
	s, err := NewMemoryStore(capacity)
	require.NoError(t, err)

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	tick := 0
	s.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}
	return s
}

func TestMemoryStore_Contract(t *testing.T) {
	runContract(t, func(t *testing.T) domain.JobStore {
		return newClockedMemoryStore(t, 0)
	})
}

func TestMemoryStore_EvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	s := newClockedMemoryStore(t, 2)

	first, err := s.Create(ctx, domain.JobSpec{Repository: "https://example.com/a.git"})
	require.NoError(t, err)
	second, err := s.Create(ctx, domain.JobSpec{Repository: "https://example.com/b.git"})
	require.NoError(t, err)

	// first を参照して最近使用扱いにする
	_, err = s.Get(ctx, first.ID)
	require.NoError(t, err)

	_, err = s.Create(ctx, domain.JobSpec{Repository: "https://example.com/c.git"})
	require.NoError(t, err)

	assert.Equal(t, 2, s.Len())
	_, err = s.Get(ctx, second.ID)
	assert.ErrorIs(t, err, domain.ErrJobNotFound)
	_, err = s.Get(ctx, first.ID)
	assert.NoError(t, err)
}

func TestMemoryStore_ConcurrentUpdatesOnDifferentJobs(t *testing.T) {
	ctx := context.Background()
	s := newClockedMemoryStore(t, 0)

	const jobs = 20
	ids := make([]string, jobs)
	for i := range ids {
		job, err := s.Create(ctx, domain.JobSpec{Repository: fmt.Sprintf("https://example.com/%d.git", i)})
		require.NoError(t, err)
		ids[i] = job.ID
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			assert.NoError(t, s.Update(ctx, id, domain.StatusPatch(domain.JobStatusRunning, "Running")))
			for p := 10; p <= 100; p += 10 {
				assert.NoError(t, s.Update(ctx, id, domain.ProgressPatch(p, fmt.Sprintf("job %d at %d", i, p))))
			}
		}(i, id)
	}
	wg.Wait()

	for i, id := range ids {
		job, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 100, job.Progress)
		assert.Equal(t, fmt.Sprintf("job %d at 100", i), job.CurrentStep)
		assert.Equal(t, fmt.Sprintf("https://example.com/%d.git", i), job.Repository)
	}
}
