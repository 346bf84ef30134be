package store

import (
	"context"
	"testing"

	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runContract は両バックエンドが同じ振る舞いをすることを確認する共通テスト
func runContract(t *testing.T, newStore func(t *testing.T) domain.JobStore) {
	ctx := context.Background()

	t.Run("作成直後はPendingで進捗0", func(t *testing.T) {
		s := newStore(t)
		job, err := s.Create(ctx, domain.JobSpec{
			Repository: "https://github.com/example/legacy.git",
			Options:    domain.JobOptions{MaxUnits: 5, Mode: domain.UnitModeCommits},
		})
		require.NoError(t, err)
		assert.NotEmpty(t, job.ID)
		assert.Equal(t, domain.JobStatusPending, job.Status)
		assert.Equal(t, 0, job.Progress)

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, job.ID, got.ID)
		assert.Equal(t, domain.JobStatusPending, got.Status)
		assert.Equal(t, 5, got.Options.MaxUnits)
		assert.Nil(t, got.Result)
		assert.Nil(t, got.Error)
	})

	t.Run("存在しないID", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrJobNotFound)

		err = s.Update(ctx, "missing", domain.ProgressPatch(10, "x"))
		assert.ErrorIs(t, err, domain.ErrJobNotFound)
	})

	t.Run("更新でフィールドがマージされupdatedAtが進む", func(t *testing.T) {
		s := newStore(t)
		job, err := s.Create(ctx, domain.JobSpec{Repository: "https://github.com/example/legacy.git"})
		require.NoError(t, err)

		require.NoError(t, s.Update(ctx, job.ID, domain.StatusPatch(domain.JobStatusRunning, "Acquiring repository")))
		require.NoError(t, s.Update(ctx, job.ID, domain.ProgressPatch(40, "Analyzed 2/5 units")))

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusRunning, got.Status)
		assert.Equal(t, 40, got.Progress)
		assert.Equal(t, "Analyzed 2/5 units", got.CurrentStep)
		assert.Equal(t, job.Repository, got.Repository)
		assert.True(t, got.UpdatedAt.After(job.CreatedAt))
	})

	t.Run("進捗は巻き戻らない", func(t *testing.T) {
		s := newStore(t)
		job, err := s.Create(ctx, domain.JobSpec{Repository: "r"})
		require.NoError(t, err)

		require.NoError(t, s.Update(ctx, job.ID, domain.ProgressPatch(60, "a")))
		require.NoError(t, s.Update(ctx, job.ID, domain.ProgressPatch(20, "b")))

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, 60, got.Progress)
	})

	t.Run("完了後は書き込みを拒否する", func(t *testing.T) {
		s := newStore(t)
		job, err := s.Create(ctx, domain.JobSpec{Repository: "r"})
		require.NoError(t, err)

		require.NoError(t, s.Update(ctx, job.ID, domain.StatusPatch(domain.JobStatusRunning, "Running")))
		require.NoError(t, s.Update(ctx, job.ID, domain.CompletedPatch(&domain.ExcavationResult{Repository: "r", Confidence: domain.ConfidenceFull})))

		err = s.Update(ctx, job.ID, domain.FailedPatch("late failure"))
		assert.ErrorIs(t, err, domain.ErrInvalidTransition)

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusCompleted, got.Status)
		assert.Equal(t, 100, got.Progress)
		require.NotNil(t, got.Result)
		assert.Nil(t, got.Error)
	})

	t.Run("失敗時はエラーのみ設定される", func(t *testing.T) {
		s := newStore(t)
		job, err := s.Create(ctx, domain.JobSpec{Repository: "r"})
		require.NoError(t, err)

		require.NoError(t, s.Update(ctx, job.ID, domain.FailedPatch("repository could not be read")))

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, got.Status)
		require.NotNil(t, got.Error)
		assert.Equal(t, "repository could not be read", *got.Error)
		assert.Nil(t, got.Result)
	})

	t.Run("一覧は新しい順", func(t *testing.T) {
		s := newStore(t)
		var ids []string
		for _, repo := range []string{"a", "b", "c"} {
			job, err := s.Create(ctx, domain.JobSpec{Repository: repo})
			require.NoError(t, err)
			ids = append(ids, job.ID)
		}

		list, err := s.List(ctx)
		require.NoError(t, err)
		require.Len(t, list, 3)
		assert.Equal(t, ids[2], list[0].ID)
		assert.Equal(t, ids[1], list[1].ID)
		assert.Equal(t, ids[0], list[2].ID)
	})

	t.Run("取得結果の変更はストアに影響しない", func(t *testing.T) {
		s := newStore(t)
		job, err := s.Create(ctx, domain.JobSpec{Repository: "r"})
		require.NoError(t, err)

		got, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		got.Status = domain.JobStatusFailed
		got.Progress = 99

		again, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusPending, again.Status)
		assert.Equal(t, 0, again.Progress)
	})
}
