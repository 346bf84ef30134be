package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
	"github.com/jinford/code-archaeologist/internal/platform/database"
)

// DefaultTTL はジョブ記録の保持期間（書き込みのたびに延長する）
const DefaultTTL = 24 * time.Hour

const schemaSQL = `
CREATE TABLE IF NOT EXISTS excavation_jobs (
	id         TEXT PRIMARY KEY,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS excavation_jobs_created_at_idx ON excavation_jobs (created_at DESC);
CREATE INDEX IF NOT EXISTS excavation_jobs_expires_at_idx ON excavation_jobs (expires_at);
`

// PostgresStore はPostgreSQLを使った永続 JobStore 実装です
// 期限切れの行は読み取りから見えず、リーパーで削除される
type PostgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
	now  func() time.Time
}

// NewPostgresStore は新しいPostgresStoreを作成します
func NewPostgresStore(pool *pgxpool.Pool, ttl time.Duration) *PostgresStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &PostgresStore{pool: pool, ttl: ttl, now: time.Now}
}

// EnsureSchema はテーブルが無ければ作成します
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure job schema: %w", err)
	}
	return nil
}

// Create はジョブを作成します
func (s *PostgresStore) Create(ctx context.Context, spec domain.JobSpec) (*domain.Job, error) {
	now := s.now()
	job := domain.NewJob(uuid.NewString(), spec, now)

	payload, err := json.Marshal(job)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job: %w", err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO excavation_jobs (id, payload, created_at, updated_at, expires_at) VALUES ($1, $2, $3, $4, $5)`,
		job.ID, payload, job.CreatedAt, job.UpdatedAt, now.Add(s.ttl),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert job: %w", err)
	}

	return job, nil
}

// Get はジョブを取得します
func (s *PostgresStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	var payload []byte
	err := s.pool.QueryRow(ctx,
		`SELECT payload FROM excavation_jobs WHERE id = $1 AND expires_at > $2`,
		id, s.now(),
	).Scan(&payload)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", err)
	}

	return decodeJob(payload)
}

// Update は行ロックを取ってパッチをマージし、TTLを延長します
func (s *PostgresStore) Update(ctx context.Context, id string, patch domain.JobPatch) error {
	_, err := database.Transact(ctx, s.pool, func(tx pgx.Tx) (struct{}, error) {
		now := s.now()

		var payload []byte
		err := tx.QueryRow(ctx,
			`SELECT payload FROM excavation_jobs WHERE id = $1 AND expires_at > $2 FOR UPDATE`,
			id, now,
		).Scan(&payload)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return struct{}{}, fmt.Errorf("%w: %s", domain.ErrJobNotFound, id)
			}
			return struct{}{}, fmt.Errorf("failed to lock job: %w", err)
		}

		job, err := decodeJob(payload)
		if err != nil {
			return struct{}{}, err
		}
		if err := job.Apply(patch, now); err != nil {
			return struct{}{}, err
		}

		next, err := json.Marshal(job)
		if err != nil {
			return struct{}{}, fmt.Errorf("failed to marshal job: %w", err)
		}

		if _, err := tx.Exec(ctx,
			`UPDATE excavation_jobs SET payload = $2, updated_at = $3, expires_at = $4 WHERE id = $1`,
			id, next, job.UpdatedAt, now.Add(s.ttl),
		); err != nil {
			return struct{}{}, fmt.Errorf("failed to update job: %w", err)
		}
		return struct{}{}, nil
	})
	return err
}

// List は新しい順にジョブの要約を返します
func (s *PostgresStore) List(ctx context.Context) ([]domain.JobSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM excavation_jobs WHERE expires_at > $1 ORDER BY created_at DESC, id`,
		s.now(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	summaries := []domain.JobSummary{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		job, err := decodeJob(payload)
		if err != nil {
			return nil, err
		}
		summaries = append(summaries, job.Summary())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	return summaries, nil
}

// reaperLockID は期限切れ削除を1インスタンスに限定するためのロックID
var reaperLockID = database.LockID("excavation_jobs", "reaper")

// PurgeExpired は期限切れの行を削除し、削除件数を返します
// 他のインスタンスが削除中の場合は何もせず 0 を返す
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	return database.Transact(ctx, s.pool, func(tx pgx.Tx) (int64, error) {
		acquired, err := database.TryAdvisoryXactLock(ctx, tx, reaperLockID)
		if err != nil {
			return 0, err
		}
		if !acquired {
			return 0, nil
		}

		tag, err := tx.Exec(ctx, `DELETE FROM excavation_jobs WHERE expires_at <= $1`, s.now())
		if err != nil {
			return 0, fmt.Errorf("failed to purge expired jobs: %w", err)
		}
		return tag.RowsAffected(), nil
	})
}

// RunReaper は ctx が終了するまで interval ごとに期限切れの行を削除します
func (s *PostgresStore) RunReaper(ctx context.Context, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logger.Warn("Failed to purge expired jobs", "error", err)
				}
				continue
			}
			if n > 0 {
				logger.Info("Purged expired jobs", "count", n)
			}
		}
	}
}

func decodeJob(payload []byte) (*domain.Job, error) {
	var job domain.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("failed to decode job: %w", err)
	}
	return &job, nil
}

var _ domain.JobStore = (*PostgresStore)(nil)
