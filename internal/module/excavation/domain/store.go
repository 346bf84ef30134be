package domain

import "context"

// JobStore はジョブ記録の永続化ポートです
// 永続バックエンドとフォールバックバックエンドは同じ振る舞いをすること
type JobStore interface {
	// Create は ID を採番し Pending / progress=0 のジョブを作成します
	Create(ctx context.Context, spec JobSpec) (*Job, error)
	// Get はジョブを取得します（存在しない場合は ErrJobNotFound）
	Get(ctx context.Context, id string) (*Job, error)
	// Update はフィールドをマージし updatedAt を更新します
	Update(ctx context.Context, id string, patch JobPatch) error
	// List は新しい順にジョブの要約を返します
	List(ctx context.Context) ([]JobSummary, error)
}

// StoreBackend はストアの実装種別です
type StoreBackend string

const (
	StoreBackendPostgres StoreBackend = "postgres"
	StoreBackendMemory   StoreBackend = "memory"
)
