package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
	"github.com/jinford/code-archaeologist/internal/platform/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

var unreachableDatabase = database.ConnectionParams{
	Host:     "127.0.0.1",
	Port:     1,
	User:     "archaeologist",
	Password: "secret",
	DBName:   "archaeologist",
	SSLMode:  "disable",
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		want    domain.StoreBackend
		wantErr bool
	}{
		{
			name: "未設定ならインメモリ",
			cfg:  Config{Backend: BackendAuto},
			want: domain.StoreBackendMemory,
		},
		{
			name: "接続できなければインメモリ",
			cfg:  Config{Backend: BackendAuto, Database: unreachableDatabase, ConnectTimeout: 2 * time.Second},
			want: domain.StoreBackendMemory,
		},
		{
			name: "インメモリを強制",
			cfg:  Config{Backend: BackendMemory, Database: unreachableDatabase},
			want: domain.StoreBackendMemory,
		},
		{
			name:    "PostgreSQL強制で接続できなければエラー",
			cfg:     Config{Backend: BackendPostgres, Database: unreachableDatabase, ConnectTimeout: 2 * time.Second},
			wantErr: true,
		},
		{
			name:    "不明なバックエンド",
			cfg:     Config{Backend: "redis"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opened, err := Open(context.Background(), tt.cfg, testLogger())
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			defer opened.Close()
			assert.Equal(t, tt.want, opened.Backend)
		})
	}
}

func TestOpen_FallbackStoreIsUsable(t *testing.T) {
	ctx := context.Background()
	opened, err := Open(ctx, Config{Database: unreachableDatabase, ConnectTimeout: 2 * time.Second}, testLogger())
	require.NoError(t, err)
	defer opened.Close()

	job, err := opened.Store.Create(ctx, domain.JobSpec{Repository: "https://github.com/example/legacy.git"})
	require.NoError(t, err)

	require.NoError(t, opened.Store.Update(ctx, job.ID, domain.StatusPatch(domain.JobStatusRunning, "Running")))

	got, err := opened.Store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusRunning, got.Status)
}
