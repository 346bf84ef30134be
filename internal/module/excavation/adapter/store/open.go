package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jinford/code-archaeologist/internal/module/excavation/domain"
	"github.com/jinford/code-archaeologist/internal/platform/database"
)

// Backend はストア選択モードです
type Backend string

const (
	// BackendAuto は接続できればPostgreSQL、できなければインメモリを使う
	BackendAuto     Backend = "auto"
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
)

// Config はストア選択の設定です
type Config struct {
	Backend        Backend
	Database       database.ConnectionParams
	ConnectTimeout time.Duration
	TTL            time.Duration
	ReapInterval   time.Duration
	MemoryCapacity int
}

// Opened は起動時に選択されたストアです
type Opened struct {
	Store   domain.JobStore
	Backend domain.StoreBackend

	stopReaper context.CancelFunc
	db         *database.DB
}

// Close はリーパーを停止し接続を閉じます
func (o *Opened) Close() {
	if o.stopReaper != nil {
		o.stopReaper()
	}
	if o.db != nil {
		o.db.Close()
	}
}

// Open は設定に従ってストアを選択します（起動時に1回だけ評価する）
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Opened, error) {
	switch cfg.Backend {
	case "", BackendAuto:
		if !cfg.Database.Configured() {
			logger.Warn("Durable job store is not configured, using in-memory store", "capacity", memoryCapacity(cfg))
			return openMemory(cfg)
		}
		opened, err := openPostgres(ctx, cfg, logger)
		if err != nil {
			logger.Warn("Durable job store is unreachable, using in-memory store", "error", err, "capacity", memoryCapacity(cfg))
			return openMemory(cfg)
		}
		return opened, nil
	case BackendMemory:
		return openMemory(cfg)
	case BackendPostgres:
		return openPostgres(ctx, cfg, logger)
	}
	return nil, fmt.Errorf("unknown job store backend: %q", cfg.Backend)
}

func memoryCapacity(cfg Config) int {
	if cfg.MemoryCapacity <= 0 {
		return DefaultMemoryCapacity
	}
	return cfg.MemoryCapacity
}

func openMemory(cfg Config) (*Opened, error) {
	s, err := NewMemoryStore(memoryCapacity(cfg))
	if err != nil {
		return nil, err
	}
	return &Opened{Store: s, Backend: domain.StoreBackendMemory}, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *slog.Logger) (*Opened, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	connectCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := database.New(connectCtx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to job store: %w", err)
	}

	s := NewPostgresStore(db.Pool, cfg.TTL)
	if err := s.EnsureSchema(connectCtx); err != nil {
		db.Close()
		return nil, err
	}

	interval := cfg.ReapInterval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	reaperCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	go s.RunReaper(reaperCtx, interval, logger)

	logger.Info("Using durable job store", "host", cfg.Database.Host, "ttl", s.ttl)
	return &Opened{Store: s, Backend: domain.StoreBackendPostgres, stopReaper: stop, db: db}, nil
}
