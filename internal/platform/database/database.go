package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB はデータベース接続プールを保持します
type DB struct {
	Pool *pgxpool.Pool
}

// ConnectionParams はデータベース接続パラメータ
type ConnectionParams struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Configured は接続先が設定されているかを返します
func (p ConnectionParams) Configured() bool {
	return p.Host != ""
}

// ConnString はpgx形式の接続文字列を返します
// 空のパスワードは後続のキーを値として読まれるため省略する
func (p ConnectionParams) ConnString() string {
	conn := fmt.Sprintf("host=%s port=%d user=%s", p.Host, p.Port, p.User)
	if p.Password != "" {
		conn += fmt.Sprintf(" password=%s", p.Password)
	}
	return conn + fmt.Sprintf(" dbname=%s sslmode=%s", p.DBName, p.SSLMode)
}

// New は新しいデータベース接続を作成します
func New(ctx context.Context, params ConnectionParams) (*DB, error) {
	pool, err := pgxpool.New(ctx, params.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// 接続テスト
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close はデータベース接続を閉じます
func (db *DB) Close() {
	db.Pool.Close()
}
