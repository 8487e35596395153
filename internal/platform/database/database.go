package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectionParams はデータベース接続パラメータ
type ConnectionParams struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Database はpgxpoolのライフサイクルを管理します
type Database struct {
	Pool *pgxpool.Pool
}

// New はコネクションプールを作成し、疎通を確認します
func New(ctx context.Context, params ConnectionParams) (*Database, error) {
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		params.User,
		params.Password,
		params.Host,
		params.Port,
		params.DBName,
		params.SSLMode,
	)

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{Pool: pool}, nil
}

// Close はコネクションプールを閉じます
func (d *Database) Close() {
	if d.Pool != nil {
		d.Pool.Close()
	}
}
