package infra

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewDBPool opens the pgx pool and pings it. appName tags the sessions in
// pg_stat_activity so API, worker and dubctl connections can be told apart.
func NewDBPool(ctx context.Context, cfg *Config, appName string) (*pgxpool.Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.MaxConns = poolSize(cfg)
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute
	if appName != "" {
		poolCfg.ConnConfig.RuntimeParams["application_name"] = appName
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// poolSize leaves room for every claim loop to hold a job connection while
// its lease heartbeat runs.
func poolSize(cfg *Config) int32 {
	n := cfg.DBMaxConns
	if need := 2*cfg.WorkerPoolSize + 2; need > n {
		n = need
	}
	return int32(n)
}
