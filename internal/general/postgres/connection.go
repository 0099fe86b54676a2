package postgres

import (
	"context"
	"fmt"
	"time"

	"transit-sync/internal/general/config"
	"transit-sync/internal/general/logger"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	connectTimeout = 5 * time.Second
	appName        = "transit-sync-relay"
)

// NewPool builds a UTC pgx pool from cfg and pings it before returning.
func NewPool(ctx context.Context, cfg *config.Config, log *logger.Logger) (*pgxpool.Pool, error) {
	start := time.Now()

	pcfg, err := pgxpool.ParseConfig(cfg.DatabaseDSN())
	if err != nil {
		return nil, fmt.Errorf("postgres parse dsn: %w", err)
	}
	tunePool(pcfg)

	log.Info(ctx, "db_config_check", "Connecting to PostgreSQL", map[string]any{
		"host":           cfg.Database.Host,
		"port":           cfg.Database.Port,
		"database":       cfg.Database.Name,
		"password_empty": cfg.Database.Password == "",
		"max_conns":      pcfg.MaxConns,
	})

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}

	log.Info(ctx, "db_connected", "Connected to PostgreSQL", map[string]any{
		"duration_ms": time.Since(start).Milliseconds(),
	})
	return pool, nil
}

func tunePool(pcfg *pgxpool.Config) {
	pcfg.ConnConfig.ConnectTimeout = connectTimeout
	if pcfg.ConnConfig.RuntimeParams == nil {
		pcfg.ConnConfig.RuntimeParams = map[string]string{}
	}
	pcfg.ConnConfig.RuntimeParams["timezone"] = "UTC"
	pcfg.ConnConfig.RuntimeParams["application_name"] = appName

	pcfg.HealthCheckPeriod = 30 * time.Second
	pcfg.MaxConnIdleTime = 5 * time.Minute
}
