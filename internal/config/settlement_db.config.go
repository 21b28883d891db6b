package config

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	dbConnectAttempts = 5
	dbDialTimeout     = 5 * time.Second
)

// ConnectDB opens the settlement database pool. Startup order is not
// guaranteed in the compose stack, so the dial is retried with backoff
// until the database answers a ping.
func ConnectDB() (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("DB_USER", "settlement"),
		getEnv("DB_PASSWORD", ""),
		getEnv("DB_HOST", "postgres"),
		getEnv("DB_PORT", "5432"),
		getEnv("DB_NAME", "settlement"),
		getEnv("DB_SSLMODE", "disable"),
	)

	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolCfg.MaxConns = int32(getEnvInt("DB_MAX_CONNS", 50))
	poolCfg.MinConns = int32(getEnvInt("DB_MIN_CONNS", 10))
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	backoff := 2 * time.Second
	var lastErr error
	for attempt := 1; attempt <= dbConnectAttempts; attempt++ {
		pool, err := dialPool(poolCfg)
		if err == nil {
			log.Printf("[DB] pool ready, attempt %d", attempt)
			return pool, nil
		}
		lastErr = err
		log.Printf("[DB] attempt %d/%d failed: %v", attempt, dbConnectAttempts, err)
		if attempt < dbConnectAttempts {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return nil, fmt.Errorf("database unreachable after %d attempts: %w", dbConnectAttempts, lastErr)
}

func dialPool(cfg *pgxpool.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dbDialTimeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}
	return pool, nil
}
