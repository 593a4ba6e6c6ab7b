package database

import (
	"context"
	"fmt"
	"time"

	"github.com/go-demo/watchparty/internal/config"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const pingTimeout = 5 * time.Second

// NewPostgres opens the room store's connection pool and waits for the
// server to accept connections, pinging up to cfg.ConnectAttempts times
// cfg.ConnectBackoff apart.
func NewPostgres(ctx context.Context, cfg *config.DatabaseConfig, logger *zap.Logger) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := waitReady(ctx, db, cfg, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("Connected to PostgreSQL",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.DBName),
		zap.Int("max_open_conns", cfg.MaxOpenConns),
	)

	return db, nil
}

func waitReady(ctx context.Context, db *sqlx.DB, cfg *config.DatabaseConfig, logger *zap.Logger) error {
	attempts := cfg.ConnectAttempts
	if attempts < 1 {
		attempts = 1
	}

	var err error
	for i := 1; i <= attempts; i++ {
		if err = Ping(ctx, db); err == nil {
			return nil
		}
		if i == attempts {
			break
		}

		logger.Warn("PostgreSQL not ready, retrying",
			zap.Int("attempt", i),
			zap.Int("max_attempts", attempts),
			zap.Duration("backoff", cfg.ConnectBackoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("failed to connect to postgres: %w", ctx.Err())
		case <-time.After(cfg.ConnectBackoff):
		}
	}
	return fmt.Errorf("failed to connect to postgres after %d attempts: %w", attempts, err)
}

// Ping checks the pool can reach the server within a bounded wait
func Ping(ctx context.Context, db *sqlx.DB) error {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Close releases the pool, logging open connections it had to drop
func Close(db *sqlx.DB, logger *zap.Logger) {
	stats := db.Stats()
	if err := db.Close(); err != nil {
		logger.Error("Error closing database connection", zap.Error(err))
		return
	}
	logger.Info("Database connection closed",
		zap.Int("open_connections", stats.OpenConnections),
		zap.Int("in_use", stats.InUse),
	)
}
