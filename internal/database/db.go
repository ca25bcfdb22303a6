// Package database persists health records, error events, strategy
// counters, knowledge snapshots and alerts in PostgreSQL.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config, log zerolog.Logger) (*DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 10
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	l := log.With().Str("component", "database").Logger()
	l.Info().Str("database", cfg.Database).Msg("connected to PostgreSQL")

	return &DB{Pool: pool, log: l}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.log.Info().Msg("database connection closed")
	}
}

// HealthCheck verifies the connection is alive
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.log.Info().Msg("running database migrations")

	migrations := []string{
		`CREATE TABLE IF NOT EXISTS endpoint_health (
			source VARCHAR(100) NOT NULL,
			endpoint VARCHAR(200) NOT NULL,
			total_requests BIGINT NOT NULL DEFAULT 0,
			failed_requests BIGINT NOT NULL DEFAULT 0,
			error_rate DOUBLE PRECISION NOT NULL DEFAULT 0,
			avg_response_time_ms BIGINT NOT NULL DEFAULT 0,
			last_success TIMESTAMPTZ,
			last_failure TIMESTAMPTZ,
			consecutive_failures INTEGER NOT NULL DEFAULT 0,
			status VARCHAR(20) NOT NULL DEFAULT 'HEALTHY',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (source, endpoint)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_endpoint_health_status ON endpoint_health(status)`,

		`CREATE TABLE IF NOT EXISTS error_events (
			id UUID PRIMARY KEY,
			occurred_at TIMESTAMPTZ NOT NULL,
			source VARCHAR(100) NOT NULL,
			endpoint VARCHAR(200) NOT NULL,
			kind VARCHAR(40) NOT NULL,
			message TEXT,
			response_time_ms BIGINT NOT NULL DEFAULT 0,
			status_code INTEGER,
			retry_count INTEGER NOT NULL DEFAULT 0,
			auto_healed BOOLEAN NOT NULL DEFAULT FALSE,
			healed_by VARCHAR(100)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_error_events_source ON error_events(source, endpoint)`,
		`CREATE INDEX IF NOT EXISTS idx_error_events_occurred_at ON error_events(occurred_at)`,
		`CREATE INDEX IF NOT EXISTS idx_error_events_kind ON error_events(kind)`,

		`CREATE TABLE IF NOT EXISTS healing_strategies (
			name VARCHAR(100) PRIMARY KEY,
			success_count BIGINT NOT NULL DEFAULT 0,
			failure_count BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		`CREATE TABLE IF NOT EXISTS knowledge_snapshots (
			id SERIAL PRIMARY KEY,
			taken_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			knowledge JSONB NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id UUID PRIMARY KEY,
			created_at TIMESTAMPTZ NOT NULL,
			level VARCHAR(20) NOT NULL,
			title TEXT NOT NULL,
			message TEXT,
			source VARCHAR(100) NOT NULL,
			endpoint VARCHAR(200) NOT NULL,
			health_status VARCHAR(20),
			healing_attempted BOOLEAN NOT NULL DEFAULT FALSE,
			healing_succeeded BOOLEAN NOT NULL DEFAULT FALSE,
			recommended_actions TEXT[],
			resolved_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_source ON alerts(source, endpoint)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_unresolved ON alerts(created_at) WHERE resolved_at IS NULL`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.log.Info().Int("count", len(migrations)).Msg("migrations complete")
	return nil
}
