package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx pool sized for maxConns concurrent workers.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		cfg.MaxConns = maxConns
	}
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the job, message and summary tables if needed.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	client_id TEXT NOT NULL,
	type TEXT NOT NULL,
	source_path TEXT NOT NULL DEFAULT '',
	payload JSONB NOT NULL DEFAULT '[]'::jsonb,
	status TEXT NOT NULL DEFAULT 'pending',
	total_records INTEGER NOT NULL DEFAULT 0,
	processed_records INTEGER NOT NULL DEFAULT 0,
	retry_count INTEGER NOT NULL DEFAULT 0,
	max_retries INTEGER NOT NULL DEFAULT 3,
	last_error TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	started_at TIMESTAMPTZ,
	completed_at TIMESTAMPTZ,
	next_retry_at TIMESTAMPTZ,
	CONSTRAINT jobs_progress_bounded CHECK (processed_records <= total_records),
	CONSTRAINT jobs_retry_bounded CHECK (retry_count <= max_retries)
);
CREATE INDEX IF NOT EXISTS idx_jobs_eligible ON jobs (created_at) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_jobs_client ON jobs (client_id, created_at DESC);

CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	job_id TEXT NOT NULL,
	client_id TEXT NOT NULL,
	text TEXT NOT NULL,
	channel TEXT NOT NULL,
	timestamp TIMESTAMPTZ NOT NULL,
	sentiment TEXT NOT NULL,
	topic TEXT NOT NULL,
	intent TEXT NOT NULL,
	requires_validation BOOLEAN NOT NULL DEFAULT TRUE,
	classified_by TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_messages_client ON messages (client_id, timestamp);

CREATE TABLE IF NOT EXISTS daily_analytics (
	client_id TEXT NOT NULL,
	date DATE NOT NULL,
	channel TEXT NOT NULL,
	total_messages INTEGER NOT NULL DEFAULT 0,
	positive_count INTEGER NOT NULL DEFAULT 0,
	neutral_count INTEGER NOT NULL DEFAULT 0,
	negative_count INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (client_id, date, channel)
);

CREATE TABLE IF NOT EXISTS topic_summary (
	client_id TEXT NOT NULL,
	topic TEXT NOT NULL,
	total_messages INTEGER NOT NULL DEFAULT 0,
	positive_count INTEGER NOT NULL DEFAULT 0,
	neutral_count INTEGER NOT NULL DEFAULT 0,
	negative_count INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (client_id, topic)
);

CREATE TABLE IF NOT EXISTS channel_summary (
	client_id TEXT NOT NULL,
	channel TEXT NOT NULL,
	total_messages INTEGER NOT NULL DEFAULT 0,
	positive_count INTEGER NOT NULL DEFAULT 0,
	neutral_count INTEGER NOT NULL DEFAULT 0,
	negative_count INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (client_id, channel)
);

CREATE TABLE IF NOT EXISTS clients (
	id TEXT PRIMARY KEY,
	total_messages INTEGER NOT NULL DEFAULT 0,
	last_analysis TIMESTAMPTZ
);`
