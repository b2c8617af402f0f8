// Package postgres backs the job, result, ledger and audit stores with a
// shared pgxpool. Status changes ride on conditional UPDATEs and debits on
// INSERT .. ON CONFLICT DO NOTHING, so concurrent workers stay correct
// without advisory locks.
//
// Expected schema:
//
//	CREATE TABLE jobs (
//	    id           UUID PRIMARY KEY,
//	    kind         TEXT NOT NULL,
//	    engine       TEXT NOT NULL,
//	    status       TEXT NOT NULL,
//	    url          TEXT NOT NULL DEFAULT '',
//	    query        TEXT NOT NULL DEFAULT '',
//	    depth        INT NOT NULL DEFAULT 0,
//	    parent_id    UUID,
//	    account_id   UUID NOT NULL,
//	    success      BOOLEAN NOT NULL DEFAULT FALSE,
//	    credits_used BIGINT NOT NULL DEFAULT 0,
//	    error_text   TEXT NOT NULL DEFAULT '',
//	    parameters   JSONB NOT NULL DEFAULT '{}',
//	    submitted_at TIMESTAMPTZ NOT NULL,
//	    started_at   TIMESTAMPTZ,
//	    finished_at  TIMESTAMPTZ,
//	    updated_at   TIMESTAMPTZ NOT NULL,
//	    expire_at    TIMESTAMPTZ NOT NULL
//	);
//
//	CREATE TABLE job_results (
//	    owner_id     UUID NOT NULL,
//	    job_id       UUID NOT NULL,
//	    seq          BIGINT NOT NULL,
//	    url          TEXT NOT NULL,
//	    title        TEXT NOT NULL DEFAULT '',
//	    description  TEXT NOT NULL DEFAULT '',
//	    markdown     TEXT NOT NULL DEFAULT '',
//	    html         TEXT NOT NULL DEFAULT '',
//	    text         TEXT NOT NULL DEFAULT '',
//	    status_code  INT NOT NULL DEFAULT 0,
//	    content_hash TEXT NOT NULL DEFAULT '',
//	    blob_uri     TEXT NOT NULL DEFAULT '',
//	    metadata     JSONB NOT NULL DEFAULT '{}',
//	    fetched_at   TIMESTAMPTZ NOT NULL,
//	    PRIMARY KEY (owner_id, seq, job_id)
//	);
//
//	CREATE TABLE accounts (
//	    id         UUID PRIMARY KEY,
//	    balance    BIGINT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
//	CREATE TABLE credit_debits (
//	    job_id     UUID PRIMARY KEY,
//	    account_id UUID NOT NULL,
//	    root_id    UUID NOT NULL,
//	    amount     BIGINT NOT NULL,
//	    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//
//	CREATE TABLE job_events (
//	    job_id      UUID NOT NULL,
//	    root_id     UUID NOT NULL,
//	    account_id  UUID NOT NULL,
//	    kind        TEXT NOT NULL,
//	    engine      TEXT NOT NULL,
//	    status      TEXT NOT NULL,
//	    success     BOOLEAN NOT NULL,
//	    credits     BIGINT NOT NULL,
//	    error_text  TEXT NOT NULL DEFAULT '',
//	    attempts    INT NOT NULL,
//	    duration_ms BIGINT NOT NULL,
//	    ts          TIMESTAMPTZ NOT NULL
//	);
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jackronrau/AnyCrawl-sub001/internal/job"
)

// Config controls the shared connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// Querier is the slice of pgxpool.Pool the stores use. pgxmock implements it,
// which is how the stores are tested without a live server.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Connect builds the shared pool. The caller owns it and closes it on
// shutdown; the stores only borrow it.
func Connect(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: postgres dsn is required", job.ErrInvalidConfig)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return pool, nil
}
