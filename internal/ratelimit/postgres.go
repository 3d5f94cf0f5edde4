package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// TxBeginner is satisfied by *pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresLimiter stores consumptions in the rate_limit_hits table so the
// quota is shared between instances. Each Consume runs in a transaction that
// holds an advisory lock on the key, which serializes concurrent requests
// from the same client.
type PostgresLimiter struct {
	db  TxBeginner
	cfg Config
}

// NewPostgresLimiter creates a limiter over db.
func NewPostgresLimiter(db TxBeginner, cfg Config) *PostgresLimiter {
	return &PostgresLimiter{db: db, cfg: cfg.withDefaults()}
}

const (
	lockKey = `SELECT pg_advisory_xact_lock(hashtext($1))`

	pruneHits = `DELETE FROM rate_limit_hits WHERE key = $1 AND hit_at <= $2`

	windowHits = `
SELECT count(*), coalesce(min(hit_at), $2)
FROM rate_limit_hits
WHERE key = $1`

	insertHit = `INSERT INTO rate_limit_hits (key, hit_at) VALUES ($1, $2)`
)

func (l *PostgresLimiter) Consume(ctx context.Context, key string) (res Result, err error) {
	now := l.cfg.Now()

	tx, err := l.db.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("begin rate limit tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, lockKey, key); err != nil {
		return Result{}, fmt.Errorf("lock rate limit key: %w", err)
	}
	if _, err = tx.Exec(ctx, pruneHits, key, now.Add(-l.cfg.Window)); err != nil {
		return Result{}, fmt.Errorf("prune rate limit hits: %w", err)
	}

	var (
		count  int
		oldest time.Time
	)
	if err = tx.QueryRow(ctx, windowHits, key, now).Scan(&count, &oldest); err != nil {
		return Result{}, fmt.Errorf("count rate limit hits: %w", err)
	}

	if count >= l.cfg.Max {
		res = rejected(l.cfg, oldest, now)
	} else {
		if _, err = tx.Exec(ctx, insertHit, key, now); err != nil {
			return Result{}, fmt.Errorf("insert rate limit hit: %w", err)
		}
		res = allowed(l.cfg, count+1, oldest)
	}

	if err = tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("commit rate limit tx: %w", err)
	}
	return res, nil
}

// Evict deletes every hit that has left the window. It is run periodically by
// the scheduler since Consume only prunes the key it touches.
func (l *PostgresLimiter) Evict(ctx context.Context) (int, error) {
	tx, err := l.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin rate limit tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `DELETE FROM rate_limit_hits WHERE hit_at <= $1`, l.cfg.Now().Add(-l.cfg.Window))
	if err != nil {
		return 0, fmt.Errorf("evict rate limit hits: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit rate limit tx: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

var (
	_ Limiter = (*PostgresLimiter)(nil)
	_ Evictor = (*PostgresLimiter)(nil)
)
