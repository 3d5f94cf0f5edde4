package csrf

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the subset of *pgxpool.Pool used by PostgresStore.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps records in the csrf_sessions table so every instance
// behind a load balancer sees the same sessions.
type PostgresStore struct {
	db  DBTX
	now func() time.Time
}

// NewPostgresStore creates a store over db. now defaults to time.Now.
func NewPostgresStore(db DBTX, now func() time.Time) *PostgresStore {
	if now == nil {
		now = time.Now
	}
	return &PostgresStore{db: db, now: now}
}

const getSession = `
SELECT token, client_ip, expires_at
FROM csrf_sessions
WHERE session_id = $1 AND expires_at > $2`

func (s *PostgresStore) Get(ctx context.Context, sessionID string) (Record, bool, error) {
	rec := Record{SessionID: sessionID}
	err := s.db.QueryRow(ctx, getSession, sessionID, s.now()).Scan(&rec.Token, &rec.ClientIP, &rec.ExpiresAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("select csrf session: %w", err)
	}
	return rec, true, nil
}

const upsertSession = `
INSERT INTO csrf_sessions (session_id, token, client_ip, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id) DO UPDATE
SET token = EXCLUDED.token, client_ip = EXCLUDED.client_ip, expires_at = EXCLUDED.expires_at`

func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	if _, err := s.db.Exec(ctx, upsertSession, rec.SessionID, rec.Token, rec.ClientIP, rec.ExpiresAt); err != nil {
		return fmt.Errorf("upsert csrf session: %w", err)
	}
	return nil
}

// insertSessionIfAbsent only overwrites an expired row, so a live token minted
// by a concurrent request is never replaced. It returns no row when the live
// one wins.
const insertSessionIfAbsent = `
INSERT INTO csrf_sessions (session_id, token, client_ip, expires_at)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id) DO UPDATE
SET token = EXCLUDED.token, client_ip = EXCLUDED.client_ip, expires_at = EXCLUDED.expires_at
WHERE csrf_sessions.expires_at <= $5
RETURNING token, client_ip, expires_at`

func (s *PostgresStore) PutIfAbsent(ctx context.Context, rec Record, now time.Time) (Record, bool, error) {
	stored := Record{SessionID: rec.SessionID}
	err := s.db.QueryRow(ctx, insertSessionIfAbsent, rec.SessionID, rec.Token, rec.ClientIP, rec.ExpiresAt, now).
		Scan(&stored.Token, &stored.ClientIP, &stored.ExpiresAt)
	if err == nil {
		return stored, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, fmt.Errorf("insert csrf session: %w", err)
	}

	// A live row won the conflict; read it in a fresh statement.
	existing, ok, err := s.Get(ctx, rec.SessionID)
	if err != nil {
		return Record{}, false, err
	}
	if !ok {
		return Record{}, false, fmt.Errorf("insert csrf session: live session %s vanished", ShortID(rec.SessionID))
	}
	return existing, false, nil
}

const replaceSession = `
UPDATE csrf_sessions
SET token = $3, client_ip = $4, expires_at = $5
WHERE session_id = $1 AND token = $2 AND expires_at > $6`

func (s *PostgresStore) Replace(ctx context.Context, sessionID, oldToken string, rec Record, now time.Time) (bool, error) {
	tag, err := s.db.Exec(ctx, replaceSession, sessionID, oldToken, rec.Token, rec.ClientIP, rec.ExpiresAt, now)
	if err != nil {
		return false, fmt.Errorf("rotate csrf session: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM csrf_sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("delete csrf session: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM csrf_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired csrf sessions: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM csrf_sessions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count csrf sessions: %w", err)
	}
	return n, nil
}

var _ Store = (*PostgresStore)(nil)
