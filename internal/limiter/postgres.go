package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG keeps counters in the auth_limiter table so every server sharing the
// database enforces the same lockouts.
type PG struct {
	db     pgxQuerier
	policy Policy
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG returns a limiter over q, usually the server's *pgxpool.Pool.
func NewPG(q pgxQuerier, p Policy) *PG {
	return &PG{db: q, policy: p}
}

func (l *PG) Allow(ctx context.Context, username string, peer []byte) (bool, time.Duration, error) {
	var until time.Time
	err := l.db.QueryRow(ctx,
		`SELECT blocked_until FROM auth_limiter WHERE username=$1 AND ip_hash=$2`,
		username, peer).Scan(&until)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, 0, nil
	}
	if err != nil {
		return false, 0, err
	}
	if left := time.Until(until); left > 0 {
		return false, left, nil
	}
	return true, 0, nil
}

func (l *PG) Success(ctx context.Context, username string, peer []byte) error {
	_, err := l.db.Exec(ctx, `
INSERT INTO auth_limiter (username, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 0, 'epoch', now())
ON CONFLICT (username, ip_hash) DO UPDATE
SET fail_count = 0, blocked_until = 'epoch', updated_at = now()`, username, peer)
	return err
}

// failureSQL bumps the counter, restarting it once the window has passed,
// and sets blocked_until when the new count reaches $4.
const failureSQL = `
WITH prev AS (
  SELECT fail_count, updated_at FROM auth_limiter WHERE username = $1 AND ip_hash = $2
), next AS (
  SELECT CASE
    WHEN NOT EXISTS (SELECT 1 FROM prev) THEN 1
    WHEN (SELECT now() - updated_at FROM prev) > $3::interval THEN 1
    ELSE (SELECT fail_count FROM prev) + 1
  END AS n
)
INSERT INTO auth_limiter (username, ip_hash, fail_count, blocked_until, updated_at)
SELECT $1, $2, n, CASE WHEN n >= $4 THEN now() + $5::interval ELSE 'epoch' END, now() FROM next
ON CONFLICT (username, ip_hash) DO UPDATE
SET fail_count = EXCLUDED.fail_count,
    blocked_until = GREATEST(auth_limiter.blocked_until, EXCLUDED.blocked_until),
    updated_at = now()
RETURNING fail_count`

// Failure counts a failed attempt in one statement and reports whether the
// pair is now locked.
func (l *PG) Failure(ctx context.Context, username string, peer []byte) (bool, time.Duration, error) {
	var fails int
	err := l.db.QueryRow(ctx, failureSQL,
		username, peer, l.policy.Window, l.policy.MaxFailures, l.policy.BlockFor).Scan(&fails)
	if err != nil {
		return false, 0, err
	}
	if fails < l.policy.MaxFailures {
		return false, 0, nil
	}
	return true, l.policy.BlockFor, nil
}
