package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter shared by every server replica.
type PG struct {
	db     querier
	policy Policy
	now    func() time.Time
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a limiter over a pgx pool or any compatible querier.
func NewPG(db querier, p Policy) *PG {
	return &PG{db: db, policy: p, now: time.Now}
}

// Allow reports whether login is currently allowed and the remaining lock time.
func (l *PG) Allow(ctx context.Context, login string, ipHash []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM login_attempts WHERE login=$1 AND ip_hash=$2`
	var a Attempts
	err := l.db.QueryRow(ctx, q, login, ipHash).Scan(&a.BlockedUntil)
	switch {
	case err == nil:
		blocked, wait := l.policy.Blocked(a, l.now())
		return !blocked, wait, nil
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	default:
		return false, 0, err
	}
}

// Success resets counters for (login, ip).
func (l *PG) Success(ctx context.Context, login string, ipHash []byte) error {
	const q = `DELETE FROM login_attempts WHERE login=$1 AND ip_hash=$2`
	_, err := l.db.Exec(ctx, q, login, ipHash)
	return err
}

// Failure records a failed attempt; the counter restarts once Window has passed.
func (l *PG) Failure(ctx context.Context, login string, ipHash []byte) (bool, time.Duration, error) {
	now := l.now()

	const q = `
INSERT INTO login_attempts (login, ip_hash, fail_count, last_failure, blocked_until)
VALUES ($1,$2,1,$3,'epoch')
ON CONFLICT (login, ip_hash) DO UPDATE
SET
  fail_count = CASE WHEN $3 - login_attempts.last_failure > $4::interval THEN 1 ELSE login_attempts.fail_count + 1 END,
  last_failure = $3
RETURNING fail_count`
	var fails int
	if err := l.db.QueryRow(ctx, q, login, ipHash, now, l.policy.Window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if !l.policy.ShouldLock(fails) {
		return false, 0, nil
	}
	const upd = `UPDATE login_attempts SET blocked_until=$3 WHERE login=$1 AND ip_hash=$2`
	if _, err := l.db.Exec(ctx, upd, login, ipHash, now.Add(l.policy.LockFor)); err != nil {
		return false, 0, err
	}
	return true, l.policy.LockFor, nil
}
