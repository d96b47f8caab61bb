package limiter

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

type fakeDB struct {
	err          error
	blockedUntil time.Time
	fails        int

	lastExec string
	execErr  error
}

func (f *fakeDB) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	f.lastExec = sql
	return pgconn.CommandTag{}, f.execErr
}

func (f *fakeDB) QueryRow(_ context.Context, sql string, _ ...any) pgx.Row {
	return fakeRow{scan: func(dest ...any) error {
		if f.err != nil {
			return f.err
		}
		switch {
		case strings.Contains(sql, "SELECT blocked_until"):
			*(dest[0].(*time.Time)) = f.blockedUntil
		case strings.Contains(sql, "RETURNING fail_count"):
			*(dest[0].(*int)) = f.fails
		default:
			return errors.New("unexpected query")
		}
		return nil
	}}
}

var testPolicy = Policy{Window: 5 * time.Minute, MaxFailures: 3, LockFor: 10 * time.Minute}

func TestPolicy_FailLocksAtThreshold(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	var a Attempts
	for i := 0; i < 2; i++ {
		a = testPolicy.Fail(a, now)
		blocked, _ := testPolicy.Blocked(a, now)
		require.False(t, blocked)
	}
	a = testPolicy.Fail(a, now)
	blocked, wait := testPolicy.Blocked(a, now)
	require.True(t, blocked)
	require.Equal(t, 10*time.Minute, wait)

	blocked, _ = testPolicy.Blocked(a, now.Add(11*time.Minute))
	require.False(t, blocked)
}

func TestPolicy_WindowResetsCount(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	a := testPolicy.Fail(Attempts{}, now)
	a = testPolicy.Fail(a, now.Add(time.Minute))
	require.Equal(t, 2, a.Failures)

	a = testPolicy.Fail(a, now.Add(10*time.Minute))
	require.Equal(t, 1, a.Failures)
}

func TestMemory_LockAndReset(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(testPolicy)
	ip := HashIP("10.0.0.1")

	for i := 0; i < 2; i++ {
		blocked, _, err := m.Failure(ctx, "scanner", ip)
		require.NoError(t, err)
		require.False(t, blocked)
	}
	blocked, wait, err := m.Failure(ctx, "scanner", ip)
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, testPolicy.LockFor, wait)

	ok, _, _ := m.Allow(ctx, "scanner", ip)
	require.False(t, ok)
	ok, _, _ = m.Allow(ctx, "scanner", HashIP("10.0.0.2"))
	require.True(t, ok)

	require.NoError(t, m.Success(ctx, "scanner", ip))
	ok, _, _ = m.Allow(ctx, "scanner", ip)
	require.True(t, ok)
}

func TestPG_Allow(t *testing.T) {
	ctx := context.Background()

	l := NewPG(&fakeDB{err: pgx.ErrNoRows}, testPolicy)
	ok, wait, err := l.Allow(ctx, "u", []byte("h"))
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, wait)

	l = NewPG(&fakeDB{blockedUntil: time.Now().Add(10 * time.Minute)}, testPolicy)
	ok, wait, err = l.Allow(ctx, "u", []byte("h"))
	require.NoError(t, err)
	require.False(t, ok)
	require.Positive(t, wait)

	l = NewPG(&fakeDB{blockedUntil: time.Unix(0, 0)}, testPolicy)
	ok, _, err = l.Allow(ctx, "u", []byte("h"))
	require.NoError(t, err)
	require.True(t, ok)

	l = NewPG(&fakeDB{err: errors.New("db boom")}, testPolicy)
	ok, _, err = l.Allow(ctx, "u", []byte("h"))
	require.Error(t, err)
	require.False(t, ok)
}

func TestPG_Success(t *testing.T) {
	db := &fakeDB{}
	require.NoError(t, NewPG(db, testPolicy).Success(context.Background(), "u", []byte("h")))
	require.Contains(t, db.lastExec, "DELETE FROM login_attempts")

	db = &fakeDB{execErr: errors.New("exec fail")}
	require.Error(t, NewPG(db, testPolicy).Success(context.Background(), "u", []byte("h")))
}

func TestPG_Failure(t *testing.T) {
	ctx := context.Background()

	db := &fakeDB{fails: 2}
	blocked, wait, err := NewPG(db, testPolicy).Failure(ctx, "u", []byte("h"))
	require.NoError(t, err)
	require.False(t, blocked)
	require.Zero(t, wait)

	db = &fakeDB{fails: 3}
	blocked, wait, err = NewPG(db, testPolicy).Failure(ctx, "u", []byte("h"))
	require.NoError(t, err)
	require.True(t, blocked)
	require.Equal(t, testPolicy.LockFor, wait)
	require.Contains(t, db.lastExec, "UPDATE login_attempts SET blocked_until")

	_, _, err = NewPG(&fakeDB{err: errors.New("query error")}, testPolicy).Failure(ctx, "u", []byte("h"))
	require.Error(t, err)
}

func TestHashIP_Determinism(t *testing.T) {
	a := HashIP("1.2.3.4:123")
	require.Equal(t, a, HashIP("1.2.3.4:123"))
	require.NotEqual(t, a, HashIP("5.6.7.8:321"))
	require.Len(t, a, 32)
}
