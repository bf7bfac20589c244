package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sync.db")
	db, err := Open(Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestOpenAppliesMigrations(t *testing.T) {
	db := openTestDB(t)
	var name string
	err := db.Write.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='logins_mirror'`).Scan(&name)
	require.NoError(t, err)
	require.Equal(t, "logins_mirror", name)
}

func TestInvalidSaltRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sync.db")
	_, err := Open(Config{Path: path, SaltOutsideHeader: true, Salt: "not-hex"})
	require.ErrorIs(t, err, ErrInvalidSalt)
}

func TestMetaStoreRoundTrip(t *testing.T) {
	db := openTestDB(t)
	meta := NewMetaStore(db)
	ctx := context.Background()

	ls, err := meta.GetLastSync(ctx)
	require.NoError(t, err)
	require.Zero(t, ls)

	require.NoError(t, meta.SetLastSync(ctx, 1234))
	ls, err = meta.GetLastSync(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1234, ls)

	require.NoError(t, meta.ResetSyncIDs(ctx, "g1", "c1"))
	v, err := meta.Get(ctx, KeyGlobalSyncID)
	require.NoError(t, err)
	require.Equal(t, "g1", v)
	ls, err = meta.GetLastSync(ctx)
	require.NoError(t, err)
	require.Zero(t, ls)
}

func TestInterruptScopeIdempotent(t *testing.T) {
	scope := NewInterruptScope(context.Background())
	require.NoError(t, scope.ErrIfInterrupted())

	h := scope.Handle()
	h.Signal()
	h.Signal() // idempotent, must not panic

	require.ErrorIs(t, scope.ErrIfInterrupted(), ErrInterrupted)
	select {
	case <-scope.Context().Done():
	case <-time.After(time.Second):
		t.Fatal("context was not canceled after Signal")
	}
}

func TestChunkedLoopStopsOnInterrupt(t *testing.T) {
	scope := NewInterruptScope(context.Background())
	seen := 0
	err := ChunkedLoop(scope, 10, 2, func(offset, limit int) error {
		seen++
		if offset == 4 {
			scope.Signal()
		}
		return nil
	})
	require.ErrorIs(t, err, ErrInterrupted)
	require.Equal(t, 3, seen) // offsets 0,2,4 run; signal fires during offset=4's body
}

func TestNewGUIDUnique(t *testing.T) {
	a, err := NewGUID()
	require.NoError(t, err)
	b, err := NewGUID()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.NotEmpty(t, a)
}
