package store

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, Init(context.Background(), db))
	return db
}

func seedUser(t *testing.T, db *sql.DB, id int64) {
	t.Helper()
	_, err := NewUserStore(db).GetOrCreate(context.Background(), id, "tester", "Test", "User", "en")
	require.NoError(t, err)
}

func TestInitIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, Init(context.Background(), db))
}

func TestOptimize(t *testing.T) {
	db := openTestDB(t)
	seedUser(t, db, 1)
	require.NoError(t, Optimize(context.Background(), db))
}
