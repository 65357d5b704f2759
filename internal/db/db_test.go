package db

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Francklinok/EasyRent-sub004/internal/errors"
	"github.com/Francklinok/EasyRent-sub004/internal/logging"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	d, err := Open(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, d.Migrate(logging.Discard()))
	t.Cleanup(func() { d.Close() })
	return d
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	d, err := Open(dir)
	require.NoError(t, err)
	defer d.Close()

	_, err = os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)

	var walMode string
	require.NoError(t, d.DB.QueryRow("PRAGMA journal_mode").Scan(&walMode))
	assert.Equal(t, "wal", walMode)

	var fk int
	require.NoError(t, d.DB.QueryRow("PRAGMA foreign_keys").Scan(&fk))
	assert.Equal(t, 1, fk)
}

func TestOpen_InvalidDataDir(t *testing.T) {
	_, err := Open("/dev/null/cannot/create")
	require.Error(t, err)
	assert.True(t, apperrors.IsLocalStorage(err))
}

func TestStmtCache(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	var n int
	require.NoError(t, d.QueryRowContext(ctx, "SELECT 1").Scan(&n))
	require.NoError(t, d.QueryRowContext(ctx, "SELECT 1").Scan(&n))
	assert.Equal(t, 1, d.CachedStatements())

	s1, err := d.PrepareStmt(ctx, "SELECT 2")
	require.NoError(t, err)
	s2, err := d.PrepareStmt(ctx, "SELECT 2")
	require.NoError(t, err)
	assert.Same(t, s1, s2)
}

func TestRunInTx_CommitAndRollback(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	_, err := d.ExecContext(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY, v TEXT)")
	require.NoError(t, err)

	require.NoError(t, d.RunInTx(ctx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "a", "1")
		return err
	}))

	boom := errors.New("boom")
	err = d.RunInTx(ctx, func(tx *Tx) error {
		if _, err := tx.ExecContext(ctx, "INSERT INTO kv (k, v) VALUES (?, ?)", "b", "2"); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	var count int
	require.NoError(t, d.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestRunInTx_RollsBackOnPanic(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	_, err := d.ExecContext(ctx, "CREATE TABLE kv (k TEXT PRIMARY KEY)")
	require.NoError(t, err)

	assert.Panics(t, func() {
		_ = d.RunInTx(ctx, func(tx *Tx) error {
			_, _ = tx.ExecContext(ctx, "INSERT INTO kv (k) VALUES ('x')")
			panic("interrupted")
		})
	})

	var count int
	require.NoError(t, d.QueryRowContext(ctx, "SELECT COUNT(*) FROM kv").Scan(&count))
	assert.Zero(t, count)
}

func TestStorageError(t *testing.T) {
	assert.NoError(t, StorageError("x", nil))
	assert.ErrorIs(t, StorageError("x", context.Canceled), context.Canceled)

	wrapped := StorageError("insert", errors.New("disk I/O error"))
	assert.True(t, apperrors.IsLocalStorage(wrapped))

	nf := apperrors.NotFound("property", "1")
	assert.Same(t, error(nf), StorageError("x", nf))
}
