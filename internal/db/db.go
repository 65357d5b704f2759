// Package db provides the device database: connection management, schema
// migrations, scoped transactions and a prepared statement cache.
package db

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "modernc.org/sqlite"

	"github.com/Francklinok/EasyRent-sub004/internal/errors"
)

// FileName is the database file created inside the data directory.
const FileName = "offsync.db"

const stmtCacheSize = 128

// Per-connection pragmas. foreign_keys is connection scoped in SQLite, so it
// must ride on the DSN rather than be executed once.
const pragmas = "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"

// DB wraps sql.DB with the sync core's configuration. Its ExecContext,
// QueryContext and QueryRowContext go through a bounded prepared statement
// cache.
type DB struct {
	*sql.DB
	path  string
	stmts *lru.Cache[string, *sql.Stmt]
}

// Open opens (creating if needed) the SQLite database inside dataDir.
// The database is opened with:
// - WAL mode for concurrent reads during writes
// - Foreign key constraints enabled
// - A single connection, since SQLite serializes writers anyway
func Open(dataDir string) (*DB, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, errors.Wrap(errors.ErrLocalStorage, "create data directory", err)
	}
	return OpenFile(filepath.Join(dataDir, FileName))
}

// OpenFile opens the database at an explicit path.
func OpenFile(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path+pragmas)
	if err != nil {
		return nil, errors.Wrap(errors.ErrLocalStorage, "open database", err)
	}

	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, errors.Wrap(errors.ErrLocalStorage, "open database", err)
	}

	stmts, err := lru.NewWithEvict(stmtCacheSize, func(_ string, stmt *sql.Stmt) {
		stmt.Close()
	})
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("statement cache: %w", err)
	}

	return &DB{DB: sqlDB, path: path, stmts: stmts}, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Close releases cached statements and closes the database.
func (db *DB) Close() error {
	db.stmts.Purge()
	return db.DB.Close()
}

// StorageError wraps a local persistence failure so callers can tell it
// apart from remote or validation failures. Context cancellation and
// existing AppErrors pass through unchanged.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) {
		return err
	}
	return errors.Wrap(errors.ErrLocalStorage, op, err)
}
