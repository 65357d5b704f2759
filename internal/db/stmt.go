package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Querier is the subset of database operations shared by *DB and *Tx, so
// repositories can run either standalone or inside a scoped transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

var (
	_ Querier = (*DB)(nil)
	_ Querier = (*Tx)(nil)
)

// PrepareStmt gets or creates a prepared statement from the cache. Evicted
// statements are closed.
func (db *DB) PrepareStmt(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := db.stmts.Get(query); ok {
		return stmt, nil
	}

	stmt, err := db.DB.PrepareContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare statement: %w", err)
	}

	// If another goroutine already prepared this, keep theirs.
	if prev, ok, _ := db.stmts.PeekOrAdd(query, stmt); ok {
		stmt.Close()
		return prev, nil
	}
	return stmt, nil
}

// ExecContext executes query through the statement cache.
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	stmt, err := db.PrepareStmt(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.ExecContext(ctx, args...)
}

// QueryContext runs query through the statement cache.
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	stmt, err := db.PrepareStmt(ctx, query)
	if err != nil {
		return nil, err
	}
	return stmt.QueryContext(ctx, args...)
}

// QueryRowContext runs query through the statement cache. A preparation
// failure is reported by the returned row's Scan.
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	stmt, err := db.PrepareStmt(ctx, query)
	if err != nil {
		return db.DB.QueryRowContext(ctx, query, args...)
	}
	return stmt.QueryRowContext(ctx, args...)
}

// CachedStatements returns the number of statements in the cache.
func (db *DB) CachedStatements() int {
	return db.stmts.Len()
}
