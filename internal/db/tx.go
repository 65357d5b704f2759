package db

import (
	"context"
	"database/sql"
	"fmt"
)

// Tx is a scoped transaction. It reuses statements already in the DB's
// cache but never prepares on the pool: with a single connection the
// transaction owns it, and preparing elsewhere would block.
type Tx struct {
	tx *sql.Tx
	db *DB
}

func (t *Tx) stmt(ctx context.Context, query string) *sql.Stmt {
	if cached, ok := t.db.stmts.Get(query); ok {
		return t.tx.StmtContext(ctx, cached)
	}
	return nil
}

// ExecContext executes query inside the transaction.
func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if stmt := t.stmt(ctx, query); stmt != nil {
		return stmt.ExecContext(ctx, args...)
	}
	return t.tx.ExecContext(ctx, query, args...)
}

// QueryContext runs query inside the transaction.
func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if stmt := t.stmt(ctx, query); stmt != nil {
		return stmt.QueryContext(ctx, args...)
	}
	return t.tx.QueryContext(ctx, query, args...)
}

// QueryRowContext runs query inside the transaction.
func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	if stmt := t.stmt(ctx, query); stmt != nil {
		return stmt.QueryRowContext(ctx, args...)
	}
	return t.tx.QueryRowContext(ctx, query, args...)
}

// RunInTx runs fn inside a transaction. The transaction commits when fn
// returns nil and rolls back on error or panic.
func (db *DB) RunInTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := db.DB.BeginTx(ctx, nil)
	if err != nil {
		return StorageError("begin transaction", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = sqlTx.Rollback()
		}
	}()

	if err = fn(&Tx{tx: sqlTx, db: db}); err != nil {
		return err
	}
	if err = sqlTx.Commit(); err != nil {
		return StorageError("commit transaction", fmt.Errorf("commit: %w", err))
	}
	return nil
}
