// Package store is the durable per-entity record store. Every write runs in
// a scoped transaction so field and sync-status changes land together.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/Francklinok/EasyRent-sub004/internal/db"
	"github.com/Francklinok/EasyRent-sub004/internal/errors"
	"github.com/Francklinok/EasyRent-sub004/internal/models"
	"github.com/Francklinok/EasyRent-sub004/internal/uuid"
)

const recordColumns = "id, server_id, fields, sync_status, last_sync_at, error_message, deleted, created_at, updated_at"

// Store reads and writes LocalRecords.
type Store struct {
	db  *db.DB
	q   db.Querier
	tx  *db.Tx
	now func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over d.
func New(d *db.DB, opts ...Option) *Store {
	s := &Store{db: d, q: d, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithTx returns a Store bound to tx. Its writes commit or roll back with
// the transaction.
func (s *Store) WithTx(tx *db.Tx) *Store {
	return &Store{db: s.db, q: tx, tx: tx, now: s.now}
}

// atomic runs fn in the current transaction, or a new one.
func (s *Store) atomic(ctx context.Context, fn func(s *Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	return s.db.RunInTx(ctx, func(tx *db.Tx) error {
		return fn(s.WithTx(tx))
	})
}

// Patch describes an update. Fields are merged into the stored payload; the
// other members are applied only when set.
type Patch struct {
	Fields       models.Fields
	SyncStatus   *models.SyncStatus
	ServerID     *string
	LastSyncAt   *int64
	ErrorMessage *string
	ClearError   bool
	Deleted      *bool
}

// Create allocates an id and writes a complete record with the given
// status.
func (s *Store) Create(ctx context.Context, entityType models.EntityType, fields models.Fields, status models.SyncStatus) (models.Record, error) {
	info, err := lookup(entityType)
	if err != nil {
		return models.Record{}, err
	}
	if !status.Valid() {
		return models.Record{}, errors.Newf(errors.ErrInvalid, "invalid sync status %q", status)
	}

	now := s.now().UnixMilli()
	rec := models.Record{
		ID:         uuid.NewLocalID(),
		EntityType: entityType,
		Fields:     fields.Clone(),
		SyncStatus: status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.insert(ctx, info, rec); err != nil {
		return models.Record{}, err
	}
	return rec, nil
}

func (s *Store) insert(ctx context.Context, info models.EntityInfo, rec models.Record) error {
	payload, err := json.Marshal(rec.Fields)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "encode fields", err)
	}

	cols := []string{"id", "server_id", "fields", "sync_status", "last_sync_at", "error_message", "deleted", "created_at", "updated_at"}
	args := []any{rec.ID, nullString(rec.ServerID), string(payload), string(rec.SyncStatus),
		rec.LastSyncAt, rec.ErrorMessage, rec.Deleted, rec.CreatedAt, rec.UpdatedAt}
	for _, c := range info.Columns {
		cols = append(cols, c.Name)
		args = append(args, mirrorValue(rec.Fields[c.Field]))
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		info.Table, strings.Join(cols, ", "), placeholders(len(cols)))
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return db.StorageError("insert "+string(info.Type), err)
	}
	return nil
}

// Update applies patch to the record and bumps UpdatedAt. It fails with
// NOT_FOUND when the record does not exist.
func (s *Store) Update(ctx context.Context, entityType models.EntityType, localID string, patch Patch) (models.Record, error) {
	info, err := lookup(entityType)
	if err != nil {
		return models.Record{}, err
	}
	if patch.SyncStatus != nil && !patch.SyncStatus.Valid() {
		return models.Record{}, errors.Newf(errors.ErrInvalid, "invalid sync status %q", *patch.SyncStatus)
	}

	var out models.Record
	err = s.atomic(ctx, func(s *Store) error {
		rec, ok, err := s.Find(ctx, entityType, localID)
		if err != nil {
			return err
		}
		if !ok {
			return errors.NotFound(string(entityType), localID)
		}

		applyPatch(&rec, patch)
		now := s.now().UnixMilli()
		if now <= rec.UpdatedAt {
			now = rec.UpdatedAt + 1
		}
		rec.UpdatedAt = now

		if err := s.write(ctx, info, rec); err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

func applyPatch(rec *models.Record, patch Patch) {
	if len(patch.Fields) > 0 {
		rec.Fields = rec.Fields.Merge(patch.Fields)
	}
	if patch.SyncStatus != nil {
		rec.SyncStatus = *patch.SyncStatus
	}
	if patch.ServerID != nil {
		rec.ServerID = *patch.ServerID
	}
	if patch.LastSyncAt != nil {
		v := *patch.LastSyncAt
		rec.LastSyncAt = &v
	}
	if patch.ClearError {
		rec.ErrorMessage = nil
	}
	if patch.ErrorMessage != nil {
		msg := *patch.ErrorMessage
		rec.ErrorMessage = &msg
	}
	if patch.Deleted != nil {
		rec.Deleted = *patch.Deleted
	}
}

func (s *Store) write(ctx context.Context, info models.EntityInfo, rec models.Record) error {
	payload, err := json.Marshal(rec.Fields)
	if err != nil {
		return errors.Wrap(errors.ErrInvalid, "encode fields", err)
	}

	sets := []string{"server_id = ?", "fields = ?", "sync_status = ?", "last_sync_at = ?", "error_message = ?", "deleted = ?", "updated_at = ?"}
	args := []any{nullString(rec.ServerID), string(payload), string(rec.SyncStatus),
		rec.LastSyncAt, rec.ErrorMessage, rec.Deleted, rec.UpdatedAt}
	for _, c := range info.Columns {
		sets = append(sets, c.Name+" = ?")
		args = append(args, mirrorValue(rec.Fields[c.Field]))
	}
	args = append(args, rec.ID)

	query := fmt.Sprintf("UPDATE %s SET %s WHERE id = ?", info.Table, strings.Join(sets, ", "))
	if _, err := s.q.ExecContext(ctx, query, args...); err != nil {
		return db.StorageError("update "+string(info.Type), err)
	}
	return nil
}

// Find returns the record with localID, including tombstones.
func (s *Store) Find(ctx context.Context, entityType models.EntityType, localID string) (models.Record, bool, error) {
	info, err := lookup(entityType)
	if err != nil {
		return models.Record{}, false, err
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", recordColumns, info.Table)
	rec, err := scanRecord(s.q.QueryRowContext(ctx, query, localID), entityType)
	if stderrors.Is(err, sql.ErrNoRows) {
		return models.Record{}, false, nil
	}
	if err != nil {
		return models.Record{}, false, db.StorageError("find "+string(entityType), err)
	}
	return rec, true, nil
}

// Get is Find that reports a missing record as NOT_FOUND.
func (s *Store) Get(ctx context.Context, entityType models.EntityType, localID string) (models.Record, error) {
	rec, ok, err := s.Find(ctx, entityType, localID)
	if err != nil {
		return models.Record{}, err
	}
	if !ok {
		return models.Record{}, errors.NotFound(string(entityType), localID)
	}
	return rec, nil
}

// Query returns the records matching every filter, oldest first unless an
// order is given.
func (s *Store) Query(ctx context.Context, entityType models.EntityType, filters ...db.Filter) ([]models.Record, error) {
	info, err := lookup(entityType)
	if err != nil {
		return nil, err
	}

	where, args, order, limit, err := db.Clauses(resolver(info, ""), filters)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "build query", err)
	}
	if len(order) == 0 {
		order = []string{"created_at ASC", "id ASC"}
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s",
		recordColumns, info.Table, where, strings.Join(order, ", "))
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, db.StorageError("query "+string(entityType), err)
	}
	defer rows.Close()

	var out []models.Record
	for rows.Next() {
		rec, err := scanRecord(rows, entityType)
		if err != nil {
			return nil, db.StorageError("scan "+string(entityType), err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, db.StorageError("query "+string(entityType), err)
	}
	return out, nil
}

// HardDelete removes the row. Deleting a missing record is not an error.
func (s *Store) HardDelete(ctx context.Context, entityType models.EntityType, localID string) error {
	info, err := lookup(entityType)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE id = ?", info.Table)
	if _, err := s.q.ExecContext(ctx, query, localID); err != nil {
		return db.StorageError("delete "+string(entityType), err)
	}
	return nil
}

// Count returns the number of records matching filters.
func (s *Store) Count(ctx context.Context, entityType models.EntityType, filters ...db.Filter) (int, error) {
	info, err := lookup(entityType)
	if err != nil {
		return 0, err
	}
	where, args, _, _, err := db.Clauses(resolver(info, ""), filters)
	if err != nil {
		return 0, errors.Wrap(errors.ErrInvalid, "build query", err)
	}

	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s", info.Table, where)
	if err := s.q.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, db.StorageError("count "+string(entityType), err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, entityType models.EntityType) (models.Record, error) {
	var (
		rec       models.Record
		serverID  sql.NullString
		payload   string
		status    string
		lastSync  sql.NullInt64
		errMsg    sql.NullString
		deletedFl bool
	)
	if err := row.Scan(&rec.ID, &serverID, &payload, &status, &lastSync, &errMsg, &deletedFl, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
		return models.Record{}, err
	}

	rec.EntityType = entityType
	rec.ServerID = serverID.String
	rec.SyncStatus = models.SyncStatus(status)
	rec.Deleted = deletedFl
	if lastSync.Valid {
		v := lastSync.Int64
		rec.LastSyncAt = &v
	}
	if errMsg.Valid {
		msg := errMsg.String
		rec.ErrorMessage = &msg
	}

	dec := json.NewDecoder(strings.NewReader(payload))
	dec.UseNumber()
	rec.Fields = models.Fields{}
	if err := dec.Decode(&rec.Fields); err != nil {
		return models.Record{}, fmt.Errorf("decode fields of %s: %w", rec.ID, err)
	}
	return rec, nil
}

func lookup(entityType models.EntityType) (models.EntityInfo, error) {
	info, err := models.Lookup(entityType)
	if err != nil {
		return models.EntityInfo{}, errors.Wrap(errors.ErrInvalid, "entity type", err)
	}
	return info, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// mirrorValue converts a payload value for its typed column. Nested values
// are not mirrored.
func mirrorValue(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case map[string]any, []any:
		return nil
	default:
		return db.SQLValue(v)
	}
}
