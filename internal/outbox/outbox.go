// Package outbox is the durable, ordered queue of remote operations that
// have not been confirmed yet. Operation ids are AUTOINCREMENT and define
// replay order.
package outbox

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

const operationColumns = "id, kind, entity_type, local_id, payload, endpoint, method, attempts, status, last_error, idempotency_key, created_at, updated_at"

// Draft is an operation before it is persisted.
type Draft struct {
	Kind       models.OperationKind
	EntityType models.EntityType
	LocalID    string
	Payload    models.Fields
	Endpoint   string
	Method     string
	// IdempotencyKey is sent with every attempt. A fresh key is generated
	// when empty or already taken by an earlier operation.
	IdempotencyKey string
}

// Counts summarizes the queue by status.
type Counts struct {
	Queued          int `json:"queued"`
	InFlight        int `json:"in_flight"`
	Done            int `json:"done"`
	FailedPermanent int `json:"failed_permanent"`
}

// Active is the number of operations that still have to be applied.
func (c Counts) Active() int {
	return c.Queued + c.InFlight
}

// Queue is the outbox.
type Queue struct {
	db  *db.DB
	q   db.Querier
	tx  *db.Tx
	now func() time.Time
}

// New creates a Queue over d.
func New(d *db.DB) *Queue {
	return &Queue{db: d, q: d, now: time.Now}
}

// WithTx returns a Queue bound to tx, so an operation can be enqueued in
// the same transaction as the record it concerns.
func (q *Queue) WithTx(tx *db.Tx) *Queue {
	return &Queue{db: q.db, q: tx, tx: tx, now: q.now}
}

func (q *Queue) atomic(ctx context.Context, fn func(q *Queue) error) error {
	if q.tx != nil {
		return fn(q)
	}
	return q.db.RunInTx(ctx, func(tx *db.Tx) error {
		return fn(q.WithTx(tx))
	})
}

// Enqueue persists the operation. It is durable once Enqueue returns (or,
// for a tx-bound queue, once the transaction commits).
func (q *Queue) Enqueue(ctx context.Context, d Draft) (models.Operation, error) {
	if err := validateDraft(d); err != nil {
		return models.Operation{}, err
	}
	payload, err := json.Marshal(d.Payload)
	if err != nil {
		return models.Operation{}, errors.Wrap(errors.ErrInvalid, "encode payload", err)
	}
	if d.Payload == nil {
		payload = []byte("{}")
	}

	now := q.now().UnixMilli()
	op := models.Operation{
		Kind:       d.Kind,
		EntityType: d.EntityType,
		LocalID:    d.LocalID,
		Payload:    payload,
		Endpoint:   d.Endpoint,
		Method:     strings.ToUpper(d.Method),
		Status:     models.OpStatusQueued,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err = q.atomic(ctx, func(q *Queue) error {
		key, err := q.freshKey(ctx, d.IdempotencyKey)
		if err != nil {
			return err
		}
		op.IdempotencyKey = key

		res, err := q.q.ExecContext(ctx,
			`INSERT INTO outbox (kind, entity_type, local_id, payload, endpoint, method, attempts, status, idempotency_key, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
			string(op.Kind), string(op.EntityType), op.LocalID, string(op.Payload), op.Endpoint, op.Method,
			string(op.Status), op.IdempotencyKey, op.CreatedAt, op.UpdatedAt)
		if err != nil {
			return db.StorageError("enqueue operation", err)
		}
		op.ID, err = res.LastInsertId()
		return db.StorageError("enqueue operation", err)
	})
	if err != nil {
		return models.Operation{}, err
	}
	return op, nil
}

func (q *Queue) freshKey(ctx context.Context, want string) (string, error) {
	if want == "" {
		return uuid.New(), nil
	}
	var n int
	if err := q.q.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox WHERE idempotency_key = ?", want).Scan(&n); err != nil {
		return "", db.StorageError("check idempotency key", err)
	}
	if n > 0 {
		return uuid.New(), nil
	}
	return want, nil
}

func validateDraft(d Draft) error {
	switch d.Kind {
	case models.OpCreate, models.OpUpdate, models.OpPatch, models.OpMarkRead, models.OpDelete, models.OpUploadAttachment:
	default:
		return errors.Newf(errors.ErrInvalid, "unknown operation kind %q", d.Kind)
	}
	if _, err := models.Lookup(d.EntityType); err != nil {
		return errors.Wrap(errors.ErrInvalid, "operation entity type", err)
	}
	if d.LocalID == "" || d.Endpoint == "" || d.Method == "" {
		return errors.New(errors.ErrInvalid, "operation requires local id, endpoint and method")
	}
	return nil
}

// PeekNext returns the oldest queued operation, optionally restricted to
// one entity type (empty = any). An operation queued behind an in-flight
// one of its type is not returned until that one settles.
func (q *Queue) PeekNext(ctx context.Context, entityType models.EntityType) (models.Operation, bool, error) {
	query := "SELECT " + operationColumns + ` FROM outbox WHERE status = 'queued'
		AND NOT EXISTS (SELECT 1 FROM outbox AS head
			WHERE head.entity_type = outbox.entity_type AND head.status = 'in_flight' AND head.id < outbox.id)`
	var args []any
	if entityType != "" {
		query += " AND entity_type = ?"
		args = append(args, string(entityType))
	}
	query += " ORDER BY id ASC LIMIT 1"

	op, err := scanOperation(q.q.QueryRowContext(ctx, query, args...))
	if stderrors.Is(err, sql.ErrNoRows) {
		return models.Operation{}, false, nil
	}
	if err != nil {
		return models.Operation{}, false, db.StorageError("peek outbox", err)
	}
	return op, true, nil
}

// Get returns the operation with id.
func (q *Queue) Get(ctx context.Context, id int64) (models.Operation, error) {
	op, err := scanOperation(q.q.QueryRowContext(ctx, "SELECT "+operationColumns+" FROM outbox WHERE id = ?", id))
	if stderrors.Is(err, sql.ErrNoRows) {
		return models.Operation{}, errors.NotFound("operation", fmt.Sprint(id))
	}
	if err != nil {
		return models.Operation{}, db.StorageError("get operation", err)
	}
	return op, nil
}

// MarkInFlight claims a queued operation.
func (q *Queue) MarkInFlight(ctx context.Context, id int64) error {
	return q.transition(ctx, id, models.OpStatusInFlight, "", false, models.OpStatusQueued)
}

// MarkDone archives an applied operation.
func (q *Queue) MarkDone(ctx context.Context, id int64) error {
	return q.transition(ctx, id, models.OpStatusDone, "", false, models.OpStatusInFlight, models.OpStatusQueued)
}

// MarkFailedPermanent removes the operation from the active set for good.
func (q *Queue) MarkFailedPermanent(ctx context.Context, id int64, reason string) error {
	return q.transition(ctx, id, models.OpStatusFailedPermanent, reason, false, models.OpStatusInFlight, models.OpStatusQueued)
}

// Requeue returns an in-flight operation to the queue after a transport
// failure, counting the attempt. Its position is unchanged.
func (q *Queue) Requeue(ctx context.Context, id int64, reason string) error {
	return q.transition(ctx, id, models.OpStatusQueued, reason, true, models.OpStatusInFlight)
}

func (q *Queue) transition(ctx context.Context, id int64, to models.OperationStatus, reason string, attempt bool, from ...models.OperationStatus) error {
	set := "status = ?, updated_at = ?"
	args := []any{string(to), q.now().UnixMilli()}
	if reason != "" {
		set += ", last_error = ?"
		args = append(args, reason)
	}
	if attempt {
		set += ", attempts = attempts + 1"
	}

	in := make([]string, len(from))
	for i, s := range from {
		in[i] = "'" + string(s) + "'"
	}
	args = append(args, id)

	query := fmt.Sprintf("UPDATE outbox SET %s WHERE id = ? AND status IN (%s)", set, strings.Join(in, ", "))
	res, err := q.q.ExecContext(ctx, query, args...)
	if err != nil {
		return db.StorageError("update operation", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return db.StorageError("update operation", err)
	}
	if n == 0 {
		op, err := q.Get(ctx, id)
		if err != nil {
			return err
		}
		return errors.Newf(errors.ErrInvalid, "operation %d is %s, cannot become %s", id, op.Status, to)
	}
	return nil
}

// RecoverInFlight reverts operations left in flight by a crash to queued.
// Their idempotency keys are kept so a replay cannot apply twice remotely.
func (q *Queue) RecoverInFlight(ctx context.Context) (int, error) {
	res, err := q.q.ExecContext(ctx,
		"UPDATE outbox SET status = 'queued', updated_at = ? WHERE status = 'in_flight'", q.now().UnixMilli())
	if err != nil {
		return 0, db.StorageError("recover in-flight operations", err)
	}
	n, err := res.RowsAffected()
	return int(n), db.StorageError("recover in-flight operations", err)
}

// HasOutstanding reports whether a queued or in-flight operation other
// than exceptID references the record.
func (q *Queue) HasOutstanding(ctx context.Context, entityType models.EntityType, localID string, exceptID int64) (bool, error) {
	var n int
	err := q.q.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM outbox
		 WHERE entity_type = ? AND local_id = ? AND id <> ? AND status IN ('queued', 'in_flight')`,
		string(entityType), localID, exceptID).Scan(&n)
	if err != nil {
		return false, db.StorageError("check outstanding operations", err)
	}
	return n > 0, nil
}

// FailOutstanding fails every queued operation of a record for good and
// returns how many it failed. In-flight operations are left to settle.
func (q *Queue) FailOutstanding(ctx context.Context, entityType models.EntityType, localID, reason string) (int, error) {
	res, err := q.q.ExecContext(ctx,
		`UPDATE outbox SET status = 'failed_permanent', last_error = ?, updated_at = ?
		 WHERE entity_type = ? AND local_id = ? AND status = 'queued'`,
		reason, q.now().UnixMilli(), string(entityType), localID)
	if err != nil {
		return 0, db.StorageError("fail outstanding operations", err)
	}
	n, err := res.RowsAffected()
	return int(n), db.StorageError("fail outstanding operations", err)
}

// Counts returns the number of operations per status.
func (q *Queue) Counts(ctx context.Context) (Counts, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT status, COUNT(*) FROM outbox GROUP BY status")
	if err != nil {
		return Counts{}, db.StorageError("count outbox", err)
	}
	defer rows.Close()

	var c Counts
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Counts{}, db.StorageError("count outbox", err)
		}
		switch models.OperationStatus(status) {
		case models.OpStatusQueued:
			c.Queued = n
		case models.OpStatusInFlight:
			c.InFlight = n
		case models.OpStatusDone:
			c.Done = n
		case models.OpStatusFailedPermanent:
			c.FailedPermanent = n
		}
	}
	return c, db.StorageError("count outbox", rows.Err())
}

// EntityTypesWithQueued lists entity types that have queued operations.
func (q *Queue) EntityTypesWithQueued(ctx context.Context) ([]models.EntityType, error) {
	rows, err := q.q.QueryContext(ctx, "SELECT DISTINCT entity_type FROM outbox WHERE status = 'queued' ORDER BY entity_type")
	if err != nil {
		return nil, db.StorageError("list queued entity types", err)
	}
	defer rows.Close()

	var out []models.EntityType
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, db.StorageError("list queued entity types", err)
		}
		out = append(out, models.EntityType(t))
	}
	return out, db.StorageError("list queued entity types", rows.Err())
}

// ListOptions filters List. Zero values match everything.
type ListOptions struct {
	Status     models.OperationStatus
	EntityType models.EntityType
	LocalID    string
	Limit      int
}

// List returns operations in replay order.
func (q *Queue) List(ctx context.Context, opts ListOptions) ([]models.Operation, error) {
	var (
		conds []string
		args  []any
	)
	if opts.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.EntityType != "" {
		conds = append(conds, "entity_type = ?")
		args = append(args, string(opts.EntityType))
	}
	if opts.LocalID != "" {
		conds = append(conds, "local_id = ?")
		args = append(args, opts.LocalID)
	}

	query := "SELECT " + operationColumns + " FROM outbox"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY id ASC"
	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}

	rows, err := q.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, db.StorageError("list outbox", err)
	}
	defer rows.Close()

	var out []models.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, db.StorageError("list outbox", err)
		}
		out = append(out, op)
	}
	return out, db.StorageError("list outbox", rows.Err())
}

// PruneArchived deletes done operations last touched before cutoff.
// Permanently failed operations are kept for attribution.
func (q *Queue) PruneArchived(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := q.q.ExecContext(ctx, "DELETE FROM outbox WHERE status = 'done' AND updated_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, db.StorageError("prune outbox", err)
	}
	n, err := res.RowsAffected()
	return n, db.StorageError("prune outbox", err)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (models.Operation, error) {
	var (
		op         models.Operation
		kind       string
		entityType string
		payload    string
		status     string
		lastError  sql.NullString
	)
	err := row.Scan(&op.ID, &kind, &entityType, &op.LocalID, &payload, &op.Endpoint, &op.Method,
		&op.Attempts, &status, &lastError, &op.IdempotencyKey, &op.CreatedAt, &op.UpdatedAt)
	if err != nil {
		return models.Operation{}, err
	}
	op.Kind = models.OperationKind(kind)
	op.EntityType = models.EntityType(entityType)
	op.Payload = json.RawMessage(payload)
	op.Status = models.OperationStatus(status)
	op.LastError = lastError.String
	return op, nil
}
