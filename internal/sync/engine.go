// Package sync drains the outbox against the remote API and reconciles the
// local store with the results.
package sync

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	gosync "sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Francklinok/EasyRent-sub004/internal/db"
	"github.com/Francklinok/EasyRent-sub004/internal/logging"
	"github.com/Francklinok/EasyRent-sub004/internal/metrics"
	"github.com/Francklinok/EasyRent-sub004/internal/models"
	"github.com/Francklinok/EasyRent-sub004/internal/outbox"
	"github.com/Francklinok/EasyRent-sub004/internal/remote"
	"github.com/Francklinok/EasyRent-sub004/internal/store"
)

// maxPasses bounds how many times a drain re-runs for triggers that
// arrived while it was running.
const maxPasses = 8

// Result is what happened to one operation.
type Result string

const (
	ResultSynced   Result = "synced"
	ResultFailed   Result = "failed"
	ResultDeferred Result = "deferred"
)

// EntityReport summarizes one entity type's queue within a drain.
type EntityReport struct {
	Synced   int  `json:"synced"`
	Failed   int  `json:"failed"`
	Deferred int  `json:"deferred"`
	Blocked  bool `json:"blocked"` // stopped at a head-of-line transport failure
}

// Report summarizes a drain. It is for observability only.
type Report struct {
	Synced    int                                 `json:"synced"`
	Failed    int                                 `json:"failed"`
	Deferred  int                                 `json:"deferred"`
	Pending   int                                 `json:"pending"`
	Coalesced bool                                `json:"coalesced"`
	Passes    int                                 `json:"passes"`
	StartedAt time.Time                           `json:"started_at"`
	Duration  time.Duration                       `json:"duration"`
	PerEntity map[models.EntityType]*EntityReport `json:"per_entity,omitempty"`
}

func (r *Report) entity(t models.EntityType) *EntityReport {
	er, ok := r.PerEntity[t]
	if !ok {
		er = &EntityReport{}
		r.PerEntity[t] = er
	}
	return er
}

// EventType tags engine events.
type EventType string

const (
	EventDrainStarted   EventType = "drain_started"
	EventApplied        EventType = "applied"
	EventRejected       EventType = "rejected"
	EventDeferred       EventType = "deferred"
	EventDrainCompleted EventType = "drain_completed"
)

// Event is emitted to the registered handler as operations are processed.
type Event struct {
	Type        EventType         `json:"type"`
	EntityType  models.EntityType `json:"entity_type,omitempty"`
	LocalID     string            `json:"local_id,omitempty"`
	OperationID int64             `json:"operation_id,omitempty"`
	Message     string            `json:"message,omitempty"`
	Timestamp   int64             `json:"timestamp"`
}

// Engine replays queued operations. Only one drain runs at a time; a
// trigger arriving during a drain is coalesced into it.
type Engine struct {
	db      *db.DB
	store   *store.Store
	outbox  *outbox.Queue
	api     remote.API
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time

	draining atomic.Bool
	rerun    atomic.Bool
	wg       gosync.WaitGroup

	mu         gosync.RWMutex
	lastReport *Report
	lastErr    error
	handler    func(Event)
}

// Option configures an Engine.
type Option func(*Engine)

// WithTimeout bounds each remote call.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithClock overrides the clock used for lastSyncAt.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(d *db.DB, st *store.Store, ob *outbox.Queue, api remote.API, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		db:      d,
		store:   st,
		outbox:  ob,
		api:     api,
		logger:  logging.OrDiscard(logger).With(slog.String("component", "sync_engine")),
		timeout: 30 * time.Second,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetEventHandler registers a handler for engine events. Handlers run
// synchronously on the draining goroutine and must not block.
func (e *Engine) SetEventHandler(h func(Event)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = h
}

func (e *Engine) emit(ev Event) {
	e.mu.RLock()
	h := e.handler
	e.mu.RUnlock()
	if h != nil {
		ev.Timestamp = e.now().UnixMilli()
		h(ev)
	}
}

// Draining reports whether a drain is running.
func (e *Engine) Draining() bool {
	return e.draining.Load()
}

// LastReport returns the report of the last completed drain, or nil.
func (e *Engine) LastReport() *Report {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastReport
}

// LastError returns the error of the last drain, if any.
func (e *Engine) LastError() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.lastErr
}

// Kick starts a drain of every entity type in the background.
func (e *Engine) Kick(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		if _, err := e.Drain(ctx, ""); err != nil {
			e.logger.Error("background drain failed", slog.Any("error", err))
		}
	}()
}

// Wait blocks until drains started by Kick have returned.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Drain processes queued operations until every queue is empty or blocked
// on a transport failure. entityType restricts the drain to one type; empty
// drains all of them, parent types before attachment types.
func (e *Engine) Drain(ctx context.Context, entityType models.EntityType) (Report, error) {
	if !e.draining.CompareAndSwap(false, true) {
		e.rerun.Store(true)
		metrics.CoalescedTriggers.Inc()
		return Report{Coalesced: true}, nil
	}

	report := Report{
		StartedAt: e.now(),
		PerEntity: make(map[models.EntityType]*EntityReport),
	}
	e.emit(Event{Type: EventDrainStarted, EntityType: entityType})

	var err error
	for {
		for report.Passes < maxPasses {
			e.rerun.Store(false)
			report.Passes++
			if err = e.pass(ctx, entityType, &report); err != nil {
				break
			}
			if !e.rerun.Load() || ctx.Err() != nil {
				break
			}
		}
		if err != nil || ctx.Err() != nil || report.Passes >= maxPasses {
			e.draining.Store(false)
			break
		}
		if !e.release() {
			break
		}
	}

	if counts, cerr := e.outbox.Counts(context.WithoutCancel(ctx)); cerr == nil {
		report.Pending = counts.Active()
		metrics.OutboxBacklog.Set(float64(report.Pending))
	}
	for _, er := range report.PerEntity {
		report.Synced += er.Synced
		report.Failed += er.Failed
		report.Deferred += er.Deferred
	}
	report.Duration = time.Since(report.StartedAt)
	metrics.DrainDuration.Observe(report.Duration.Seconds())

	e.mu.Lock()
	e.lastReport = &report
	e.lastErr = err
	e.mu.Unlock()

	e.logger.Info("drain completed",
		slog.Int("synced", report.Synced),
		slog.Int("failed", report.Failed),
		slog.Int("deferred", report.Deferred),
		slog.Int("pending", report.Pending),
		slog.Int("passes", report.Passes),
		slog.Duration("duration", report.Duration),
	)
	e.emit(Event{Type: EventDrainCompleted, EntityType: entityType})
	return report, err
}

// release ends a drain. It reports true when a trigger was coalesced after
// the last pass looked for one; the caller then holds the drain again and
// must run another pass.
func (e *Engine) release() bool {
	e.draining.Store(false)
	return e.rerun.Load() && e.draining.CompareAndSwap(false, true)
}

// pass drains each requested entity type once. Types within a phase run
// concurrently; each type's queue is strictly sequential.
func (e *Engine) pass(ctx context.Context, only models.EntityType, report *Report) error {
	var phases [][]models.EntityType
	if only != "" {
		if _, err := models.Lookup(only); err != nil {
			return err
		}
		phases = [][]models.EntityType{{only}}
	} else {
		var parents, attachments []models.EntityType
		for _, t := range models.EntityTypes() {
			if models.Entities[t].IsAttachment() {
				attachments = append(attachments, t)
			} else {
				parents = append(parents, t)
			}
		}
		phases = [][]models.EntityType{parents, attachments}
	}

	var mu gosync.Mutex
	for _, phase := range phases {
		g, gctx := errgroup.WithContext(ctx)
		for _, t := range phase {
			g.Go(func() error {
				er, err := e.drainType(gctx, t)
				mu.Lock()
				acc := report.entity(t)
				acc.Synced += er.Synced
				acc.Failed += er.Failed
				acc.Deferred += er.Deferred
				acc.Blocked = acc.Blocked || er.Blocked
				mu.Unlock()
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
	}
	return nil
}

// drainType processes one entity type's queue in id order until it is
// empty or its head hits a transport failure.
func (e *Engine) drainType(ctx context.Context, t models.EntityType) (EntityReport, error) {
	var er EntityReport
	for {
		if err := ctx.Err(); err != nil {
			return er, nil
		}

		op, ok, err := e.outbox.PeekNext(ctx, t)
		if err != nil {
			return er, err
		}
		if !ok {
			return er, nil
		}

		result, err := e.process(ctx, op)
		if err != nil {
			return er, fmt.Errorf("process operation %d: %w", op.ID, err)
		}
		metrics.OperationsProcessed.WithLabelValues(string(result), string(t)).Inc()

		switch result {
		case ResultSynced:
			er.Synced++
		case ResultFailed:
			er.Failed++
		case ResultDeferred:
			er.Deferred++
			er.Blocked = true
			return er, nil
		}
	}
}

// process applies a single operation. The returned error is reserved for
// local storage failures; remote outcomes are expressed by the Result.
func (e *Engine) process(ctx context.Context, op models.Operation) (Result, error) {
	// Bookkeeping must complete even if the drain is being cancelled.
	bctx := context.WithoutCancel(ctx)
	log := e.logger.With(
		slog.Int64("operation_id", op.ID),
		slog.String("kind", string(op.Kind)),
		slog.String("entity_type", string(op.EntityType)),
		slog.String("local_id", op.LocalID),
	)

	if err := e.outbox.MarkInFlight(bctx, op.ID); err != nil {
		return "", err
	}

	rec, ok, err := e.store.Find(bctx, op.EntityType, op.LocalID)
	if err != nil {
		return "", err
	}
	if !ok {
		return e.fail(bctx, log, op, nil, "record no longer exists locally")
	}

	resp, err := e.call(ctx, op, rec)
	var pre *precondition
	switch {
	case err == nil:
		return e.succeed(bctx, log, op, rec, resp)
	case stderrors.As(err, &pre) && pre.permanent:
		return e.fail(bctx, log, op, &rec, pre.reason)
	case stderrors.As(err, &pre):
		return e.defer_(bctx, log, op, pre.reason)
	case remote.IsRejected(err):
		re, _ := remote.AsRejected(err)
		return e.fail(bctx, log, op, &rec, re.Message)
	default:
		return e.defer_(bctx, log, op, err.Error())
	}
}

// precondition reports that an operation could not be sent yet (or ever).
type precondition struct {
	reason    string
	permanent bool
}

func (p *precondition) Error() string { return p.reason }

func (e *Engine) call(ctx context.Context, op models.Operation, rec models.Record) (remote.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	if op.Kind == models.OpUploadAttachment {
		req, err := e.uploadRequest(ctx, op)
		if err != nil {
			return remote.Response{}, err
		}
		return e.api.Upload(callCtx, req)
	}

	path := op.Endpoint
	if op.NeedsServerID() {
		if !rec.HasServerID() {
			return remote.Response{}, &precondition{permanent: true,
				reason: fmt.Sprintf("%s has no server id; its create was not accepted", op.LocalID)}
		}
		path = op.ResolveEndpoint(rec.ServerID)
	}

	req := remote.Request{Method: op.Method, Path: path, IdempotencyKey: op.IdempotencyKey}
	if op.Kind != models.OpDelete {
		fields, err := op.Fields()
		if err != nil {
			return remote.Response{}, &precondition{permanent: true, reason: "corrupt payload: " + err.Error()}
		}
		req.Body = fields
	}
	return e.api.Send(callCtx, req)
}

// uploadRequest resolves the parent's server id. Uploads wait for the
// parent's create; a rejected parent fails them for good.
func (e *Engine) uploadRequest(ctx context.Context, op models.Operation) (remote.UploadRequest, error) {
	payload, err := op.Fields()
	if err != nil {
		return remote.UploadRequest{}, &precondition{permanent: true, reason: "corrupt payload: " + err.Error()}
	}
	info := models.Entities[op.EntityType]
	parentID := payload.String(models.FieldParentID)

	parent, ok, err := e.store.Find(context.WithoutCancel(ctx), info.Parent, parentID)
	if err != nil {
		return remote.UploadRequest{}, err
	}
	switch {
	case !ok:
		return remote.UploadRequest{}, &precondition{permanent: true, reason: "parent " + parentID + " no longer exists"}
	case !parent.HasServerID() && parent.SyncStatus == models.SyncStatusError:
		return remote.UploadRequest{}, &precondition{permanent: true, reason: "parent was rejected: " + parent.Error()}
	case !parent.HasServerID():
		return remote.UploadRequest{}, &precondition{reason: "waiting for parent " + parentID + " to sync"}
	}

	localPath := payload.String(models.FieldLocalPath)
	if _, err := os.Stat(localPath); err != nil {
		return remote.UploadRequest{}, &precondition{permanent: true, reason: "attachment file missing: " + localPath}
	}

	return remote.UploadRequest{
		Path:     op.Endpoint,
		FilePath: localPath,
		MimeType: payload.String(models.FieldMimeType),
		Fields: map[string]string{
			string(info.Parent) + "Id": parent.ServerID,
			"position":                 strconv.Itoa(payload.Int(models.FieldPosition)),
			"isPrimary":                strconv.FormatBool(payload.Bool(models.FieldPrimary)),
		},
		IdempotencyKey: op.IdempotencyKey,
	}, nil
}

func (e *Engine) succeed(ctx context.Context, log *slog.Logger, op models.Operation, rec models.Record, resp remote.Response) (Result, error) {
	err := e.db.RunInTx(ctx, func(tx *db.Tx) error {
		ob := e.outbox.WithTx(tx)
		st := e.store.WithTx(tx)

		if err := ob.MarkDone(ctx, op.ID); err != nil {
			return err
		}
		if op.Kind == models.OpDelete {
			return st.HardDelete(ctx, op.EntityType, op.LocalID)
		}

		outstanding, err := ob.HasOutstanding(ctx, op.EntityType, op.LocalID, op.ID)
		if err != nil {
			return err
		}

		now := e.now().UnixMilli()
		patch := store.Patch{LastSyncAt: &now, ClearError: true}
		status := models.SyncStatusSynced
		if outstanding {
			status = models.SyncStatusPending
		}
		patch.SyncStatus = &status

		switch op.Kind {
		case models.OpCreate:
			if resp.ID == "" {
				msg := "create acknowledged without an id"
				errStatus := models.SyncStatusError
				patch.SyncStatus = &errStatus
				patch.ErrorMessage = &msg
				patch.ClearError = false
			} else {
				patch.ServerID = &resp.ID
			}
		case models.OpUploadAttachment:
			if resp.ID != "" {
				patch.ServerID = &resp.ID
			}
			if resp.URL != "" {
				patch.Fields = models.Fields{models.FieldRemoteURL: resp.URL}
			}
		}

		_, err = st.Update(ctx, op.EntityType, op.LocalID, patch)
		return err
	})
	if err != nil {
		return "", err
	}

	log.Debug("operation applied", slog.String("server_id", resp.ID))
	e.emit(Event{Type: EventApplied, EntityType: op.EntityType, LocalID: op.LocalID, OperationID: op.ID})
	return ResultSynced, nil
}

// fail marks the operation failed for good and the record as errored.
// rec is nil when the record is gone. A record already in error keeps its
// message; the operation's last error carries the new reason.
func (e *Engine) fail(ctx context.Context, log *slog.Logger, op models.Operation, rec *models.Record, reason string) (Result, error) {
	err := e.db.RunInTx(ctx, func(tx *db.Tx) error {
		if err := e.outbox.WithTx(tx).MarkFailedPermanent(ctx, op.ID, reason); err != nil {
			return err
		}
		if rec == nil || (rec.SyncStatus == models.SyncStatusError && rec.Error() != "") {
			return nil
		}
		status := models.SyncStatusError
		_, err := e.store.WithTx(tx).Update(ctx, op.EntityType, op.LocalID, store.Patch{
			SyncStatus:   &status,
			ErrorMessage: &reason,
		})
		return err
	})
	if err != nil {
		return "", err
	}

	log.Warn("operation rejected", slog.String("reason", reason))
	e.emit(Event{Type: EventRejected, EntityType: op.EntityType, LocalID: op.LocalID, OperationID: op.ID, Message: reason})
	return ResultFailed, nil
}

// defer_ puts the operation back at the head of its queue. The record
// stays pending.
func (e *Engine) defer_(ctx context.Context, log *slog.Logger, op models.Operation, reason string) (Result, error) {
	if err := e.outbox.Requeue(ctx, op.ID, reason); err != nil {
		return "", err
	}
	log.Info("operation deferred", slog.String("reason", reason), slog.Int("attempts", op.Attempts+1))
	e.emit(Event{Type: EventDeferred, EntityType: op.EntityType, LocalID: op.LocalID, OperationID: op.ID, Message: reason})
	return ResultDeferred, nil
}
