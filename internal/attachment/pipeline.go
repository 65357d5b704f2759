// Package attachment copies user media into the private cache and queues
// it for upload independently of the owning record.
package attachment

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/Francklinok/EasyRent-sub004/internal/db"
	"github.com/Francklinok/EasyRent-sub004/internal/errors"
	"github.com/Francklinok/EasyRent-sub004/internal/logging"
	"github.com/Francklinok/EasyRent-sub004/internal/metrics"
	"github.com/Francklinok/EasyRent-sub004/internal/models"
	"github.com/Francklinok/EasyRent-sub004/internal/outbox"
	"github.com/Francklinok/EasyRent-sub004/internal/store"
	"github.com/Francklinok/EasyRent-sub004/internal/uuid"
)

// Ingest results for metrics.
const (
	resultStored  = "stored"
	resultDropped = "dropped"
	resultError   = "error"
)

// Connectivity is the reachability query the pipeline needs.
type Connectivity interface {
	IsConnected() bool
}

// Syncer starts a background drain.
type Syncer interface {
	Kick(ctx context.Context)
}

// Pipeline ingests attachments.
type Pipeline struct {
	db        *db.DB
	store     *store.Store
	outbox    *outbox.Queue
	cache     *Cache
	transform ImageTransform
	conn      Connectivity
	syncer    Syncer
	logger    *slog.Logger
}

// Config wires a Pipeline.
type Config struct {
	DB           *db.DB
	Store        *store.Store
	Outbox       *outbox.Queue
	Cache        *Cache
	Transform    ImageTransform
	Connectivity Connectivity
	// Syncer is optional; when set it is kicked after an ingest while
	// connected.
	Syncer Syncer
	Logger *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	return &Pipeline{
		db:        cfg.DB,
		store:     cfg.Store,
		outbox:    cfg.Outbox,
		cache:     cfg.Cache,
		transform: cfg.Transform,
		conn:      cfg.Connectivity,
		syncer:    cfg.Syncer,
		logger:    logging.OrDiscard(cfg.Logger).With(slog.String("component", "attachment_pipeline")),
	}
}

// Cache returns the pipeline's file cache.
func (p *Pipeline) Cache() *Cache {
	return p.cache
}

type ingestOptions struct {
	position *int
	primary  bool
}

// IngestOption customizes an ingest.
type IngestOption func(*ingestOptions)

// WithPosition sets the ordering hint. By default an attachment goes after
// the parent's existing ones.
func WithPosition(n int) IngestOption {
	return func(o *ingestOptions) { o.position = &n }
}

// WithPrimary flags the attachment as the parent's primary media.
func WithPrimary() IngestOption {
	return func(o *ingestOptions) { o.primary = true }
}

// Ingest copies source into the cache (images are resized and re-encoded
// first), records the attachment and queues its upload in one transaction.
//
// A failure to read or transform source is logged and reported as a nil
// attachment with a nil error, so that callers can go on with the parent
// mutation. Invalid arguments and local storage failures are errors.
func (p *Pipeline) Ingest(ctx context.Context, parentType models.EntityType, parentLocalID, source string, kind models.AttachmentKind, opts ...IngestOption) (*models.Attachment, error) {
	attType, err := models.AttachmentTypeFor(parentType)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "attachment parent", err)
	}
	if !kind.Valid() {
		return nil, errors.Newf(errors.ErrInvalid, "invalid attachment kind %q", kind)
	}
	parent, err := p.store.Get(ctx, parentType, parentLocalID)
	if err != nil {
		return nil, err
	}
	if parent.Deleted {
		return nil, errors.NotFound(string(parentType), parentLocalID)
	}

	var o ingestOptions
	for _, opt := range opts {
		opt(&o)
	}

	log := p.logger.With(
		slog.String("parent_type", string(parentType)),
		slog.String("parent_id", parentLocalID),
		slog.String("kind", string(kind)),
	)

	category := models.Entities[attType].Resource
	path, size, err := p.materialize(category, source, kind)
	if err != nil {
		metrics.AttachmentIngests.WithLabelValues(resultDropped, string(kind)).Inc()
		log.Error("attachment dropped", slog.String("source", source), slog.Any("error", err))
		return nil, nil
	}

	att := models.Attachment{
		ParentID:  parentLocalID,
		LocalPath: path,
		Kind:      kind,
		Size:      size,
		MimeType:  mimeType(path),
		Primary:   o.primary,
	}

	err = p.db.RunInTx(ctx, func(tx *db.Tx) error {
		st := p.store.WithTx(tx)
		if o.position != nil {
			att.Position = *o.position
		} else {
			existing, err := st.ListAttachments(ctx, parentType, parentLocalID)
			if err != nil {
				return err
			}
			att.Position = len(existing)
		}

		created, err := st.CreateAttachment(ctx, attType, att, models.SyncStatusPending)
		if err != nil {
			return err
		}
		if _, err := p.outbox.WithTx(tx).Enqueue(ctx, outbox.UploadDraft(attType, created)); err != nil {
			return err
		}
		att = created
		return nil
	})
	if err != nil {
		if rmErr := p.cache.Remove(path); rmErr != nil {
			log.Warn("failed to remove cached file", slog.Any("error", rmErr))
		}
		metrics.AttachmentIngests.WithLabelValues(resultError, string(kind)).Inc()
		return nil, err
	}

	metrics.AttachmentIngests.WithLabelValues(resultStored, string(kind)).Inc()
	log.Info("attachment ingested",
		slog.String("attachment_id", att.ID),
		slog.Int64("size", att.Size),
		slog.Int("position", att.Position),
	)

	if p.syncer != nil && p.conn != nil && p.conn.IsConnected() {
		p.syncer.Kick(context.WithoutCancel(ctx))
	}
	return &att, nil
}

// materialize writes source into the cache under a fresh name.
func (p *Pipeline) materialize(category, source string, kind models.AttachmentKind) (string, int64, error) {
	name := uuid.New()
	if kind == models.KindImage {
		ext, err := p.transform.Extension(source)
		if err != nil {
			return "", 0, err
		}
		return p.cache.Write(category, name+ext, func(w io.Writer) error {
			return p.transform.Apply(source, ext, w)
		})
	}

	name += strings.ToLower(filepath.Ext(source))
	return p.cache.Write(category, name, func(w io.Writer) error {
		f, err := os.Open(source)
		if err != nil {
			return fmt.Errorf("failed to open source: %w", err)
		}
		defer f.Close()
		if _, err := io.Copy(w, f); err != nil {
			return fmt.Errorf("failed to copy source: %w", err)
		}
		return nil
	})
}

// mimeType sniffs the cached file's content; extensions supplied by the
// user are not trusted.
func mimeType(path string) string {
	m, err := mimetype.DetectFile(path)
	if err != nil {
		return "application/octet-stream"
	}
	return m.String()
}

// sweepGrace protects files an in-progress ingest has written but not
// committed yet.
const sweepGrace = time.Minute

// SweepOrphans deletes cached files no attachment record refers to, such
// as the media of records removed after a successful delete.
func (p *Pipeline) SweepOrphans(ctx context.Context) (int, error) {
	referenced := make(map[string]bool)
	for _, t := range models.EntityTypes() {
		if !models.Entities[t].IsAttachment() {
			continue
		}
		recs, err := p.store.Query(ctx, t)
		if err != nil {
			return 0, err
		}
		for _, r := range recs {
			referenced[models.AttachmentFromRecord(r).LocalPath] = true
		}
	}

	var orphans []string
	cutoff := time.Now().Add(-sweepGrace)
	err := p.cache.walk(func(_ string, path string, info os.FileInfo) error {
		if !referenced[path] && info.ModTime().Before(cutoff) {
			orphans = append(orphans, path)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to scan attachment cache: %w", err)
	}

	removed := 0
	for _, path := range orphans {
		if err := p.cache.Remove(path); err != nil {
			p.logger.Warn("failed to remove orphaned file", slog.String("path", path), slog.Any("error", err))
			continue
		}
		removed++
	}
	if removed > 0 {
		p.logger.Info("removed orphaned attachment files", slog.Int("count", removed))
	}
	return removed, nil
}
