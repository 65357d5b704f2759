package attachment

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Francklinok/EasyRent-sub004/internal/db"
	apperrors "github.com/Francklinok/EasyRent-sub004/internal/errors"
	"github.com/Francklinok/EasyRent-sub004/internal/logging"
	"github.com/Francklinok/EasyRent-sub004/internal/models"
	"github.com/Francklinok/EasyRent-sub004/internal/outbox"
	"github.com/Francklinok/EasyRent-sub004/internal/store"
)

type staticConn bool

func (c staticConn) IsConnected() bool { return bool(c) }

type countingSyncer struct{ kicks atomic.Int32 }

func (s *countingSyncer) Kick(context.Context) { s.kicks.Add(1) }

type fixture struct {
	pipeline *Pipeline
	store    *store.Store
	outbox   *outbox.Queue
	syncer   *countingSyncer
	cacheDir string
	srcDir   string
}

func newFixture(t *testing.T, connected bool) *fixture {
	t.Helper()
	dir := t.TempDir()
	d, err := db.Open(dir)
	require.NoError(t, err)
	require.NoError(t, d.Migrate(logging.Discard()))
	t.Cleanup(func() { d.Close() })

	cacheDir := filepath.Join(dir, "attachments")
	cache, err := NewCache(cacheDir)
	require.NoError(t, err)

	f := &fixture{
		store:    store.New(d),
		outbox:   outbox.New(d),
		syncer:   &countingSyncer{},
		cacheDir: cacheDir,
		srcDir:   t.TempDir(),
	}
	f.pipeline = New(Config{
		DB:           d,
		Store:        f.store,
		Outbox:       f.outbox,
		Cache:        cache,
		Transform:    ImageTransform{MaxDim: 100, Quality: 70},
		Connectivity: staticConn(connected),
		Syncer:       f.syncer,
		Logger:       logging.Discard(),
	})
	return f
}

func (f *fixture) parent(t *testing.T, et models.EntityType) models.Record {
	t.Helper()
	rec, err := f.store.Create(context.Background(), et, models.Fields{"title": "A"}, models.SyncStatusPending)
	require.NoError(t, err)
	return rec
}

func (f *fixture) writeSource(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(f.srcDir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func (f *fixture) writeImage(t *testing.T, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(f.srcDir, name)
	img := imaging.New(w, h, color.NRGBA{R: 200, G: 40, B: 40, A: 255})
	require.NoError(t, imaging.Save(img, path))
	return path
}

func TestIngest_DocumentCopiedAndQueued(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	msg := f.parent(t, models.EntityMessage)
	src := f.writeSource(t, "lease.PDF", []byte("%PDF-1.4 lease agreement"))

	att, err := f.pipeline.Ingest(ctx, models.EntityMessage, msg.ID, src, models.KindDocument)
	require.NoError(t, err)
	require.NotNil(t, att)

	assert.Equal(t, models.SyncStatusPending, att.SyncStatus)
	assert.Equal(t, msg.ID, att.ParentID)
	assert.Equal(t, int64(24), att.Size)
	assert.Equal(t, "application/pdf", att.MimeType)
	assert.True(t, strings.HasPrefix(att.LocalPath, filepath.Join(f.cacheDir, "message-attachments")))
	assert.True(t, strings.HasSuffix(att.LocalPath, ".pdf"))
	assert.False(t, att.Uploaded())

	data, err := os.ReadFile(att.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 lease agreement", string(data))

	ops, err := f.outbox.List(ctx, outbox.ListOptions{EntityType: models.EntityMessageAttachment})
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, models.OpUploadAttachment, ops[0].Kind)
	assert.Equal(t, att.ID, ops[0].LocalID)

	assert.Zero(t, f.syncer.kicks.Load())
}

func TestIngest_ImageIsBounded(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	prop := f.parent(t, models.EntityProperty)
	src := f.writeImage(t, "facade.jpg", 400, 200)

	att, err := f.pipeline.Ingest(ctx, models.EntityProperty, prop.ID, src, models.KindImage, WithPrimary())
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.True(t, att.Primary)
	assert.True(t, strings.HasSuffix(att.LocalPath, ".jpg"))
	assert.Equal(t, "image/jpeg", att.MimeType)

	file, err := os.Open(att.LocalPath)
	require.NoError(t, err)
	defer file.Close()
	cfg, _, err := image.DecodeConfig(file)
	require.NoError(t, err)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)

	info, err := os.Stat(att.LocalPath)
	require.NoError(t, err)
	assert.Equal(t, info.Size(), att.Size)

	assert.Equal(t, int32(1), f.syncer.kicks.Load())
}

func TestIngest_PNGStaysPNG(t *testing.T) {
	f := newFixture(t, false)
	prop := f.parent(t, models.EntityProperty)
	src := f.writeImage(t, "plan.png", 50, 50)

	att, err := f.pipeline.Ingest(context.Background(), models.EntityProperty, prop.ID, src, models.KindImage)
	require.NoError(t, err)
	require.NotNil(t, att)
	assert.True(t, strings.HasSuffix(att.LocalPath, ".png"))
}

func TestIngest_PositionsFollowExisting(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	prop := f.parent(t, models.EntityProperty)

	for i := 0; i < 2; i++ {
		src := f.writeSource(t, "doc.txt", []byte("floor plan notes"))
		att, err := f.pipeline.Ingest(ctx, models.EntityProperty, prop.ID, src, models.KindDocument)
		require.NoError(t, err)
		assert.Equal(t, i, att.Position)
	}

	src := f.writeSource(t, "cover.txt", []byte("cover notes"))
	att, err := f.pipeline.Ingest(ctx, models.EntityProperty, prop.ID, src, models.KindDocument, WithPosition(7))
	require.NoError(t, err)
	assert.Equal(t, 7, att.Position)

	list, err := f.store.ListAttachments(ctx, models.EntityProperty, prop.ID)
	require.NoError(t, err)
	assert.Len(t, list, 3)
}

func TestIngest_MissingSourceIsDropped(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	msg := f.parent(t, models.EntityMessage)

	att, err := f.pipeline.Ingest(ctx, models.EntityMessage, msg.ID, filepath.Join(f.srcDir, "nope.jpg"), models.KindImage)
	assert.NoError(t, err)
	assert.Nil(t, att)

	n, err := f.store.Count(ctx, models.EntityMessageAttachment)
	require.NoError(t, err)
	assert.Zero(t, n)
	counts, err := f.outbox.Counts(ctx)
	require.NoError(t, err)
	assert.Zero(t, counts.Active())
	assert.Zero(t, f.syncer.kicks.Load())

	stats, err := f.pipeline.Cache().Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.TotalFiles)

	// The parent is untouched.
	got, err := f.store.Get(ctx, models.EntityMessage, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusPending, got.SyncStatus)
}

func TestIngest_CorruptImageIsDropped(t *testing.T) {
	f := newFixture(t, false)
	prop := f.parent(t, models.EntityProperty)
	src := f.writeSource(t, "broken.jpg", []byte("definitely not a jpeg"))

	att, err := f.pipeline.Ingest(context.Background(), models.EntityProperty, prop.ID, src, models.KindImage)
	assert.NoError(t, err)
	assert.Nil(t, att)

	stats, err := f.pipeline.Cache().Stats()
	require.NoError(t, err)
	assert.Zero(t, stats.TotalFiles)
}

func TestIngest_InvalidArguments(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	prop := f.parent(t, models.EntityProperty)
	src := f.writeSource(t, "a.txt", []byte("some text"))

	_, err := f.pipeline.Ingest(ctx, models.EntityPropertyImage, prop.ID, src, models.KindDocument)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = f.pipeline.Ingest(ctx, models.EntityProperty, prop.ID, src, "hologram")
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalid))

	_, err = f.pipeline.Ingest(ctx, models.EntityProperty, "missing", src, models.KindDocument)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestSweepOrphans(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	prop := f.parent(t, models.EntityProperty)
	src := f.writeSource(t, "a.txt", []byte("keep me around"))

	att, err := f.pipeline.Ingest(ctx, models.EntityProperty, prop.ID, src, models.KindDocument)
	require.NoError(t, err)

	dir, err := f.pipeline.Cache().Dir("property-images")
	require.NoError(t, err)
	orphan := filepath.Join(dir, "orphan.txt")
	require.NoError(t, os.WriteFile(orphan, []byte("left behind"), 0o600))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(orphan, old, old))
	fresh := filepath.Join(dir, "fresh.txt")
	require.NoError(t, os.WriteFile(fresh, []byte("being ingested"), 0o600))

	n, err := f.pipeline.SweepOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoFileExists(t, orphan)
	assert.FileExists(t, fresh)
	assert.FileExists(t, att.LocalPath)
}

func TestCache_RemoveRefusesOutsidePaths(t *testing.T) {
	c, err := NewCache(t.TempDir())
	require.NoError(t, err)

	outside := filepath.Join(t.TempDir(), "x")
	require.NoError(t, os.WriteFile(outside, []byte("x"), 0o600))
	assert.Error(t, c.Remove(outside))
	assert.FileExists(t, outside)
}
