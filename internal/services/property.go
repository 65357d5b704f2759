package services

import (
	"context"

	"github.com/Francklinok/EasyRent-sub004/internal/attachment"
	"github.com/Francklinok/EasyRent-sub004/internal/db"
	"github.com/Francklinok/EasyRent-sub004/internal/errors"
	"github.com/Francklinok/EasyRent-sub004/internal/models"
	"github.com/Francklinok/EasyRent-sub004/internal/outbox"
	"github.com/Francklinok/EasyRent-sub004/internal/store"
)

// MediaInput names a local file to attach.
type MediaInput struct {
	Path    string                `json:"path"`
	Kind    models.AttachmentKind `json:"kind,omitempty"`
	Primary bool                  `json:"primary,omitempty"`
}

// PropertyInput is a new listing with optional images.
type PropertyInput struct {
	models.Property
	Images []MediaInput `json:"images,omitempty"`
}

// PropertyResult is a listing as stored locally after a mutation.
type PropertyResult struct {
	Property models.Property     `json:"property"`
	Outcome  Outcome             `json:"-"`
	Images   []models.Attachment `json:"images,omitempty"`
	// Dropped counts images that could not be ingested.
	Dropped int `json:"dropped,omitempty"`
}

// PropertyService manages listings.
type PropertyService struct {
	ctx *Context
}

// NewPropertyService creates a PropertyService.
func NewPropertyService(c *Context) *PropertyService {
	return &PropertyService{ctx: c}
}

// Create stores the listing and its images. The record is readable
// locally as soon as Create returns, whatever the outcome.
func (s *PropertyService) Create(ctx context.Context, in PropertyInput) (*PropertyResult, error) {
	if err := in.Property.Validate(); err != nil {
		return nil, validation(err)
	}

	rec, out, err := s.ctx.apply(ctx, change{
		entityType: models.EntityProperty,
		fields:     in.Property.ToFields(),
	})
	if err != nil {
		return nil, err
	}

	res := &PropertyResult{Property: models.PropertyFromRecord(rec), Outcome: out}
	for _, img := range in.Images {
		att, err := s.AddImage(ctx, rec.ID, img)
		if err != nil {
			return res, err
		}
		if att == nil {
			res.Dropped++
			continue
		}
		res.Images = append(res.Images, *att)
	}
	return res, nil
}

// Update applies a partial change.
func (s *PropertyService) Update(ctx context.Context, id string, patch models.PropertyPatch) (*PropertyResult, error) {
	if err := patch.Validate(); err != nil {
		return nil, validation(err)
	}
	fields := patch.ToFields()
	if len(fields) == 0 {
		return nil, errors.New(errors.ErrInvalid, "nothing to update")
	}

	rec, out, err := s.ctx.apply(ctx, change{
		entityType: models.EntityProperty,
		localID:    id,
		fields:     fields,
		draft: func(models.Record) outbox.Draft {
			return outbox.PatchDraft(models.EntityProperty, id, fields)
		},
	})
	if err != nil {
		return nil, err
	}
	return &PropertyResult{Property: models.PropertyFromRecord(rec), Outcome: out}, nil
}

// Delete removes the listing. It stays as a tombstone until the remote
// delete is confirmed; a listing that never reached the remote service is
// removed at once.
func (s *PropertyService) Delete(ctx context.Context, id string) (Outcome, error) {
	_, out, err := s.ctx.apply(ctx, change{
		entityType: models.EntityProperty,
		localID:    id,
		delete:     true,
		draft: func(models.Record) outbox.Draft {
			return outbox.DeleteDraft(models.EntityProperty, id)
		},
	})
	return out, err
}

// Get returns a live listing.
func (s *PropertyService) Get(ctx context.Context, id string) (models.Property, error) {
	rec, err := s.ctx.Store.Get(ctx, models.EntityProperty, id)
	if err != nil {
		return models.Property{}, err
	}
	if rec.Deleted {
		return models.Property{}, errors.NotFound(string(models.EntityProperty), id)
	}
	return models.PropertyFromRecord(rec), nil
}

// List returns the live listings matching filters.
func (s *PropertyService) List(ctx context.Context, filters ...db.Filter) ([]models.Property, error) {
	recs, err := s.ctx.Store.Query(ctx, models.EntityProperty, append([]db.Filter{store.Live()}, filters...)...)
	if err != nil {
		return nil, err
	}
	out := make([]models.Property, len(recs))
	for i, r := range recs {
		out[i] = models.PropertyFromRecord(r)
	}
	return out, nil
}

// AddImage ingests an image for the listing. A nil attachment with a nil
// error means the file could not be read or transformed.
func (s *PropertyService) AddImage(ctx context.Context, id string, img MediaInput) (*models.Attachment, error) {
	if s.ctx.Attachments == nil {
		return nil, errors.New(errors.ErrAttachment, "attachments are not configured")
	}
	kind := img.Kind
	if kind == "" {
		kind = models.KindImage
	}
	var opts []attachment.IngestOption
	if img.Primary {
		opts = append(opts, attachment.WithPrimary())
	}
	return s.ctx.Attachments.Ingest(ctx, models.EntityProperty, id, img.Path, kind, opts...)
}

// Images lists the listing's images in display order.
func (s *PropertyService) Images(ctx context.Context, id string) ([]models.Attachment, error) {
	return s.ctx.Store.ListAttachments(ctx, models.EntityProperty, id)
}
