package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/Francklinok/EasyRent-sub004/internal/db"
	"github.com/Francklinok/EasyRent-sub004/internal/errors"
	"github.com/Francklinok/EasyRent-sub004/internal/models"
)

// CreateAttachment writes an attachment record for an existing parent.
// LocalPath and ParentID are required.
func (s *Store) CreateAttachment(ctx context.Context, entityType models.EntityType, att models.Attachment, status models.SyncStatus) (models.Attachment, error) {
	info, err := lookup(entityType)
	if err != nil {
		return models.Attachment{}, err
	}
	if !info.IsAttachment() {
		return models.Attachment{}, errors.Newf(errors.ErrInvalid, "%s is not an attachment type", entityType)
	}
	if att.LocalPath == "" || att.ParentID == "" {
		return models.Attachment{}, errors.New(errors.ErrInvalid, "attachment requires a local path and a parent id")
	}
	if !att.Kind.Valid() {
		return models.Attachment{}, errors.Newf(errors.ErrInvalid, "invalid attachment kind %q", att.Kind)
	}

	rec, err := s.Create(ctx, entityType, att.ToFields(), status)
	if err != nil {
		return models.Attachment{}, err
	}
	return models.AttachmentFromRecord(rec), nil
}

// FindAttachment returns the attachment with localID.
func (s *Store) FindAttachment(ctx context.Context, entityType models.EntityType, localID string) (models.Attachment, bool, error) {
	rec, ok, err := s.Find(ctx, entityType, localID)
	if err != nil || !ok {
		return models.Attachment{}, ok, err
	}
	return models.AttachmentFromRecord(rec), true, nil
}

// ListAttachments returns the live attachments owned by a parent record,
// ordered by position. The relation is resolved with an explicit join on
// the parent table.
func (s *Store) ListAttachments(ctx context.Context, parentType models.EntityType, parentID string, filters ...db.Filter) ([]models.Attachment, error) {
	attType, err := models.AttachmentTypeFor(parentType)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "attachment type", err)
	}
	info, err := lookup(attType)
	if err != nil {
		return nil, err
	}
	parent, err := lookup(parentType)
	if err != nil {
		return nil, err
	}

	filters = append([]db.Filter{db.Eq("parentId", parentID), Live()}, filters...)
	where, args, order, limit, err := db.Clauses(resolver(info, "a"), filters)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalid, "build query", err)
	}
	if len(order) == 0 {
		order = []string{"a.position ASC", "a.created_at ASC"}
	}

	cols := make([]string, 0, 9)
	for _, c := range strings.Split(recordColumns, ", ") {
		cols = append(cols, "a."+c)
	}
	query := fmt.Sprintf("SELECT %s FROM %s a JOIN %s p ON p.id = a.parent_id WHERE %s ORDER BY %s",
		strings.Join(cols, ", "), info.Table, parent.Table, where, strings.Join(order, ", "))
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, db.StorageError("list attachments", err)
	}
	defer rows.Close()

	var out []models.Attachment
	for rows.Next() {
		rec, err := scanRecord(rows, attType)
		if err != nil {
			return nil, db.StorageError("scan attachment", err)
		}
		out = append(out, models.AttachmentFromRecord(rec))
	}
	if err := rows.Err(); err != nil {
		return nil, db.StorageError("list attachments", err)
	}
	return out, nil
}
