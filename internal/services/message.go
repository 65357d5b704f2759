package services

import (
	"context"

	"github.com/Francklinok/EasyRent-sub004/internal/db"
	"github.com/Francklinok/EasyRent-sub004/internal/errors"
	"github.com/Francklinok/EasyRent-sub004/internal/models"
	"github.com/Francklinok/EasyRent-sub004/internal/outbox"
	"github.com/Francklinok/EasyRent-sub004/internal/store"
)

// MessageInput is a message to send with optional attachments.
type MessageInput struct {
	models.Message
	Attachments []MediaInput `json:"attachments,omitempty"`
}

// MessageResult is a message as stored locally after a mutation.
type MessageResult struct {
	Message     models.Message      `json:"message"`
	Outcome     Outcome             `json:"-"`
	Attachments []models.Attachment `json:"attachments,omitempty"`
	Dropped     int                 `json:"dropped,omitempty"`
}

// MessageService manages chat messages.
type MessageService struct {
	ctx *Context
}

// NewMessageService creates a MessageService.
func NewMessageService(c *Context) *MessageService {
	return &MessageService{ctx: c}
}

// Send stores the message and its attachments and delivers it when
// possible.
func (s *MessageService) Send(ctx context.Context, in MessageInput) (*MessageResult, error) {
	if err := in.Message.Validate(); err != nil {
		return nil, validation(err)
	}

	rec, out, err := s.ctx.apply(ctx, change{
		entityType: models.EntityMessage,
		fields:     in.Message.ToFields(),
	})
	if err != nil {
		return nil, err
	}

	res := &MessageResult{Message: models.MessageFromRecord(rec), Outcome: out}
	for _, m := range in.Attachments {
		if s.ctx.Attachments == nil {
			return res, errors.New(errors.ErrAttachment, "attachments are not configured")
		}
		kind := m.Kind
		if kind == "" {
			kind = models.KindDocument
		}
		att, err := s.ctx.Attachments.Ingest(ctx, models.EntityMessage, rec.ID, m.Path, kind)
		if err != nil {
			return res, err
		}
		if att == nil {
			res.Dropped++
			continue
		}
		res.Attachments = append(res.Attachments, *att)
	}
	return res, nil
}

// MarkRead flags the message as read.
func (s *MessageService) MarkRead(ctx context.Context, id string) (*MessageResult, error) {
	rec, out, err := s.ctx.apply(ctx, change{
		entityType: models.EntityMessage,
		localID:    id,
		fields:     models.Fields{"read": true},
		draft: func(models.Record) outbox.Draft {
			return outbox.MarkReadDraft(id)
		},
	})
	if err != nil {
		return nil, err
	}
	return &MessageResult{Message: models.MessageFromRecord(rec), Outcome: out}, nil
}

// Get returns a live message.
func (s *MessageService) Get(ctx context.Context, id string) (models.Message, error) {
	rec, err := s.ctx.Store.Get(ctx, models.EntityMessage, id)
	if err != nil {
		return models.Message{}, err
	}
	if rec.Deleted {
		return models.Message{}, errors.NotFound(string(models.EntityMessage), id)
	}
	return models.MessageFromRecord(rec), nil
}

// Conversation returns a conversation's messages, oldest first.
func (s *MessageService) Conversation(ctx context.Context, conversationID string, filters ...db.Filter) ([]models.Message, error) {
	filters = append([]db.Filter{
		store.Live(),
		db.Eq("conversationId", conversationID),
		db.OrderBy("sentAt"),
	}, filters...)
	recs, err := s.ctx.Store.Query(ctx, models.EntityMessage, filters...)
	if err != nil {
		return nil, err
	}
	out := make([]models.Message, len(recs))
	for i, r := range recs {
		out[i] = models.MessageFromRecord(r)
	}
	return out, nil
}

// Attachments lists a message's attachments.
func (s *MessageService) Attachments(ctx context.Context, id string) ([]models.Attachment, error) {
	return s.ctx.Store.ListAttachments(ctx, models.EntityMessage, id)
}
