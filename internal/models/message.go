package models

import (
	"strings"
	"time"
)

// Message is a chat message between two users.
type Message struct {
	ID             string     `json:"id"`
	ServerID       string     `json:"server_id,omitempty"`
	ConversationID string     `json:"conversation_id"`
	SenderID       string     `json:"sender_id"`
	RecipientID    string     `json:"recipient_id,omitempty"`
	Content        string     `json:"content"`
	Read           bool       `json:"read"`
	SentAt         int64      `json:"sent_at"`
	SyncStatus     SyncStatus `json:"sync_status"`
	Error          string     `json:"error,omitempty"`
}

// Validate checks the fields required to send a message.
func (m *Message) Validate() error {
	if strings.TrimSpace(m.ConversationID) == "" {
		return errInvalid("conversation id is required")
	}
	if strings.TrimSpace(m.SenderID) == "" {
		return errInvalid("sender id is required")
	}
	return nil
}

// ToFields maps the message into a record payload.
func (m *Message) ToFields() Fields {
	sentAt := m.SentAt
	if sentAt == 0 {
		sentAt = time.Now().UnixMilli()
	}
	f := Fields{
		"conversationId": m.ConversationID,
		"senderId":       m.SenderID,
		"content":        m.Content,
		"read":           m.Read,
		"sentAt":         sentAt,
	}
	setString(f, "recipientId", m.RecipientID)
	return f
}

// MessageFromRecord maps a stored record back into a Message.
func MessageFromRecord(r Record) Message {
	f := r.Fields
	return Message{
		ID:             r.ID,
		ServerID:       r.ServerID,
		ConversationID: f.String("conversationId"),
		SenderID:       f.String("senderId"),
		RecipientID:    f.String("recipientId"),
		Content:        f.String("content"),
		Read:           f.Bool("read"),
		SentAt:         f.Int64("sentAt"),
		SyncStatus:     r.SyncStatus,
		Error:          r.Error(),
	}
}
