// Package models provides data model definitions for the offline sync core.
package models

import (
	"time"
)

// SyncStatus describes a record's relationship to the remote service.
type SyncStatus string

const (
	SyncStatusSynced  SyncStatus = "synced"
	SyncStatusPending SyncStatus = "pending"
	SyncStatusError   SyncStatus = "error"
)

// Valid reports whether s is one of the known statuses.
func (s SyncStatus) Valid() bool {
	switch s {
	case SyncStatusSynced, SyncStatusPending, SyncStatusError:
		return true
	}
	return false
}

// Record is the device-resident representation of a domain entity.
// Timestamps are Unix milliseconds assigned by the store.
type Record struct {
	ID           string     `json:"id"`
	EntityType   EntityType `json:"entity_type"`
	ServerID     string     `json:"server_id,omitempty"`
	Fields       Fields     `json:"fields"`
	SyncStatus   SyncStatus `json:"sync_status"`
	LastSyncAt   *int64     `json:"last_sync_at,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	Deleted      bool       `json:"deleted,omitempty"`
	CreatedAt    int64      `json:"created_at"`
	UpdatedAt    int64      `json:"updated_at"`
}

// HasServerID reports whether the creation has been acknowledged remotely.
func (r *Record) HasServerID() bool {
	return r.ServerID != ""
}

// CreatedAtTime returns the CreatedAt as time.Time.
func (r *Record) CreatedAtTime() time.Time {
	return time.UnixMilli(r.CreatedAt)
}

// UpdatedAtTime returns the UpdatedAt as time.Time.
func (r *Record) UpdatedAtTime() time.Time {
	return time.UnixMilli(r.UpdatedAt)
}

// LastSyncTime returns the last successful sync time, or the zero time.
func (r *Record) LastSyncTime() time.Time {
	if r.LastSyncAt == nil {
		return time.Time{}
	}
	return time.UnixMilli(*r.LastSyncAt)
}

// Error returns the stored error message, or "".
func (r *Record) Error() string {
	if r.ErrorMessage == nil {
		return ""
	}
	return *r.ErrorMessage
}
