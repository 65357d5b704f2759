package models

import (
	"encoding/json"
	"strings"
)

// OperationKind tags one mutating action.
type OperationKind string

const (
	OpCreate           OperationKind = "create"
	OpUpdate           OperationKind = "update"
	OpPatch            OperationKind = "patch"
	OpMarkRead         OperationKind = "mark_read"
	OpDelete           OperationKind = "delete"
	OpUploadAttachment OperationKind = "upload_attachment"
)

// OperationStatus is the lifecycle state of a queued operation.
type OperationStatus string

const (
	OpStatusQueued          OperationStatus = "queued"
	OpStatusInFlight        OperationStatus = "in_flight"
	OpStatusDone            OperationStatus = "done"
	OpStatusFailedPermanent OperationStatus = "failed_permanent"
)

// ServerIDPlaceholder is substituted with the record's server id when the
// operation is replayed.
const ServerIDPlaceholder = "{serverId}"

// Operation is a persisted outbound remote operation. ID ordering is
// replay ordering.
type Operation struct {
	ID             int64           `json:"id"`
	Kind           OperationKind   `json:"kind"`
	EntityType     EntityType      `json:"entity_type"`
	LocalID        string          `json:"local_id"`
	Payload        json.RawMessage `json:"payload"`
	Endpoint       string          `json:"endpoint"`
	Method         string          `json:"method"`
	Attempts       int             `json:"attempts"`
	Status         OperationStatus `json:"status"`
	LastError      string          `json:"last_error,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
	CreatedAt      int64           `json:"created_at"`
	UpdatedAt      int64           `json:"updated_at"`
}

// NeedsServerID reports whether the endpoint must be resolved against the
// record's server id before sending.
func (o *Operation) NeedsServerID() bool {
	return strings.Contains(o.Endpoint, ServerIDPlaceholder)
}

// ResolveEndpoint substitutes the server id into the endpoint template.
func (o *Operation) ResolveEndpoint(serverID string) string {
	return strings.ReplaceAll(o.Endpoint, ServerIDPlaceholder, serverID)
}

// Outstanding reports whether the operation still has to be applied.
func (o *Operation) Outstanding() bool {
	return o.Status == OpStatusQueued || o.Status == OpStatusInFlight
}

// Fields decodes the payload as a field map.
func (o *Operation) Fields() (Fields, error) {
	if len(o.Payload) == 0 {
		return Fields{}, nil
	}
	var f Fields
	if err := json.Unmarshal(o.Payload, &f); err != nil {
		return nil, err
	}
	return f, nil
}
