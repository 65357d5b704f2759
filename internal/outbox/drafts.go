package outbox

import (
	"net/http"

	"github.com/Francklinok/EasyRent-sub004/internal/models"
)

func resource(entityType models.EntityType) string {
	return models.Entities[entityType].Resource
}

func recordEndpoint(entityType models.EntityType) string {
	return resource(entityType) + "/" + models.ServerIDPlaceholder
}

// CreateDraft posts a new record. The local id doubles as the idempotency
// key, so a direct attempt and its queued retry dedupe remotely.
func CreateDraft(entityType models.EntityType, localID string, fields models.Fields) Draft {
	return Draft{
		Kind:           models.OpCreate,
		EntityType:     entityType,
		LocalID:        localID,
		Payload:        fields,
		Endpoint:       resource(entityType),
		Method:         http.MethodPost,
		IdempotencyKey: localID,
	}
}

// UpdateDraft replaces the remote record with fields.
func UpdateDraft(entityType models.EntityType, localID string, fields models.Fields) Draft {
	return Draft{
		Kind:       models.OpUpdate,
		EntityType: entityType,
		LocalID:    localID,
		Payload:    fields,
		Endpoint:   recordEndpoint(entityType),
		Method:     http.MethodPut,
	}
}

// PatchDraft sends a partial update.
func PatchDraft(entityType models.EntityType, localID string, fields models.Fields) Draft {
	return Draft{
		Kind:       models.OpPatch,
		EntityType: entityType,
		LocalID:    localID,
		Payload:    fields,
		Endpoint:   recordEndpoint(entityType),
		Method:     http.MethodPatch,
	}
}

// MarkReadDraft flags a message as read.
func MarkReadDraft(localID string) Draft {
	return Draft{
		Kind:       models.OpMarkRead,
		EntityType: models.EntityMessage,
		LocalID:    localID,
		Payload:    models.Fields{"read": true},
		Endpoint:   recordEndpoint(models.EntityMessage),
		Method:     http.MethodPatch,
	}
}

// DeleteDraft deletes the remote record.
func DeleteDraft(entityType models.EntityType, localID string) Draft {
	return Draft{
		Kind:       models.OpDelete,
		EntityType: entityType,
		LocalID:    localID,
		Endpoint:   recordEndpoint(entityType),
		Method:     http.MethodDelete,
	}
}

// UploadDraft uploads an attachment's file. The parent's server id is
// resolved at replay time.
func UploadDraft(entityType models.EntityType, att models.Attachment) Draft {
	return Draft{
		Kind:       models.OpUploadAttachment,
		EntityType: entityType,
		LocalID:    att.ID,
		Payload: models.Fields{
			models.FieldParentID:  att.ParentID,
			models.FieldLocalPath: att.LocalPath,
			models.FieldPosition:  att.Position,
			models.FieldPrimary:   att.Primary,
			models.FieldKind:      string(att.Kind),
			models.FieldMimeType:  att.MimeType,
		},
		Endpoint:       resource(entityType),
		Method:         http.MethodPost,
		IdempotencyKey: att.ID,
	}
}
