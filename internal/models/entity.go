package models

import "fmt"

// EntityType identifies a kind of locally stored record.
type EntityType string

const (
	EntityProperty          EntityType = "property"
	EntityMessage           EntityType = "message"
	EntityPropertyImage     EntityType = "property_image"
	EntityMessageAttachment EntityType = "message_attachment"
)

// Column mirrors one payload field into a typed, queryable table column.
type Column struct {
	Name  string // SQL column name
	Field string // key in Fields
}

// EntityInfo describes how an entity type is stored locally and addressed
// remotely.
type EntityInfo struct {
	Type     EntityType
	Table    string
	Resource string // remote path segment, e.g. "properties"
	Parent   EntityType
	Columns  []Column
}

// IsAttachment reports whether the entity is a media attachment owned by a
// parent record.
func (e EntityInfo) IsAttachment() bool {
	return e.Parent != ""
}

// Column returns the SQL column mirroring field, if any.
func (e EntityInfo) Column(field string) (string, bool) {
	for _, c := range e.Columns {
		if c.Field == field {
			return c.Name, true
		}
	}
	return "", false
}

var attachmentColumns = []Column{
	{Name: "parent_id", Field: FieldParentID},
	{Name: "local_path", Field: FieldLocalPath},
	{Name: "remote_url", Field: FieldRemoteURL},
	{Name: "kind", Field: FieldKind},
	{Name: "size", Field: FieldSize},
	{Name: "mime_type", Field: FieldMimeType},
	{Name: "position", Field: FieldPosition},
	{Name: "is_primary", Field: FieldPrimary},
}

// Entities is the registry of every entity type the store knows about.
var Entities = map[EntityType]EntityInfo{
	EntityProperty: {
		Type:     EntityProperty,
		Table:    "properties",
		Resource: "properties",
		Columns: []Column{
			{Name: "title", Field: "title"},
			{Name: "price", Field: "price"},
			{Name: "city", Field: "city"},
			{Name: "listing_type", Field: "listingType"},
			{Name: "owner_id", Field: "ownerId"},
		},
	},
	EntityMessage: {
		Type:     EntityMessage,
		Table:    "messages",
		Resource: "messages",
		Columns: []Column{
			{Name: "conversation_id", Field: "conversationId"},
			{Name: "sender_id", Field: "senderId"},
			{Name: "recipient_id", Field: "recipientId"},
			{Name: "is_read", Field: "read"},
			{Name: "sent_at", Field: "sentAt"},
		},
	},
	EntityPropertyImage: {
		Type:     EntityPropertyImage,
		Table:    "property_images",
		Resource: "property-images",
		Parent:   EntityProperty,
		Columns:  attachmentColumns,
	},
	EntityMessageAttachment: {
		Type:     EntityMessageAttachment,
		Table:    "message_attachments",
		Resource: "message-attachments",
		Parent:   EntityMessage,
		Columns:  attachmentColumns,
	},
}

// Lookup returns the registry entry for t.
func Lookup(t EntityType) (EntityInfo, error) {
	info, ok := Entities[t]
	if !ok {
		return EntityInfo{}, fmt.Errorf("unknown entity type %q", t)
	}
	return info, nil
}

// AttachmentTypeFor returns the attachment entity type owned by parent.
func AttachmentTypeFor(parent EntityType) (EntityType, error) {
	for _, info := range Entities {
		if info.Parent == parent {
			return info.Type, nil
		}
	}
	return "", fmt.Errorf("entity type %q has no attachments", parent)
}

// EntityTypes returns the parent types followed by the attachment types.
// Drain order relies on parents coming first.
func EntityTypes() []EntityType {
	return []EntityType{EntityProperty, EntityMessage, EntityPropertyImage, EntityMessageAttachment}
}
