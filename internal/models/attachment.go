package models

// AttachmentKind classifies attachment media.
type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindDocument AttachmentKind = "document"
	KindAudio    AttachmentKind = "audio"
	KindVideo    AttachmentKind = "video"
)

// Valid reports whether k is a known kind.
func (k AttachmentKind) Valid() bool {
	switch k {
	case KindImage, KindDocument, KindAudio, KindVideo:
		return true
	}
	return false
}

// Field keys shared by attachment entity types.
const (
	FieldParentID  = "parentId"
	FieldLocalPath = "localPath"
	FieldRemoteURL = "url"
	FieldKind      = "kind"
	FieldSize      = "size"
	FieldMimeType  = "mimeType"
	FieldPosition  = "position"
	FieldPrimary   = "isPrimary"
)

// Attachment is a record referring to a local media file with an optional
// remote URL. LocalPath is always set.
type Attachment struct {
	Record
	ParentID  string         `json:"parent_id"`
	LocalPath string         `json:"local_path"`
	RemoteURL string         `json:"remote_url,omitempty"`
	Kind      AttachmentKind `json:"kind"`
	Size      int64          `json:"size"`
	MimeType  string         `json:"mime_type,omitempty"`
	Position  int            `json:"position"`
	Primary   bool           `json:"primary,omitempty"`
}

// Uploaded reports whether the remote copy exists.
func (a *Attachment) Uploaded() bool {
	return a.RemoteURL != ""
}

// ToFields maps the attachment metadata into a record payload.
func (a *Attachment) ToFields() Fields {
	f := Fields{
		FieldParentID:  a.ParentID,
		FieldLocalPath: a.LocalPath,
		FieldKind:      string(a.Kind),
		FieldSize:      a.Size,
		FieldPosition:  a.Position,
		FieldPrimary:   a.Primary,
	}
	if a.MimeType != "" {
		f[FieldMimeType] = a.MimeType
	}
	if a.RemoteURL != "" {
		f[FieldRemoteURL] = a.RemoteURL
	}
	return f
}

// AttachmentFromRecord maps a stored record back into an Attachment.
func AttachmentFromRecord(r Record) Attachment {
	f := r.Fields
	return Attachment{
		Record:    r,
		ParentID:  f.String(FieldParentID),
		LocalPath: f.String(FieldLocalPath),
		RemoteURL: f.String(FieldRemoteURL),
		Kind:      AttachmentKind(f.String(FieldKind)),
		Size:      f.Int64(FieldSize),
		MimeType:  f.String(FieldMimeType),
		Position:  f.Int(FieldPosition),
		Primary:   f.Bool(FieldPrimary),
	}
}
