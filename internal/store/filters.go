package store

import (
	"github.com/Francklinok/EasyRent-sub004/internal/db"
	"github.com/Francklinok/EasyRent-sub004/internal/models"
)

var baseColumns = map[string]string{
	"id":           "id",
	"serverId":     "server_id",
	"syncStatus":   "sync_status",
	"lastSyncAt":   "last_sync_at",
	"errorMessage": "error_message",
	"deleted":      "deleted",
	"createdAt":    "created_at",
	"updatedAt":    "updated_at",
}

// resolver maps filter fields to the record columns, the mirrored entity
// columns, or a JSON lookup into the payload. alias qualifies columns in
// joins.
func resolver(info models.EntityInfo, alias string) db.ColumnResolver {
	prefix := ""
	if alias != "" {
		prefix = alias + "."
	}
	return func(field string) (string, bool) {
		if col, ok := baseColumns[field]; ok {
			return prefix + col, true
		}
		if col, ok := info.Column(field); ok {
			return prefix + col, true
		}
		if db.ValidFieldName(field) {
			return "json_extract(" + prefix + "fields, '$." + field + "')", true
		}
		return "", false
	}
}

// Status matches records in the given sync status.
func Status(s models.SyncStatus) db.Filter {
	return db.Eq("syncStatus", string(s))
}

// HasServerID matches records acknowledged by the remote service.
func HasServerID() db.Filter {
	return db.IsSet("serverId")
}

// Live excludes tombstoned records.
func Live() db.Filter {
	return db.Eq("deleted", false)
}
