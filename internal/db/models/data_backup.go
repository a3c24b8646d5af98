// Package models - data_backup.go defines the DataBackup model: the point-in-time
// snapshot attached 1:1 to an undoable audit record.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DataBackup is the stored "before" state of an entity, sufficient to restore it.
// A backup exists only for records that are undoable and had a before snapshot
// available at record time. Rows are read-only after creation; a successful undo
// marks them consumed rather than deleting them, so the audit trail survives
// until the retention sweep.
type DataBackup struct {
	ID             uuid.UUID       `json:"id" db:"id"`
	AuditRecordID  uuid.UUID       `json:"audit_record_id" db:"audit_record_id"`
	EntityType     string          `json:"entity_type" db:"entity_type"`
	EntityID       *string         `json:"entity_id,omitempty" db:"entity_id"`
	Payload        json.RawMessage `json:"payload" db:"payload"`
	RelatedPayload json.RawMessage `json:"related_payload,omitempty" db:"related_payload"`
	FilesPath      *string         `json:"files_path,omitempty" db:"files_path"` // storage-backend path of the file bundle, if any
	PayloadSize    int64           `json:"payload_size" db:"payload_size"`
	Compressed     bool            `json:"compressed" db:"compressed"`
	ConsumedAt     *time.Time      `json:"consumed_at,omitempty" db:"consumed_at"`
	CreatedAt      time.Time       `json:"created_at" db:"created_at"`
	ExpiresAt      time.Time       `json:"expires_at" db:"expires_at"` // mirrors the parent record's expiry
}

// Consumed reports whether a completed undo has already used this backup.
func (b *DataBackup) Consumed() bool {
	return b.ConsumedAt != nil
}
