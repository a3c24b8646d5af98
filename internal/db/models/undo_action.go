// Package models - undo_action.go defines the UndoAction model: one attempt
// (successful or not) to reverse an audit record.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// UndoStatus is the state of an undo attempt. Transitions are strictly
// pending → executing → completed|failed; cancelled is reachable only from pending.
type UndoStatus string

const (
	UndoPending   UndoStatus = "pending"
	UndoExecuting UndoStatus = "executing"
	UndoCompleted UndoStatus = "completed"
	UndoFailed    UndoStatus = "failed"
	UndoCancelled UndoStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible from s.
func (s UndoStatus) Terminal() bool {
	return s == UndoCompleted || s == UndoFailed || s == UndoCancelled
}

// UndoAction records an administrator's attempt to reverse an audit record.
// At most one action per record may ever reach completed; once one succeeds the
// record is permanently no longer undoable.
type UndoAction struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	AuditRecordID uuid.UUID       `json:"audit_record_id" db:"audit_record_id"`
	AdminID       uuid.UUID       `json:"admin_id" db:"admin_id"`
	Status        UndoStatus      `json:"status" db:"status"`
	Reason        string          `json:"reason" db:"reason"`
	Preview       json.RawMessage `json:"preview,omitempty" db:"preview"` // planned changes shown to the admin before confirming
	ExecutionLog  *string         `json:"execution_log,omitempty" db:"execution_log"`
	ErrorMessage  *string         `json:"error_message,omitempty" db:"error_message"`
	StartedAt     time.Time       `json:"started_at" db:"started_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}
