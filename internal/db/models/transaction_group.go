// Package models - transaction_group.go defines the TransactionGroup model: a named
// cluster of audit records produced by one logical multi-step operation.
package models

import (
	"time"

	"github.com/google/uuid"
)

// TransactionGroup aggregates the audit records sharing a correlation id. Groups
// are created lazily on first sight of an unseen id and updated incrementally as
// records are appended. The aggregate tier is the max over members and never
// decreases; AllUndoable flips to false as soon as any member is not undoable.
type TransactionGroup struct {
	ID            uuid.UUID  `json:"id" db:"id"` // the correlation key itself
	Name          string     `json:"name" db:"name"`
	Description   *string    `json:"description,omitempty" db:"description"`
	PrimaryUserID *uuid.UUID `json:"primary_user_id,omitempty" db:"primary_user_id"`
	TotalActions  int        `json:"total_actions" db:"total_actions"`
	UndoableCount int        `json:"undoable_count" db:"undoable_count"`
	AggregateTier Tier       `json:"aggregate_tier" db:"aggregate_tier"`
	AllUndoable   bool       `json:"all_undoable" db:"all_undoable"`
	Undone        bool       `json:"undone" db:"undone"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}
