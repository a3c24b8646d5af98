// Package models - user_notification.go defines the UserNotification model backing
// the end-user notification bell.
package models

import (
	"time"

	"github.com/google/uuid"
)

// NotificationType categorizes a notification for the client UI.
type NotificationType string

const (
	NotificationAdminAction   NotificationType = "admin_action"
	NotificationUndoPerformed NotificationType = "undo_performed"
	NotificationSystemAlert   NotificationType = "system_alert"
	NotificationAccountUpdate NotificationType = "account_update"
)

// NotificationPriority orders notifications for display and drives the urgent badge.
type NotificationPriority string

const (
	PriorityLow    NotificationPriority = "low"
	PriorityNormal NotificationPriority = "normal"
	PriorityHigh   NotificationPriority = "high"
	PriorityUrgent NotificationPriority = "urgent"
)

// Urgent reports whether the priority counts toward the urgent badge.
func (p NotificationPriority) Urgent() bool {
	return p == PriorityHigh || p == PriorityUrgent
}

// UserNotification is a message surfaced to an end user, typically because an
// administrator intervened in their data. Rows are mutated only to mark
// read/archived; expired rows become invisible to queries independent of deletion.
type UserNotification struct {
	ID           uuid.UUID              `json:"id" db:"id"`
	UserID       uuid.UUID              `json:"user_id" db:"user_id"`
	Type         NotificationType       `json:"type" db:"type"`
	Title        string                 `json:"title" db:"title"`
	Message      string                 `json:"message" db:"message"`
	UndoActionID *uuid.UUID             `json:"undo_action_id,omitempty" db:"undo_action_id"`
	Priority     NotificationPriority   `json:"priority" db:"priority"`
	Read         bool                   `json:"read" db:"read"`
	ReadAt       *time.Time             `json:"read_at,omitempty" db:"read_at"`
	Archived     bool                   `json:"archived" db:"archived"`
	ArchivedAt   *time.Time             `json:"archived_at,omitempty" db:"archived_at"`
	Metadata     map[string]interface{} `json:"metadata,omitempty" db:"-"`
	CreatedAt    time.Time              `json:"created_at" db:"created_at"`
	ExpiresAt    time.Time              `json:"expires_at" db:"expires_at"`
}
