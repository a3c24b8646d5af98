// Package models defines the database model types for the audit engine.
// Each type corresponds to a database table and uses struct tags for both JSON serialization and sqlx row scanning.
// Models are pure data types — business logic belongs in the engine packages, query logic in the repositories layer.
package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ActionKind identifies the kind of action an audit record documents.
type ActionKind string

const (
	ActionCreate       ActionKind = "create"
	ActionUpdate       ActionKind = "update"
	ActionDelete       ActionKind = "delete"
	ActionRead         ActionKind = "read"
	ActionLogin        ActionKind = "login"
	ActionLogout       ActionKind = "logout"
	ActionAccessDenied ActionKind = "access_denied"
)

// IsMutation reports whether the kind is one of create/update/delete — the only
// kinds that can ever be undone.
func (k ActionKind) IsMutation() bool {
	return k == ActionCreate || k == ActionUpdate || k == ActionDelete
}

// RelatedEntityRef identifies an entity affected by the same action as the
// primary entity — e.g. the apartments cascaded by a building delete. The list
// is captured at write time so undo feasibility stays deterministic even if
// schema relationships change later.
type RelatedEntityRef struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
}

// RequestMetadata captures the HTTP request context of the action, when there was one.
type RequestMetadata struct {
	IPAddress  *string `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string `json:"user_agent,omitempty" db:"user_agent"`
	Endpoint   *string `json:"endpoint,omitempty" db:"endpoint"`
	Method     *string `json:"method,omitempty" db:"method"`
	StatusCode *int    `json:"status_code,omitempty" db:"status_code"`
}

// AuditRecord represents one mutating (or security-relevant) action. Records are
// created once, in the same unit of work as the business mutation they document,
// and never mutated afterwards except to attach undo actions.
type AuditRecord struct {
	ID              uuid.UUID       `json:"id" db:"id"`
	GroupID         uuid.UUID       `json:"group_id" db:"group_id"` // correlation key, shared across a multi-step operation
	UserID          *uuid.UUID      `json:"user_id,omitempty" db:"user_id"`
	AdminID         *uuid.UUID      `json:"admin_id,omitempty" db:"admin_id"` // set when an operator acted on someone else's data
	Action          ActionKind      `json:"action" db:"action"`
	EntityType      string          `json:"entity_type" db:"entity_type"`
	EntityID        *string         `json:"entity_id,omitempty" db:"entity_id"`
	Description     string          `json:"description" db:"description"`
	Context         *string         `json:"context,omitempty" db:"context"`
	BeforeSnapshot  json.RawMessage `json:"before_snapshot,omitempty" db:"before_snapshot"`
	AfterSnapshot   json.RawMessage `json:"after_snapshot,omitempty" db:"after_snapshot"`
	RelatedEntities json.RawMessage `json:"related_entities,omitempty" db:"related_entities"` // JSONB array of RelatedEntityRef
	IsUndoable      bool            `json:"is_undoable" db:"is_undoable"`
	Tier            Tier            `json:"tier" db:"tier"`
	RequestMetadata                 // flattened into the row and the JSON body
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at" db:"expires_at"` // always created_at + retention window
}

// Related decodes the related-entities payload. A nil or empty payload decodes
// to an empty slice, never an error.
func (r *AuditRecord) Related() []RelatedEntityRef {
	if len(r.RelatedEntities) == 0 {
		return nil
	}
	var refs []RelatedEntityRef
	if err := json.Unmarshal(r.RelatedEntities, &refs); err != nil {
		return nil
	}
	return refs
}

// Expired reports whether the record's retention window has elapsed at the given time.
func (r *AuditRecord) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
