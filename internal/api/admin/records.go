// Package admin implements the authenticated HTTP handlers of the audit
// engine: recording actions, analyzing and executing undos, the activity
// timeline, and user notifications. All routes in this package sit behind
// JWT auth and a role check (see internal/middleware).
package admin

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/domara/audit-engine/internal/db/models"
	"github.com/domara/audit-engine/internal/middleware"
	"github.com/domara/audit-engine/internal/recorder"
)

// RecordHandlers handles the audit record intake endpoint.
type RecordHandlers struct {
	recorder *recorder.Recorder
}

// NewRecordHandlers creates a new RecordHandlers instance.
func NewRecordHandlers(rec *recorder.Recorder) *RecordHandlers {
	return &RecordHandlers{recorder: rec}
}

// CreateRecordRequest is the JSON body for recording an action.
type CreateRecordRequest struct {
	GroupID   string `json:"group_id"`
	GroupName string `json:"group_name"`

	UserID string `json:"user_id"`

	Action      string  `json:"action" binding:"required"`
	EntityType  string  `json:"entity_type" binding:"required"`
	EntityID    *string `json:"entity_id"`
	Description string  `json:"description" binding:"required"`
	Context     *string `json:"context"`

	Before        json.RawMessage            `json:"before"`
	After         json.RawMessage            `json:"after"`
	Related       []models.RelatedEntityRef  `json:"related"`
	RelatedBefore json.RawMessage            `json:"related_before"`

	TierOverride *string `json:"tier_override"`
	NotUndoable  bool    `json:"not_undoable"`
}

// CreateRecordHandler records one action.
// POST /v1/records
func (h *RecordHandlers) CreateRecordHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateRecordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		in := recorder.Input{
			GroupName:     req.GroupName,
			Action:        models.ActionKind(req.Action),
			EntityType:    req.EntityType,
			EntityID:      req.EntityID,
			Description:   req.Description,
			Context:       req.Context,
			Before:        req.Before,
			After:         req.After,
			Related:       req.Related,
			RelatedBefore: req.RelatedBefore,
			NotUndoable:   req.NotUndoable,
			Request:       middleware.RequestMetadata(c),
		}

		if req.GroupID != "" {
			groupID, err := uuid.Parse(req.GroupID)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid group_id"})
				return
			}
			in.GroupID = groupID
		}

		if req.UserID != "" {
			userID, err := uuid.Parse(req.UserID)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user_id"})
				return
			}
			in.UserID = &userID
		}

		if adminID := middleware.CallerID(c); adminID != uuid.Nil {
			in.AdminID = &adminID
		}

		if req.TierOverride != nil {
			tier := models.Tier(*req.TierOverride)
			in.TierOverride = &tier
		}

		rec, err := h.recorder.Record(c.Request.Context(), in)
		if err != nil {
			if errors.Is(err, recorder.ErrInvalidInput) {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record action"})
			return
		}

		c.JSON(http.StatusCreated, rec)
	}
}
