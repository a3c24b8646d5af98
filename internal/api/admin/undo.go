package admin

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/domara/audit-engine/internal/middleware"
	"github.com/domara/audit-engine/internal/undo"
)

// UndoHandlers handles undo analysis, execution, and cancellation.
type UndoHandlers struct {
	analyzer *undo.Analyzer
	executor *undo.Executor
}

// NewUndoHandlers creates a new UndoHandlers instance.
func NewUndoHandlers(analyzer *undo.Analyzer, executor *undo.Executor) *UndoHandlers {
	return &UndoHandlers{analyzer: analyzer, executor: executor}
}

// AnalyzeResponse is the pre-flight payload an administrator confirms against.
type AnalyzeResponse struct {
	*undo.Analysis
	AllowedForRole bool `json:"allowed_for_role"`
}

// AnalyzeUndoHandler reports whether a record can be undone and what the undo
// would rely on. Read-only: a blocked analysis leaves no trace.
// GET /v1/admin/records/:id/undo
func (h *UndoHandlers) AnalyzeUndoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		recordID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid record ID"})
			return
		}

		analysis, err := h.analyzer.AnalyzeRequirements(c.Request.Context(), recordID)
		if err != nil {
			if errors.Is(err, undo.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "Audit record not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to analyze record"})
			return
		}

		allowed, err := h.analyzer.CanUndoByRole(c.Request.Context(), recordID, middleware.CallerRole(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to analyze record"})
			return
		}

		c.JSON(http.StatusOK, AnalyzeResponse{Analysis: analysis, AllowedForRole: allowed})
	}
}

// ExecuteUndoRequest is the JSON body for executing an undo.
type ExecuteUndoRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// ExecuteUndoHandler attempts to undo a record. The response always carries
// the undo action documenting the attempt when one was created, whatever the
// outcome.
// POST /v1/admin/records/:id/undo
func (h *UndoHandlers) ExecuteUndoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		recordID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid record ID"})
			return
		}

		var req ExecuteUndoRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		// The role gate mirrors what the timeline showed this caller: a tier
		// outside the role's allowance is refused before any writes.
		allowed, err := h.analyzer.CanUndoByRole(c.Request.Context(), recordID, middleware.CallerRole(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to authorize undo"})
			return
		}
		if !allowed {
			c.JSON(http.StatusForbidden, gin.H{"error": "Your role may not undo this action"})
			return
		}

		action, err := h.executor.Execute(c.Request.Context(), recordID, middleware.CallerID(c), req.Reason)
		if err != nil {
			status, body := undoErrorResponse(err)
			if action != nil {
				body["undo_action"] = action
			}
			c.JSON(status, body)
			return
		}

		c.JSON(http.StatusOK, gin.H{"undo_action": action})
	}
}

// CancelUndoHandler withdraws a pending undo action.
// POST /v1/admin/undo-actions/:id/cancel
func (h *UndoHandlers) CancelUndoHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		actionID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid undo action ID"})
			return
		}

		if err := h.executor.Cancel(c.Request.Context(), actionID); err != nil {
			status, body := undoErrorResponse(err)
			c.JSON(status, body)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	}
}

// undoErrorResponse maps the undo failure taxonomy onto HTTP statuses.
func undoErrorResponse(err error) (int, gin.H) {
	var undoErr *undo.Error
	if !errors.As(err, &undoErr) {
		return http.StatusInternalServerError, gin.H{"error": "Undo failed"}
	}

	body := gin.H{
		"error":     undoErr.Error(),
		"kind":      string(undoErr.Kind),
		"retryable": undoErr.Retryable(),
	}

	switch undoErr.Kind {
	case undo.FailureValidation:
		return http.StatusConflict, body
	case undo.FailureRaceLost:
		return http.StatusConflict, body
	case undo.FailureExpired:
		return http.StatusGone, body
	default: // restore, snapshot
		return http.StatusInternalServerError, body
	}
}
