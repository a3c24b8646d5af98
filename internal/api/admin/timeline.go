package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/domara/audit-engine/internal/middleware"
	"github.com/domara/audit-engine/internal/timeline"
)

// TimelineHandlers handles the grouped activity timeline.
type TimelineHandlers struct {
	timeline *timeline.Service
}

// NewTimelineHandlers creates a new TimelineHandlers instance.
func NewTimelineHandlers(svc *timeline.Service) *TimelineHandlers {
	return &TimelineHandlers{timeline: svc}
}

// GetTimelineHandler returns a user's recent activity grouped by transaction,
// each record annotated with whether the calling administrator could undo it.
// GET /v1/admin/timeline?user_id=&days=&include_non_undoable=
func (h *TimelineHandlers) GetTimelineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := uuid.Parse(c.Query("user_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "A valid user_id query parameter is required"})
			return
		}

		days := 0
		if raw := c.Query("days"); raw != "" {
			days, err = strconv.Atoi(raw)
			if err != nil || days < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a non-negative integer"})
				return
			}
		}

		includeNonUndoable := c.Query("include_non_undoable") == "true"

		groups, err := h.timeline.GetTimeline(
			c.Request.Context(), userID, days, includeNonUndoable, middleware.CallerRole(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load timeline"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"user_id": userID,
			"groups":  groups,
		})
	}
}

// GetGroupHandler returns one transaction group with its annotated members.
// GET /v1/admin/groups/:id
func (h *TimelineHandlers) GetGroupHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		groupID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid group ID"})
			return
		}

		view, err := h.timeline.GetGroup(c.Request.Context(), groupID, middleware.CallerRole(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load group"})
			return
		}
		if view == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "Transaction group not found"})
			return
		}

		c.JSON(http.StatusOK, view)
	}
}
