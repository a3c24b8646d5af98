package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/domara/audit-engine/internal/middleware"
	"github.com/domara/audit-engine/internal/notify"
)

// NotificationHandlers handles the caller-scoped notification endpoints.
// Every operation acts on the authenticated user's own notifications; there
// is no cross-user access, whatever the role.
type NotificationHandlers struct {
	center *notify.Center
}

// NewNotificationHandlers creates a new NotificationHandlers instance.
func NewNotificationHandlers(center *notify.Center) *NotificationHandlers {
	return &NotificationHandlers{center: center}
}

// ListNotificationsHandler returns a page of the caller's unread notifications.
// GET /v1/notifications?limit=&offset=
func (h *NotificationHandlers) ListNotificationsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

		notifications, total, unread, err := h.center.ListUnread(
			c.Request.Context(), middleware.CallerID(c), limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notifications"})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"notifications": notifications,
			"total":         total,
			"unread":        unread,
		})
	}
}

// GetSummaryHandler returns the caller's badge summary.
// GET /v1/notifications/summary
func (h *NotificationHandlers) GetSummaryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		summary, err := h.center.Summary(c.Request.Context(), middleware.CallerID(c))
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load summary"})
			return
		}

		c.JSON(http.StatusOK, summary)
	}
}

// MarkReadRequest is the JSON body for marking notifications read.
type MarkReadRequest struct {
	IDs []string `json:"ids"`
	All bool     `json:"all"`
}

// MarkReadHandler marks the listed notifications read, or all of them.
// POST /v1/notifications/read
func (h *NotificationHandlers) MarkReadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req MarkReadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		ids, err := parseIDs(req.IDs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notification ID"})
			return
		}

		updated, err := h.center.MarkRead(c.Request.Context(), middleware.CallerID(c), ids, req.All)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to mark notifications read"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"updated": updated})
	}
}

// ArchiveRequest is the JSON body for archiving notifications.
type ArchiveRequest struct {
	IDs           []string `json:"ids"`
	OlderThanDays int      `json:"older_than_days"`
}

// ArchiveHandler hides the listed notifications, or everything older than the
// given number of days when no IDs are listed.
// POST /v1/notifications/archive
func (h *NotificationHandlers) ArchiveHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ArchiveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		ids, err := parseIDs(req.IDs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notification ID"})
			return
		}

		archived, err := h.center.Archive(c.Request.Context(), middleware.CallerID(c), ids, req.OlderThanDays)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to archive notifications"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"archived": archived})
	}
}

func parseIDs(raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
