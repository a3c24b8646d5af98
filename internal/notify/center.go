// Package notify implements the notification center behind the end-user bell
// icon. Reads and writes go to the database; the badge summary, which is the
// hottest query (every page load for every user), is cached in Redis with a
// short TTL and invalidated on any write that could change it. Without Redis
// the center degrades to database-only and stays correct, just slower.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/domara/audit-engine/internal/db/models"
	"github.com/domara/audit-engine/internal/db/repositories"
	"github.com/domara/audit-engine/internal/telemetry"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

var validTypes = map[models.NotificationType]bool{
	models.NotificationAdminAction:   true,
	models.NotificationUndoPerformed: true,
	models.NotificationSystemAlert:   true,
	models.NotificationAccountUpdate: true,
}

var validPriorities = map[models.NotificationPriority]bool{
	models.PriorityLow:    true,
	models.PriorityNormal: true,
	models.PriorityHigh:   true,
	models.PriorityUrgent: true,
}

// Center creates and serves user notifications.
type Center struct {
	repo       *repositories.NotificationRepository
	cache      *redis.Client
	badgeTTL   time.Duration
	defaultTTL time.Duration
}

// NewCenter creates a Center. cache may be nil; the badge summary is then
// computed from the database on every call.
func NewCenter(repo *repositories.NotificationRepository, cache *redis.Client, badgeTTL, defaultTTL time.Duration) *Center {
	return &Center{
		repo:       repo,
		cache:      cache,
		badgeTTL:   badgeTTL,
		defaultTTL: defaultTTL,
	}
}

// CreateInput describes a notification to deliver.
type CreateInput struct {
	UserID       uuid.UUID
	Type         models.NotificationType
	Title        string
	Message      string
	Priority     models.NotificationPriority // defaults to normal
	UndoActionID *uuid.UUID
	Metadata     map[string]interface{}
	TTL          time.Duration // defaults to the configured notification TTL
}

// Create persists a notification and invalidates the recipient's badge.
func (c *Center) Create(ctx context.Context, in CreateInput) (*models.UserNotification, error) {
	if in.UserID == uuid.Nil {
		return nil, errors.New("recipient user id is required")
	}
	if !validTypes[in.Type] {
		return nil, fmt.Errorf("unknown notification type %q", in.Type)
	}
	if in.Title == "" {
		return nil, errors.New("title is required")
	}
	if in.Priority == "" {
		in.Priority = models.PriorityNormal
	}
	if !validPriorities[in.Priority] {
		return nil, fmt.Errorf("unknown priority %q", in.Priority)
	}

	ttl := in.TTL
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()
	n := &models.UserNotification{
		ID:           uuid.New(),
		UserID:       in.UserID,
		Type:         in.Type,
		Title:        in.Title,
		Message:      in.Message,
		UndoActionID: in.UndoActionID,
		Priority:     in.Priority,
		Metadata:     in.Metadata,
		CreatedAt:    now,
		ExpiresAt:    now.Add(ttl),
	}
	if err := c.repo.Create(ctx, n); err != nil {
		return nil, err
	}

	c.invalidateBadge(ctx, in.UserID)
	telemetry.NotificationsCreatedTotal.WithLabelValues(string(in.Type)).Inc()
	return n, nil
}

// UndoPerformed notifies a user that an administrator reversed one of the
// actions affecting their data. High priority so it surfaces on the badge.
func (c *Center) UndoPerformed(ctx context.Context, userID, undoActionID uuid.UUID, description string) error {
	_, err := c.Create(ctx, CreateInput{
		UserID:       userID,
		Type:         models.NotificationUndoPerformed,
		Title:        "An action on your data was reversed",
		Message:      description,
		Priority:     models.PriorityHigh,
		UndoActionID: &undoActionID,
	})
	return err
}

// AdminAction notifies a user that an administrator acted on their data.
func (c *Center) AdminAction(ctx context.Context, userID uuid.UUID, title, message string) error {
	_, err := c.Create(ctx, CreateInput{
		UserID:   userID,
		Type:     models.NotificationAdminAction,
		Title:    title,
		Message:  message,
		Priority: models.PriorityNormal,
	})
	return err
}

// ListUnread returns a page of the user's unread notifications plus the total
// and unread counts. Archived and expired entries never appear.
func (c *Center) ListUnread(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.UserNotification, int, int, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return c.repo.ListUnread(ctx, userID, limit, offset)
}

// MarkRead marks the given notifications read, or all of the user's unread
// ones when all is true. Returns the number updated.
func (c *Center) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, all bool) (int64, error) {
	if !all && len(ids) == 0 {
		return 0, nil
	}
	n, err := c.repo.MarkRead(ctx, userID, ids, all)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidateBadge(ctx, userID)
	}
	return n, nil
}

// Archive hides the given notifications, or everything older than
// olderThanDays when ids is empty. Returns the number archived.
func (c *Center) Archive(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, olderThanDays int) (int64, error) {
	if len(ids) == 0 && olderThanDays <= 0 {
		return 0, nil
	}
	n, err := c.repo.Archive(ctx, userID, ids, olderThanDays)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		c.invalidateBadge(ctx, userID)
	}
	return n, nil
}

// Summary returns the badge payload for a user, served from Redis when a fresh
// copy exists. Cache failures fall through to the database.
func (c *Center) Summary(ctx context.Context, userID uuid.UUID) (*repositories.NotificationSummary, error) {
	if cached := c.cachedBadge(ctx, userID); cached != nil {
		return cached, nil
	}

	s, err := c.repo.Summary(ctx, userID)
	if err != nil {
		return nil, err
	}
	c.cacheBadge(ctx, userID, s)
	return s, nil
}

func badgeKey(userID uuid.UUID) string {
	return "notify:badge:" + userID.String()
}

func (c *Center) cachedBadge(ctx context.Context, userID uuid.UUID) *repositories.NotificationSummary {
	if c.cache == nil {
		return nil
	}
	raw, err := c.cache.Get(ctx, badgeKey(userID)).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		slog.Debug("badge cache read failed, falling back to database", "error", err)
		return nil
	}
	var s repositories.NotificationSummary
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil
	}
	return &s
}

func (c *Center) cacheBadge(ctx context.Context, userID uuid.UUID, s *repositories.NotificationSummary) {
	if c.cache == nil {
		return
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, badgeKey(userID), raw, c.badgeTTL).Err(); err != nil {
		slog.Debug("badge cache write failed", "error", err)
	}
}

func (c *Center) invalidateBadge(ctx context.Context, userID uuid.UUID) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Del(ctx, badgeKey(userID)).Err(); err != nil {
		slog.Debug("badge cache invalidation failed", "error", err)
	}
}
