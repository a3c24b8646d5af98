// notification_repository.go implements NotificationRepository, providing database
// queries for the end-user notification bell. Every read path excludes archived
// and expired rows so a notification disappears from the UI the moment its TTL
// elapses, independent of physical deletion by the retention sweep.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/domara/audit-engine/internal/db/models"
)

// NotificationRepository handles user notification database operations.
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository creates a new NotificationRepository.
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// NotificationSummary is the badge payload for a user: unread totals, urgency,
// per-type counts, and the three most recent unread notifications.
type NotificationSummary struct {
	TotalUnread  int                       `json:"total_unread"`
	UrgentCount  int                       `json:"urgent_count"`
	CountsByType map[string]int            `json:"counts_by_type"`
	MostRecent   []models.UserNotification `json:"most_recent"`
}

// Create inserts a new notification.
func (r *NotificationRepository) Create(ctx context.Context, n *models.UserNotification) error {
	if n.ID == uuid.Nil {
		n.ID = uuid.New()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}

	var metadataJSON []byte
	var err error
	if n.Metadata != nil {
		metadataJSON, err = json.Marshal(n.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal notification metadata: %w", err)
		}
	}

	query := `
		INSERT INTO user_notifications (
			id, user_id, type, title, message, undo_action_id, priority,
			metadata, created_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`

	_, err = r.db.ExecContext(ctx, query,
		n.ID,
		n.UserID,
		n.Type,
		n.Title,
		n.Message,
		n.UndoActionID,
		n.Priority,
		metadataJSON,
		n.CreatedAt,
		n.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

const notificationSelect = `
	SELECT id, user_id, type, title, message, undo_action_id, priority,
	       read, read_at, archived, archived_at, metadata, created_at, expires_at
	FROM user_notifications
`

func scanNotification(scanner interface{ Scan(...interface{}) error }) (*models.UserNotification, error) {
	n := &models.UserNotification{}
	var metadataJSON []byte

	err := scanner.Scan(
		&n.ID,
		&n.UserID,
		&n.Type,
		&n.Title,
		&n.Message,
		&n.UndoActionID,
		&n.Priority,
		&n.Read,
		&n.ReadAt,
		&n.Archived,
		&n.ArchivedAt,
		&metadataJSON,
		&n.CreatedAt,
		&n.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}

	if metadataJSON != nil {
		if err := json.Unmarshal(metadataJSON, &n.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal notification metadata: %w", err)
		}
	}
	return n, nil
}

// ListUnread returns a page of the user's unread, unarchived, unexpired
// notifications (newest first) plus the total visible count and the unread count.
func (r *NotificationRepository) ListUnread(ctx context.Context, userID uuid.UUID, limit, offset int) ([]models.UserNotification, int, int, error) {
	counts := `
		SELECT COUNT(*)                       AS total,
		       COUNT(*) FILTER (WHERE NOT read) AS unread
		FROM user_notifications
		WHERE user_id = $1 AND NOT archived AND expires_at > now()
	`

	var total, unread int
	if err := r.db.QueryRowContext(ctx, counts, userID).Scan(&total, &unread); err != nil {
		return nil, 0, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	query := notificationSelect + `
		WHERE user_id = $1 AND NOT read AND NOT archived AND expires_at > now()
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]models.UserNotification, 0)
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, 0, 0, err
		}
		items = append(items, *n)
	}

	return items, total, unread, rows.Err()
}

// MarkRead marks the given notifications as read. With all=true every unread
// notification for the user is marked. Returns how many rows changed.
func (r *NotificationRepository) MarkRead(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, all bool) (int64, error) {
	var (
		res sql.Result
		err error
	)

	if all {
		query := `
			UPDATE user_notifications
			SET read = TRUE, read_at = now()
			WHERE user_id = $1 AND NOT read
		`
		res, err = r.db.ExecContext(ctx, query, userID)
	} else {
		if len(ids) == 0 {
			return 0, nil
		}
		idStrs := make([]string, len(ids))
		for i, id := range ids {
			idStrs[i] = id.String()
		}
		query := `
			UPDATE user_notifications
			SET read = TRUE, read_at = now()
			WHERE user_id = $1 AND NOT read AND id = ANY($2)
		`
		res, err = r.db.ExecContext(ctx, query, userID, pq.Array(idStrs))
	}

	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	return res.RowsAffected()
}

// Archive hides the given notifications from all list queries. With
// olderThanDays > 0 it instead archives everything older than the cutoff.
func (r *NotificationRepository) Archive(ctx context.Context, userID uuid.UUID, ids []uuid.UUID, olderThanDays int) (int64, error) {
	var (
		res sql.Result
		err error
	)

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		query := `
			UPDATE user_notifications
			SET archived = TRUE, archived_at = now()
			WHERE user_id = $1 AND NOT archived AND created_at < $2
		`
		res, err = r.db.ExecContext(ctx, query, userID, cutoff)
	} else {
		if len(ids) == 0 {
			return 0, nil
		}
		idStrs := make([]string, len(ids))
		for i, id := range ids {
			idStrs[i] = id.String()
		}
		query := `
			UPDATE user_notifications
			SET archived = TRUE, archived_at = now()
			WHERE user_id = $1 AND NOT archived AND id = ANY($2)
		`
		res, err = r.db.ExecContext(ctx, query, userID, pq.Array(idStrs))
	}

	if err != nil {
		return 0, fmt.Errorf("failed to archive notifications: %w", err)
	}
	return res.RowsAffected()
}

// Summary computes the badge payload in three queries: totals, per-type counts,
// and the three most recent unread notifications.
func (r *NotificationRepository) Summary(ctx context.Context, userID uuid.UUID) (*NotificationSummary, error) {
	s := &NotificationSummary{
		CountsByType: make(map[string]int),
		MostRecent:   make([]models.UserNotification, 0, 3),
	}

	totals := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE priority IN ('high', 'urgent'))
		FROM user_notifications
		WHERE user_id = $1 AND NOT read AND NOT archived AND expires_at > now()
	`
	if err := r.db.QueryRowContext(ctx, totals, userID).Scan(&s.TotalUnread, &s.UrgentCount); err != nil {
		return nil, fmt.Errorf("failed to compute notification totals: %w", err)
	}

	byType := `
		SELECT type, COUNT(*)
		FROM user_notifications
		WHERE user_id = $1 AND NOT read AND NOT archived AND expires_at > now()
		GROUP BY type
	`
	rows, err := r.db.QueryContext(ctx, byType, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to compute notification type counts: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var typ string
		var count int
		if err := rows.Scan(&typ, &count); err != nil {
			return nil, err
		}
		s.CountsByType[typ] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	recent := notificationSelect + `
		WHERE user_id = $1 AND NOT read AND NOT archived AND expires_at > now()
		ORDER BY created_at DESC
		LIMIT 3
	`
	recentRows, err := r.db.QueryContext(ctx, recent, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch recent notifications: %w", err)
	}
	defer recentRows.Close()
	for recentRows.Next() {
		n, err := scanNotification(recentRows)
		if err != nil {
			return nil, err
		}
		s.MostRecent = append(s.MostRecent, *n)
	}

	return s, recentRows.Err()
}

// DeleteExpired physically removes notifications past their TTL.
func (r *NotificationRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM user_notifications WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired notifications: %w", err)
	}
	return res.RowsAffected()
}
