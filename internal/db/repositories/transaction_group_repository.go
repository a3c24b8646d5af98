// transaction_group_repository.go maintains the per-correlation-id rollup rows.
// Ensure lazily creates the group row and must run before the first member
// record insert: audit_records.group_id carries a foreign key into this table
// that Postgres checks immediately. Refresh recomputes counters from the
// group's member records instead of blindly incrementing, which makes it
// idempotent: replaying it for a record that is already a member never
// double-counts. The aggregate tier only ever widens because members are
// append-only.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/domara/audit-engine/internal/db/models"
)

const groupColumns = `
	id, name, description, primary_user_id, total_actions, undoable_count,
	aggregate_tier, all_undoable, undone, created_at, updated_at`

// tierRankSQL maps a tier column to its ordering rank inside SQL aggregates.
const tierRankSQL = `CASE tier WHEN 'simple' THEN 0 WHEN 'moderate' THEN 1 WHEN 'complex' THEN 2 ELSE 3 END`

// TransactionGroupRepository handles transaction group database operations.
type TransactionGroupRepository struct {
	db *sqlx.DB
}

// NewTransactionGroupRepository creates a new TransactionGroupRepository.
func NewTransactionGroupRepository(db *sqlx.DB) *TransactionGroupRepository {
	return &TransactionGroupRepository{db: db}
}

// Ensure upserts the group row for a correlation id. Must run in the same
// transaction as, and before, the member record insert: the record's group_id
// foreign key is checked at insert time, so the group row has to exist first.
func (r *TransactionGroupRepository) Ensure(ctx context.Context, tx *sqlx.Tx, rec *models.AuditRecord, name string) error {
	insert := `
		INSERT INTO transaction_groups (id, name, primary_user_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, insert, rec.GroupID, name, rec.UserID); err != nil {
		return fmt.Errorf("failed to upsert transaction group: %w", err)
	}
	return nil
}

// Refresh recomputes the group's rollup counters from its member records.
// Runs after the record insert, in the same transaction, so the aggregates
// always reflect committed members.
func (r *TransactionGroupRepository) Refresh(ctx context.Context, tx *sqlx.Tx, groupID uuid.UUID) error {
	refresh := `
		WITH stats AS (
			SELECT COUNT(*)                               AS total,
			       COUNT(*) FILTER (WHERE is_undoable)    AS undoable,
			       BOOL_AND(is_undoable)                  AS all_undoable,
			       MAX(` + tierRankSQL + `)               AS max_rank
			FROM audit_records
			WHERE group_id = $1
		)
		UPDATE transaction_groups tg
		SET total_actions  = stats.total,
		    undoable_count = stats.undoable,
		    all_undoable   = stats.all_undoable,
		    aggregate_tier = CASE stats.max_rank
		                       WHEN 0 THEN 'simple'
		                       WHEN 1 THEN 'moderate'
		                       WHEN 2 THEN 'complex'
		                       ELSE 'impossible'
		                     END,
		    updated_at     = now()
		FROM stats
		WHERE tg.id = $1
	`
	if _, err := tx.ExecContext(ctx, refresh, groupID); err != nil {
		return fmt.Errorf("failed to refresh transaction group rollups: %w", err)
	}
	return nil
}

// GetByID returns a transaction group by correlation id, or nil if not found.
func (r *TransactionGroupRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.TransactionGroup, error) {
	query := `SELECT ` + groupColumns + ` FROM transaction_groups WHERE id = $1`

	var g models.TransactionGroup
	err := r.db.GetContext(ctx, &g, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get transaction group: %w", err)
	}
	return &g, nil
}

// ListByUser returns the user's groups with activity since the given cutoff,
// ordered by most-recent member activity, newest first.
func (r *TransactionGroupRepository) ListByUser(ctx context.Context, userID uuid.UUID, since time.Time) ([]models.TransactionGroup, error) {
	query := `
		SELECT ` + groupColumns + `
		FROM transaction_groups
		WHERE primary_user_id = $1 AND updated_at >= $2
		ORDER BY updated_at DESC
	`

	var groups []models.TransactionGroup
	if err := r.db.SelectContext(ctx, &groups, query, userID, since); err != nil {
		return nil, fmt.Errorf("failed to list transaction groups: %w", err)
	}
	return groups, nil
}

// MarkUndone flags a group once any member record has been reversed.
func (r *TransactionGroupRepository) MarkUndone(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE transaction_groups SET undone = TRUE, updated_at = now() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark transaction group undone: %w", err)
	}
	return nil
}

// DeleteEmpty removes groups that no longer have any live member records.
// Called by the retention sweep after expired records are purged.
func (r *TransactionGroupRepository) DeleteEmpty(ctx context.Context) (int64, error) {
	query := `
		DELETE FROM transaction_groups tg
		WHERE NOT EXISTS (SELECT 1 FROM audit_records ar WHERE ar.group_id = tg.id)
	`

	res, err := r.db.ExecContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to delete empty transaction groups: %w", err)
	}
	return res.RowsAffected()
}
