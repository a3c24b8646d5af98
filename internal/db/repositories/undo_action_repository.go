// undo_action_repository.go provides database operations for undo attempts.
// The pending → executing transition is a single conditional UPDATE that
// re-evaluates record eligibility atomically, closing the check-then-act race
// between two administrators undoing the same record. A unique partial index on
// (audit_record_id) WHERE status = 'completed' backs the at-most-one-completed
// invariant at the storage layer as well.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/domara/audit-engine/internal/db/models"
)

const undoActionColumns = `
	id, audit_record_id, admin_id, status, reason, preview,
	execution_log, error_message, started_at, completed_at`

// uniqueViolation is the Postgres error code for a unique constraint breach.
const uniqueViolation = "23505"

// ErrCompletedElsewhere reports that another attempt on the same record reached
// completed first, detected by the partial unique index on completed attempts.
var ErrCompletedElsewhere = errors.New("another undo attempt already completed")

// UndoActionRepository handles undo action database operations.
type UndoActionRepository struct {
	db *sqlx.DB
}

// NewUndoActionRepository creates a new UndoActionRepository.
func NewUndoActionRepository(db *sqlx.DB) *UndoActionRepository {
	return &UndoActionRepository{db: db}
}

// Create inserts a new undo action in pending status.
func (r *UndoActionRepository) Create(ctx context.Context, a *models.UndoAction) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = models.UndoPending
	}
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now()
	}

	query := `
		INSERT INTO undo_actions (
			id, audit_record_id, admin_id, status, reason, preview, started_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7)
	`

	_, err := r.db.ExecContext(ctx, query,
		a.ID, a.AuditRecordID, a.AdminID, a.Status, a.Reason, []byte(a.Preview), a.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert undo action: %w", err)
	}
	return nil
}

// GetByID returns an undo action by id, or nil if not found.
func (r *UndoActionRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.UndoAction, error) {
	query := `SELECT ` + undoActionColumns + ` FROM undo_actions WHERE id = $1`

	var a models.UndoAction
	err := r.db.GetContext(ctx, &a, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get undo action: %w", err)
	}
	return &a, nil
}

// ListByRecord returns all undo attempts for an audit record, newest first.
func (r *UndoActionRepository) ListByRecord(ctx context.Context, recordID uuid.UUID) ([]models.UndoAction, error) {
	query := `
		SELECT ` + undoActionColumns + `
		FROM undo_actions
		WHERE audit_record_id = $1
		ORDER BY started_at DESC
	`

	var actions []models.UndoAction
	if err := r.db.SelectContext(ctx, &actions, query, recordID); err != nil {
		return nil, fmt.Errorf("failed to list undo actions: %w", err)
	}
	return actions, nil
}

// HasCompleted reports whether any undo attempt on the record already succeeded.
func (r *UndoActionRepository) HasCompleted(ctx context.Context, recordID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM undo_actions
			WHERE audit_record_id = $1 AND status = 'completed'
		)
	`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, recordID); err != nil {
		return false, fmt.Errorf("failed to check for completed undo: %w", err)
	}
	return exists, nil
}

// TransitionToExecuting moves a pending action to executing, but only while the
// record is still eligible: not expired, still flagged undoable, and with no
// sibling attempt already executing or completed. The eligibility re-check and
// the status flip happen in one statement so a concurrent undo that started or
// completed a moment ago loses here rather than half-applying. Returns false
// when the transition was not taken.
func (r *UndoActionRepository) TransitionToExecuting(ctx context.Context, actionID, recordID uuid.UUID) (bool, error) {
	query := `
		UPDATE undo_actions
		SET status = 'executing'
		WHERE id = $1
		  AND status = 'pending'
		  AND NOT EXISTS (
		      SELECT 1 FROM undo_actions
		      WHERE audit_record_id = $2 AND status IN ('executing', 'completed')
		  )
		  AND EXISTS (
		      SELECT 1 FROM audit_records
		      WHERE id = $2 AND is_undoable AND expires_at > now()
		  )
	`

	res, err := r.db.ExecContext(ctx, query, actionID, recordID)
	if err != nil {
		return false, fmt.Errorf("failed to transition undo action to executing: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Complete marks an executing action as completed with its execution log.
// Returns ErrCompletedElsewhere when the partial unique index on completed
// attempts rejects the update: a sibling slipped into completed despite the
// transition gate, so the caller's undo lost the race at the last statement.
func (r *UndoActionRepository) Complete(ctx context.Context, id uuid.UUID, executionLog string) error {
	query := `
		UPDATE undo_actions
		SET status = 'completed', execution_log = $2, completed_at = now()
		WHERE id = $1 AND status = 'executing'
	`

	res, err := r.db.ExecContext(ctx, query, id, executionLog)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("%w: %v", ErrCompletedElsewhere, err)
		}
		return fmt.Errorf("failed to complete undo action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("undo action %s is not executing", id)
	}
	return nil
}

// Fail marks an action as failed with the error detail. Valid from pending
// (validation rejected it) or executing (restore blew up).
func (r *UndoActionRepository) Fail(ctx context.Context, id uuid.UUID, errMsg string) error {
	query := `
		UPDATE undo_actions
		SET status = 'failed', error_message = $2, completed_at = now()
		WHERE id = $1 AND status IN ('pending', 'executing')
	`

	if _, err := r.db.ExecContext(ctx, query, id, errMsg); err != nil {
		return fmt.Errorf("failed to mark undo action failed: %w", err)
	}
	return nil
}

// Cancel moves a pending action to cancelled. Returns false when the action had
// already left pending — execution cannot be cancelled once started.
func (r *UndoActionRepository) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE undo_actions
		SET status = 'cancelled', completed_at = now()
		WHERE id = $1 AND status = 'pending'
	`

	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to cancel undo action: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}
