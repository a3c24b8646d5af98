// executor.go implements the undo state machine. Every attempt is recorded as
// an UndoAction, including refused ones, so the audit trail covers failed
// reversals too. The pending → executing transition is a conditional update
// that re-checks eligibility and refuses while any sibling attempt is executing
// or completed; that single statement is what guarantees at most one completed
// undo per record under concurrent attempts, with the partial unique index on
// completed attempts as the storage-level backstop.
package undo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/domara/audit-engine/internal/backup"
	"github.com/domara/audit-engine/internal/db/models"
	"github.com/domara/audit-engine/internal/db/repositories"
	"github.com/domara/audit-engine/internal/entitystore"
	"github.com/domara/audit-engine/internal/telemetry"
)

// Notifier delivers the "your data was restored" message to the affected user
// after a completed undo. Delivery failures never fail the undo itself.
type Notifier interface {
	UndoPerformed(ctx context.Context, userID, undoActionID uuid.UUID, description string) error
}

// Executor runs undos.
type Executor struct {
	analyzer *Analyzer
	records  *repositories.AuditRecordRepository
	groups   *repositories.TransactionGroupRepository
	actions  *repositories.UndoActionRepository
	backups  *backup.Store
	entities entitystore.Store
	notify   Notifier
}

// NewExecutor creates an Executor. notify may be nil when notifications are
// disabled.
func NewExecutor(
	analyzer *Analyzer,
	records *repositories.AuditRecordRepository,
	groups *repositories.TransactionGroupRepository,
	actions *repositories.UndoActionRepository,
	backups *backup.Store,
	entities entitystore.Store,
	notify Notifier,
) *Executor {
	return &Executor{
		analyzer: analyzer,
		records:  records,
		groups:   groups,
		actions:  actions,
		backups:  backups,
		entities: entities,
		notify:   notify,
	}
}

// Execute attempts to undo an audit record. The returned UndoAction documents
// the attempt whatever its outcome; the error is an *Error whose kind tells
// the caller why the undo did not complete.
func (e *Executor) Execute(ctx context.Context, recordID, adminID uuid.UUID, reason string) (*models.UndoAction, error) {
	if adminID == uuid.Nil {
		return nil, failf(FailureValidation, "performing admin id is required")
	}
	if strings.TrimSpace(reason) == "" {
		return nil, failf(FailureValidation, "a reason is required to undo an action")
	}

	rec, err := e.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, failf(FailureValidation, "audit record %s not found", recordID)
	}

	analysis, err := e.analyzer.analyze(ctx, rec)
	if err != nil {
		return nil, err
	}

	action := &models.UndoAction{
		AuditRecordID: rec.ID,
		AdminID:       adminID,
		Reason:        reason,
	}
	if preview, err := json.Marshal(analysis); err == nil {
		action.Preview = preview
	}
	if err := e.actions.Create(ctx, action); err != nil {
		return nil, err
	}

	if !analysis.CanUndo {
		kind := analysis.blockerKind
		if kind == "" {
			kind = FailureValidation
		}
		return e.fail(ctx, action, failf(kind, "%s", strings.Join(analysis.Blockers, "; ")), "blocked")
	}

	taken, err := e.actions.TransitionToExecuting(ctx, action.ID, rec.ID)
	if err != nil {
		return nil, err
	}
	if !taken {
		// A sibling action is executing or completed, or the record expired
		// between analysis and transition.
		return e.fail(ctx, action, failf(FailureRaceLost, "another undo attempt won the race"), "race_lost")
	}
	action.Status = models.UndoExecuting

	log, err := e.apply(ctx, rec)
	if err != nil {
		return e.fail(ctx, action, &Error{Kind: FailureRestore, Err: err}, "failed")
	}

	if err := e.actions.Complete(ctx, action.ID, log); err != nil {
		if errors.Is(err, repositories.ErrCompletedElsewhere) {
			// The unique index on completed attempts is the last line of
			// defence; treat its rejection like any other lost race so the
			// action lands in failed instead of stranding in executing.
			return e.fail(ctx, action, &Error{Kind: FailureRaceLost, Err: err}, "race_lost")
		}
		return nil, err
	}
	action.Status = models.UndoCompleted
	action.ExecutionLog = &log

	e.finish(ctx, rec, action)
	telemetry.UndoAttemptsTotal.WithLabelValues("completed").Inc()
	return action, nil
}

// apply reverses the recorded action against the entity store and returns the
// execution log line.
func (e *Executor) apply(ctx context.Context, rec *models.AuditRecord) (string, error) {
	if rec.EntityID == nil {
		return "", errors.New("record does not identify an entity")
	}
	entityID := *rec.EntityID

	switch rec.Action {
	case models.ActionCreate:
		// Undoing a create removes what was created.
		if err := e.entities.SoftDelete(ctx, rec.EntityType, entityID); err != nil {
			return "", err
		}
		return fmt.Sprintf("removed %s %s", rec.EntityType, entityID), nil

	case models.ActionUpdate, models.ActionDelete:
		b, err := e.backups.RestoreForRecord(ctx, rec.ID)
		if err != nil {
			return "", err
		}
		if err := e.entities.Upsert(ctx, rec.EntityType, entityID, b.Payload); err != nil {
			return "", err
		}
		if err := e.backups.Consume(ctx, b.ID); err != nil {
			slog.Warn("undo completed but backup not marked consumed",
				"backup_id", b.ID, "error", err)
		}
		return fmt.Sprintf("restored %s %s from backup %s", rec.EntityType, entityID, b.ID), nil

	default:
		return "", fmt.Errorf("action kind %q cannot be undone", rec.Action)
	}
}

// finish applies the best-effort bookkeeping after a completed undo: the record
// is permanently no longer undoable, the group flips to undone once no member
// remains undoable, and the affected user hears about the reversal. None of
// these can fail the undo; it already happened.
func (e *Executor) finish(ctx context.Context, rec *models.AuditRecord, action *models.UndoAction) {
	if err := e.records.MarkNonUndoable(ctx, rec.ID); err != nil {
		slog.Error("failed to mark undone record non-undoable", "audit_record_id", rec.ID, "error", err)
	}

	if members, err := e.records.ListByGroup(ctx, rec.GroupID); err != nil {
		slog.Warn("failed to check group after undo", "group_id", rec.GroupID, "error", err)
	} else {
		remaining := 0
		now := time.Now()
		for _, m := range members {
			if m.ID != rec.ID && m.IsUndoable && !m.Expired(now) {
				remaining++
			}
		}
		if remaining == 0 {
			if err := e.groups.MarkUndone(ctx, rec.GroupID); err != nil {
				slog.Warn("failed to mark group undone", "group_id", rec.GroupID, "error", err)
			}
		}
	}

	if e.notify != nil && rec.UserID != nil {
		desc := fmt.Sprintf("An administrator reversed: %s", rec.Description)
		if err := e.notify.UndoPerformed(ctx, *rec.UserID, action.ID, desc); err != nil {
			slog.Warn("failed to notify user of undo", "user_id", *rec.UserID, "error", err)
		}
	}
}

// fail marks the action failed with the error detail and returns both. The
// original audit record's undoability is left unchanged so a retry remains
// possible where the failure kind allows one.
func (e *Executor) fail(ctx context.Context, action *models.UndoAction, undoErr *Error, outcome string) (*models.UndoAction, error) {
	msg := undoErr.Error()
	if err := e.actions.Fail(ctx, action.ID, msg); err != nil {
		slog.Error("failed to record undo failure", "undo_action_id", action.ID, "error", err)
	}
	action.Status = models.UndoFailed
	action.ErrorMessage = &msg
	telemetry.UndoAttemptsTotal.WithLabelValues(outcome).Inc()
	return action, undoErr
}

// Cancel withdraws a pending undo before execution begins. Once executing has
// started the action runs to completed or failed and cannot be cancelled.
func (e *Executor) Cancel(ctx context.Context, actionID uuid.UUID) error {
	ok, err := e.actions.Cancel(ctx, actionID)
	if err != nil {
		return err
	}
	if !ok {
		return failf(FailureValidation, "undo action %s is no longer pending", actionID)
	}
	telemetry.UndoAttemptsTotal.WithLabelValues("cancelled").Inc()
	return nil
}
