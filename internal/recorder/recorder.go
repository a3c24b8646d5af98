// Package recorder implements the audit recorder: the single write path through
// which every audited action enters the engine. One call captures the record,
// its reversibility tier, its before-state backup, and the transaction group
// rollup, all inside one database transaction so a crash can never leave a
// record without its snapshot.
package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/domara/audit-engine/internal/backup"
	"github.com/domara/audit-engine/internal/classify"
	"github.com/domara/audit-engine/internal/db/models"
	"github.com/domara/audit-engine/internal/db/repositories"
	"github.com/domara/audit-engine/internal/telemetry"
)

// ErrInvalidInput marks inputs rejected before any database work.
var ErrInvalidInput = errors.New("invalid audit input")

var validActions = map[models.ActionKind]bool{
	models.ActionCreate:       true,
	models.ActionUpdate:       true,
	models.ActionDelete:       true,
	models.ActionRead:         true,
	models.ActionLogin:        true,
	models.ActionLogout:       true,
	models.ActionAccessDenied: true,
}

// Input describes one action to record.
type Input struct {
	// GroupID correlates this record with the other records of a multi-step
	// operation. Zero means the action stands alone; a fresh group is created.
	GroupID uuid.UUID

	// GroupName labels the transaction group on first sight. Falls back to
	// the record description.
	GroupName string

	UserID  *uuid.UUID
	AdminID *uuid.UUID

	Action      models.ActionKind
	EntityType  string
	EntityID    *string
	Description string
	Context     *string

	// Before is the entity's full state prior to the mutation. Required for
	// an update or delete to be undoable.
	Before json.RawMessage

	// After is the entity's state following the mutation.
	After json.RawMessage

	// Related lists the entities affected by the same action.
	Related []models.RelatedEntityRef

	// RelatedBefore is the before-state of the related entities, captured
	// into the backup alongside the primary payload.
	RelatedBefore json.RawMessage

	// Files optionally streams a bundle of the entity's stored files for the
	// backup. FilesSize is its size in bytes.
	Files     io.Reader
	FilesSize int64

	// TierOverride bypasses the classifier. Use for callers that know more
	// about an action's blast radius than the decision table can see.
	TierOverride *models.Tier

	// NotUndoable opts the record out of undo regardless of classification.
	NotUndoable bool

	Request *models.RequestMetadata
}

// Recorder persists audit records with their snapshots and group rollups.
type Recorder struct {
	db         *sqlx.DB
	records    *repositories.AuditRecordRepository
	groups     *repositories.TransactionGroupRepository
	classifier *classify.Classifier
	backups    *backup.Store
	retention  time.Duration
}

// New creates a Recorder. retention is the window after which records expire
// and become permanently non-undoable.
func New(
	db *sqlx.DB,
	records *repositories.AuditRecordRepository,
	groups *repositories.TransactionGroupRepository,
	classifier *classify.Classifier,
	backups *backup.Store,
	retention time.Duration,
) *Recorder {
	return &Recorder{
		db:         db,
		records:    records,
		groups:     groups,
		classifier: classifier,
		backups:    backups,
		retention:  retention,
	}
}

// Record persists one audit record in its own transaction.
func (r *Recorder) Record(ctx context.Context, in Input) (*models.AuditRecord, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	tx, err := r.db.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin audit transaction: %w", err)
	}

	rec, err := r.RecordInTx(ctx, tx, in)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit audit transaction: %w", err)
	}
	return rec, nil
}

// RecordInTx persists one audit record inside the caller's transaction, so the
// record commits or rolls back together with the business mutation it
// documents. The caller owns the transaction.
func (r *Recorder) RecordInTx(ctx context.Context, tx *sqlx.Tx, in Input) (*models.AuditRecord, error) {
	if err := validate(in); err != nil {
		return nil, err
	}

	rec, err := r.build(in)
	if err != nil {
		return nil, err
	}

	name := in.GroupName
	if name == "" {
		name = in.Description
	}
	// The group row has to exist before the record insert; the record's
	// group_id foreign key is checked immediately.
	if err := r.groups.Ensure(ctx, tx, rec, name); err != nil {
		return nil, err
	}

	if err := r.records.CreateInTx(ctx, tx, rec); err != nil {
		return nil, err
	}

	// Updates and deletes need a before-state backup to be reversible; a
	// create is reversed by removing the entity, so no backup is taken.
	if rec.IsUndoable && rec.Action != models.ActionCreate {
		b, err := r.backups.Snapshot(ctx, tx, rec, backup.SnapshotInput{
			Payload:        in.Before,
			RelatedPayload: in.RelatedBefore,
			Files:          in.Files,
			FilesSize:      in.FilesSize,
		})
		var snapErr *backup.SnapshotError
		switch {
		case err == nil:
			telemetry.SnapshotsTotal.WithLabelValues("captured").Inc()
			telemetry.SnapshotBytesTotal.Add(float64(b.PayloadSize))
		case errors.As(err, &snapErr):
			// The action already happened; refusing to record it would lose
			// the audit trail. Keep the record, drop the undo capability.
			if derr := r.degradeToNonUndoable(ctx, tx, rec); derr != nil {
				return nil, derr
			}
			slog.Warn("snapshot failed, record degraded to non-undoable",
				"audit_record_id", rec.ID, "entity_type", rec.EntityType, "error", err)
			telemetry.SnapshotsTotal.WithLabelValues("degraded").Inc()
		default:
			return nil, err
		}
	}

	if err := r.groups.Refresh(ctx, tx, rec.GroupID); err != nil {
		return nil, err
	}

	telemetry.AuditRecordsTotal.WithLabelValues(string(rec.Action), string(rec.Tier)).Inc()
	return rec, nil
}

func (r *Recorder) build(in Input) (*models.AuditRecord, error) {
	now := time.Now()

	rec := &models.AuditRecord{
		ID:          uuid.New(),
		GroupID:     in.GroupID,
		UserID:      in.UserID,
		AdminID:     in.AdminID,
		Action:      in.Action,
		EntityType:  in.EntityType,
		EntityID:    in.EntityID,
		Description: in.Description,
		Context:     in.Context,
		CreatedAt:   now,
		ExpiresAt:   now.Add(r.retention),
	}
	if rec.GroupID == uuid.Nil {
		rec.GroupID = uuid.New()
	}
	if in.Request != nil {
		rec.RequestMetadata = *in.Request
	}
	rec.BeforeSnapshot = in.Before
	rec.AfterSnapshot = in.After

	if len(in.Related) > 0 {
		refs, err := json.Marshal(in.Related)
		if err != nil {
			return nil, fmt.Errorf("failed to encode related entities: %w", err)
		}
		rec.RelatedEntities = refs
	}

	if in.TierOverride != nil {
		rec.Tier = *in.TierOverride
	} else {
		rec.Tier = r.classifier.Classify(classify.Input{
			Action:          in.Action,
			EntityType:      in.EntityType,
			BeforeSnapshot:  in.Before,
			AfterSnapshot:   in.After,
			RelatedEntities: in.Related,
		})
	}

	rec.IsUndoable = in.Action.IsMutation() && !in.NotUndoable && rec.Tier != models.TierImpossible

	// Without a before-state there is nothing to restore, so an update or
	// delete cannot be undone no matter what the classifier said.
	if rec.IsUndoable && rec.Action != models.ActionCreate && len(in.Before) == 0 {
		rec.IsUndoable = false
	}

	return rec, nil
}

func (r *Recorder) degradeToNonUndoable(ctx context.Context, tx *sqlx.Tx, rec *models.AuditRecord) error {
	if _, err := tx.ExecContext(ctx,
		`UPDATE audit_records SET is_undoable = FALSE WHERE id = $1`, rec.ID); err != nil {
		return fmt.Errorf("failed to degrade record to non-undoable: %w", err)
	}
	rec.IsUndoable = false
	return nil
}

func validate(in Input) error {
	if in.Action == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidInput)
	}
	if !validActions[in.Action] {
		return fmt.Errorf("%w: unknown action kind %q", ErrInvalidInput, in.Action)
	}
	if in.EntityType == "" {
		return fmt.Errorf("%w: entity type is required", ErrInvalidInput)
	}
	if in.Description == "" {
		return fmt.Errorf("%w: description is required", ErrInvalidInput)
	}
	if in.TierOverride != nil && !in.TierOverride.Valid() {
		return fmt.Errorf("%w: invalid tier override %q", ErrInvalidInput, *in.TierOverride)
	}
	return nil
}
