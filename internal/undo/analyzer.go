// analyzer.go implements the pre-flight half of undo: everything an
// administrator sees before confirming, and the eligibility rules the executor
// re-checks at transition time.
package undo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/domara/audit-engine/internal/db/models"
	"github.com/domara/audit-engine/internal/db/repositories"
	"github.com/domara/audit-engine/internal/entitystore"
)

// Analysis is the result of analyzing one audit record for undo. Blockers make
// the undo impossible; warnings describe side effects the administrator should
// weigh; requirements list what the undo will rely on.
type Analysis struct {
	CanUndo      bool        `json:"can_undo"`
	Tier         models.Tier `json:"complexity"`
	Requirements []string    `json:"requirements"`
	Warnings     []string    `json:"warnings"`
	Blockers     []string    `json:"blockers"`

	// blockerKind classifies the first eligibility blocker so the executor
	// can fail with the right taxonomy without re-deriving it from strings.
	blockerKind FailureKind
}

// Analyzer answers whether and how an audit record can be undone.
type Analyzer struct {
	records  *repositories.AuditRecordRepository
	backups  *repositories.BackupRepository
	actions  *repositories.UndoActionRepository
	entities entitystore.Store

	now func() time.Time
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(
	records *repositories.AuditRecordRepository,
	backups *repositories.BackupRepository,
	actions *repositories.UndoActionRepository,
	entities entitystore.Store,
) *Analyzer {
	return &Analyzer{
		records:  records,
		backups:  backups,
		actions:  actions,
		entities: entities,
		now:      time.Now,
	}
}

// AnalyzeRequirements inspects an audit record and reports whether it can be
// undone, with the blockers, warnings, and requirements an administrator needs
// to decide. Never mutates anything.
func (a *Analyzer) AnalyzeRequirements(ctx context.Context, recordID uuid.UUID) (*Analysis, error) {
	rec, err := a.records.GetByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: %s", ErrRecordNotFound, recordID)
	}
	return a.analyze(ctx, rec)
}

func (a *Analyzer) analyze(ctx context.Context, rec *models.AuditRecord) (*Analysis, error) {
	res := &Analysis{Tier: rec.Tier}

	if err := a.checkEligibility(ctx, rec, res); err != nil {
		return nil, err
	}
	if err := a.checkAction(ctx, rec, res); err != nil {
		return nil, err
	}

	res.CanUndo = len(res.Blockers) == 0
	return res, nil
}

// checkEligibility adds the blockers that apply regardless of the action kind.
func (a *Analyzer) checkEligibility(ctx context.Context, rec *models.AuditRecord, res *Analysis) error {
	if !rec.IsUndoable {
		res.block(FailureValidation, "this action is not undoable")
	}
	if rec.Expired(a.now()) {
		res.block(FailureExpired, "the retention window for this action has expired")
	}
	completed, err := a.actions.HasCompleted(ctx, rec.ID)
	if err != nil {
		return err
	}
	if completed {
		res.block(FailureRaceLost, "this action has already been reversed")
	}
	return nil
}

// checkAction adds the per-kind blockers, warnings, and requirements.
func (a *Analyzer) checkAction(ctx context.Context, rec *models.AuditRecord, res *Analysis) error {
	if rec.EntityID == nil || *rec.EntityID == "" {
		res.block(FailureValidation, "the record does not identify an entity")
		return nil
	}
	entityID := *rec.EntityID

	switch rec.Action {
	case models.ActionDelete:
		exists, err := a.entities.Exists(ctx, rec.EntityType, entityID)
		if err != nil {
			return err
		}
		if exists {
			res.block(FailureValidation,
				"a %s with the same identity already exists; restoring would collide", rec.EntityType)
		}
		return a.checkBackup(ctx, rec, res)

	case models.ActionCreate:
		exists, err := a.entities.Exists(ctx, rec.EntityType, entityID)
		if err != nil {
			return err
		}
		if !exists {
			res.block(FailureValidation, "the %s no longer exists; there is nothing to remove", rec.EntityType)
			return nil
		}
		// If the identity was deleted and re-created since, the live entity is
		// not the one this record created and must not be removed.
		reused, err := a.records.HasLaterCreate(ctx, rec.EntityType, entityID, rec.CreatedAt)
		if err != nil {
			return err
		}
		if reused {
			res.block(FailureValidation, "the identity was re-used by a newer %s", rec.EntityType)
			return nil
		}
		n, err := a.records.CountSubsequentMutations(ctx, rec.EntityType, entityID, rec.CreatedAt)
		if err != nil {
			return err
		}
		if n > 0 {
			res.warn("%d change(s) made since creation will be lost", n)
		}
		return nil

	case models.ActionUpdate:
		n, err := a.records.CountSubsequentMutations(ctx, rec.EntityType, entityID, rec.CreatedAt)
		if err != nil {
			return err
		}
		if n > 0 {
			res.warn("the %s was changed %d more time(s) after this action; undoing reverts those too", rec.EntityType, n)
		}
		return a.checkBackup(ctx, rec, res)

	default:
		// Non-mutations were already blocked by eligibility.
		return nil
	}
}

func (a *Analyzer) checkBackup(ctx context.Context, rec *models.AuditRecord, res *Analysis) error {
	b, err := a.backups.GetByAuditRecordID(ctx, rec.ID)
	if err != nil {
		return err
	}
	if b == nil {
		res.block(FailureValidation, "no backup exists for this action")
		return nil
	}
	res.require("backup available")
	if b.FilesPath != nil {
		res.require("file backup available")
	}
	return nil
}

// CanUndoByRole reports whether an administrator with the given role may undo
// the record. False for records that are no longer undoable, tiers outside the
// role's allowance, and unknown roles.
func (a *Analyzer) CanUndoByRole(ctx context.Context, recordID uuid.UUID, role Role) (bool, error) {
	rec, err := a.records.GetByID(ctx, recordID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	still, err := a.stillUndoable(ctx, rec)
	if err != nil || !still {
		return false, err
	}
	return role.AllowsTier(rec.Tier), nil
}

// IsStillUndoable reports whether the record remains eligible for undo right
// now: flagged undoable, inside its retention window, with no completed undo.
func (a *Analyzer) IsStillUndoable(ctx context.Context, recordID uuid.UUID) (bool, error) {
	rec, err := a.records.GetByID(ctx, recordID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	return a.stillUndoable(ctx, rec)
}

// Eligibility evaluates an already-loaded record: whether it remains undoable
// at all, and whether the given role may undo it. Used by timeline views that
// annotate many records without re-fetching each one.
func (a *Analyzer) Eligibility(ctx context.Context, rec *models.AuditRecord, role Role) (stillUndoable, allowedForRole bool, err error) {
	still, err := a.stillUndoable(ctx, rec)
	if err != nil {
		return false, false, err
	}
	return still, still && role.AllowsTier(rec.Tier), nil
}

func (a *Analyzer) stillUndoable(ctx context.Context, rec *models.AuditRecord) (bool, error) {
	if !rec.IsUndoable || rec.Expired(a.now()) {
		return false, nil
	}
	completed, err := a.actions.HasCompleted(ctx, rec.ID)
	if err != nil {
		return false, err
	}
	return !completed, nil
}

func (r *Analysis) block(kind FailureKind, format string, args ...interface{}) {
	if len(r.Blockers) == 0 {
		r.blockerKind = kind
	}
	r.Blockers = append(r.Blockers, fmt.Sprintf(format, args...))
}

func (r *Analysis) warn(format string, args ...interface{}) {
	r.Warnings = append(r.Warnings, fmt.Sprintf(format, args...))
}

func (r *Analysis) require(msg string) {
	r.Requirements = append(r.Requirements, msg)
}
