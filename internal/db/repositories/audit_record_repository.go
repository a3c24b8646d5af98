// audit_record_repository.go provides database operations for audit records.
// Records are append-only: the only post-creation writes are the is_undoable
// downgrade (snapshot failure, completed undo) and expiry purging by the
// retention sweep. Timeline listings filter on expires_at so expired records
// stay invisible even before the sweep reclaims them. Point lookups do not:
// undo analysis needs to see an expired record so it can report "expired"
// rather than "not found".
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

const auditRecordColumns = `
	id, group_id, user_id, admin_id, action, entity_type, entity_id,
	description, context, before_snapshot, after_snapshot, related_entities,
	is_undoable, tier, ip_address, user_agent, endpoint, method, status_code,
	created_at, expires_at`

// AuditRecordRepository handles audit record database operations.
type AuditRecordRepository struct {
	db *sqlx.DB
}

// NewAuditRecordRepository creates a new AuditRecordRepository.
func NewAuditRecordRepository(db *sqlx.DB) *AuditRecordRepository {
	return &AuditRecordRepository{db: db}
}

// Create inserts a new audit record using the repository's own connection.
func (r *AuditRecordRepository) Create(ctx context.Context, rec *models.AuditRecord) error {
	return r.create(ctx, r.db, rec)
}

// CreateInTx inserts a new audit record inside the caller's transaction, so the
// record commits or rolls back together with the business mutation it documents.
func (r *AuditRecordRepository) CreateInTx(ctx context.Context, tx *sqlx.Tx, rec *models.AuditRecord) error {
	return r.create(ctx, tx, rec)
}

func (r *AuditRecordRepository) create(ctx context.Context, q sqlx.ExtContext, rec *models.AuditRecord) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO audit_records (
			id, group_id, user_id, admin_id, action, entity_type, entity_id,
			description, context, before_snapshot, after_snapshot, related_entities,
			is_undoable, tier, ip_address, user_agent, endpoint, method, status_code,
			created_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)
	`

	_, err := q.ExecContext(ctx, query,
		rec.ID,
		rec.GroupID,
		rec.UserID,
		rec.AdminID,
		rec.Action,
		rec.EntityType,
		rec.EntityID,
		rec.Description,
		rec.Context,
		[]byte(rec.BeforeSnapshot),
		[]byte(rec.AfterSnapshot),
		[]byte(rec.RelatedEntities),
		rec.IsUndoable,
		rec.Tier,
		rec.IPAddress,
		rec.UserAgent,
		rec.Endpoint,
		rec.Method,
		rec.StatusCode,
		rec.CreatedAt,
		rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	return nil
}

// GetByID returns an audit record by id, or nil if not found.
func (r *AuditRecordRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.AuditRecord, error) {
	query := `SELECT ` + auditRecordColumns + ` FROM audit_records WHERE id = $1`

	var rec models.AuditRecord
	err := r.db.GetContext(ctx, &rec, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get audit record: %w", err)
	}
	return &rec, nil
}

// ListByUser returns a user's unexpired audit records newer than since, newest
// first. Non-undoable records are included only when includeNonUndoable is set.
func (r *AuditRecordRepository) ListByUser(ctx context.Context, userID uuid.UUID, since time.Time, includeNonUndoable bool) ([]models.AuditRecord, error) {
	query := `
		SELECT ` + auditRecordColumns + `
		FROM audit_records
		WHERE user_id = $1 AND created_at >= $2 AND expires_at > now()
	`
	if !includeNonUndoable {
		query += ` AND is_undoable`
	}
	query += ` ORDER BY created_at DESC`

	var recs []models.AuditRecord
	if err := r.db.SelectContext(ctx, &recs, query, userID, since); err != nil {
		return nil, fmt.Errorf("failed to list audit records: %w", err)
	}
	return recs, nil
}

// ListByGroup returns all records in a transaction group, newest first.
// Expired members are included; callers annotate per-record eligibility.
func (r *AuditRecordRepository) ListByGroup(ctx context.Context, groupID uuid.UUID) ([]models.AuditRecord, error) {
	query := `
		SELECT ` + auditRecordColumns + `
		FROM audit_records
		WHERE group_id = $1
		ORDER BY created_at DESC
	`

	var recs []models.AuditRecord
	if err := r.db.SelectContext(ctx, &recs, query, groupID); err != nil {
		return nil, fmt.Errorf("failed to list group records: %w", err)
	}
	return recs, nil
}

// MarkNonUndoable permanently downgrades a record. Used when snapshot creation
// failed at record time and after a completed undo consumed the record.
func (r *AuditRecordRepository) MarkNonUndoable(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE audit_records SET is_undoable = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to mark record non-undoable: %w", err)
	}
	return nil
}

// CountSubsequentMutations counts update/delete records touching the same entity
// after the given time. The analyzer reports this so an administrator knows how
// many later changes an undo would silently discard.
func (r *AuditRecordRepository) CountSubsequentMutations(ctx context.Context, entityType, entityID string, after time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM audit_records
		WHERE entity_type = $1 AND entity_id = $2
		  AND created_at > $3
		  AND action IN ('update', 'delete')
	`

	var count int
	if err := r.db.GetContext(ctx, &count, query, entityType, entityID, after); err != nil {
		return 0, fmt.Errorf("failed to count subsequent mutations: %w", err)
	}
	return count, nil
}

// HasLaterCreate reports whether a newer create record exists for the same
// entity identity. A later create means the id was reused by an unrelated
// entity, so undoing the older record would clobber it.
func (r *AuditRecordRepository) HasLaterCreate(ctx context.Context, entityType, entityID string, after time.Time) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM audit_records
			WHERE entity_type = $1 AND entity_id = $2
			  AND created_at > $3
			  AND action = 'create'
		)
	`

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, entityType, entityID, after); err != nil {
		return false, fmt.Errorf("failed to check for later create: %w", err)
	}
	return exists, nil
}

// DeleteExpired removes up to limit audit records whose retention window has
// elapsed. Backups cascade via the foreign key. Returns the number deleted.
func (r *AuditRecordRepository) DeleteExpired(ctx context.Context, now time.Time, limit int) (int64, error) {
	query := `
		DELETE FROM audit_records
		WHERE id IN (
			SELECT id FROM audit_records WHERE expires_at < $1 LIMIT $2
		)
	`

	res, err := r.db.ExecContext(ctx, query, now, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired audit records: %w", err)
	}
	return res.RowsAffected()
}
