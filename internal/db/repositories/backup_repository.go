// backup_repository.go provides database operations for data backups: the
// structured "before" snapshots attached 1:1 to undoable audit records. Rows are
// read-only after creation except for the consumed_at stamp set by a completed undo.
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

const backupColumns = `
	id, audit_record_id, entity_type, entity_id, payload, related_payload,
	files_path, payload_size, compressed, consumed_at, created_at, expires_at`

// BackupRepository handles data backup database operations.
type BackupRepository struct {
	db *sqlx.DB
}

// NewBackupRepository creates a new BackupRepository.
func NewBackupRepository(db *sqlx.DB) *BackupRepository {
	return &BackupRepository{db: db}
}

// Create inserts a backup row using the repository's own connection.
func (r *BackupRepository) Create(ctx context.Context, b *models.DataBackup) error {
	return r.create(ctx, r.db, b)
}

// CreateInTx inserts a backup row inside the caller's transaction so the backup
// commits together with the audit record it belongs to.
func (r *BackupRepository) CreateInTx(ctx context.Context, tx *sqlx.Tx, b *models.DataBackup) error {
	return r.create(ctx, tx, b)
}

func (r *BackupRepository) create(ctx context.Context, q sqlx.ExtContext, b *models.DataBackup) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO data_backups (
			id, audit_record_id, entity_type, entity_id, payload, related_payload,
			files_path, payload_size, compressed, created_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`

	_, err := q.ExecContext(ctx, query,
		b.ID,
		b.AuditRecordID,
		b.EntityType,
		b.EntityID,
		[]byte(b.Payload),
		[]byte(b.RelatedPayload),
		b.FilesPath,
		b.PayloadSize,
		b.Compressed,
		b.CreatedAt,
		b.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert data backup: %w", err)
	}
	return nil
}

// GetByID returns a backup by id, or nil if not found.
func (r *BackupRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DataBackup, error) {
	query := `SELECT ` + backupColumns + ` FROM data_backups WHERE id = $1`

	var b models.DataBackup
	err := r.db.GetContext(ctx, &b, query, id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get data backup: %w", err)
	}
	return &b, nil
}

// GetByAuditRecordID returns the backup attached to an audit record, or nil.
func (r *BackupRepository) GetByAuditRecordID(ctx context.Context, recordID uuid.UUID) (*models.DataBackup, error) {
	query := `SELECT ` + backupColumns + ` FROM data_backups WHERE audit_record_id = $1`

	var b models.DataBackup
	err := r.db.GetContext(ctx, &b, query, recordID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get backup for audit record: %w", err)
	}
	return &b, nil
}

// MarkConsumed stamps a backup after a completed undo used it. The row is kept
// for the audit trail and reclaimed by the retention sweep.
func (r *BackupRepository) MarkConsumed(ctx context.Context, id uuid.UUID) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE data_backups SET consumed_at = now() WHERE id = $1 AND consumed_at IS NULL`, id)
	if err != nil {
		return fmt.Errorf("failed to mark backup consumed: %w", err)
	}
	return nil
}

// ExpiredFilePaths returns the file-bundle paths of expired backups so the sweep
// can reclaim blob storage after the rows are gone.
func (r *BackupRepository) ExpiredFilePaths(ctx context.Context, now time.Time, limit int) ([]string, error) {
	query := `
		SELECT files_path FROM data_backups
		WHERE expires_at < $1 AND files_path IS NOT NULL
		LIMIT $2
	`

	var paths []string
	if err := r.db.SelectContext(ctx, &paths, query, now, limit); err != nil {
		return nil, fmt.Errorf("failed to list expired backup file paths: %w", err)
	}
	return paths, nil
}
