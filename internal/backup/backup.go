// Package backup implements the snapshot store: the structured-data copies and
// optional file bundles captured at record time that make an action reversible
// later. The structured snapshot commits in the same transaction as the audit
// record it belongs to; the file bundle is best-effort and its absence never
// fails the snapshot.
package backup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/domara/audit-engine/internal/db/models"
	"github.com/domara/audit-engine/internal/db/repositories"
	"github.com/domara/audit-engine/internal/storage"
)

var (
	// ErrNotFound is returned by Restore when no backup exists for the id.
	ErrNotFound = errors.New("backup not found")

	// ErrConsumed is returned by Restore when the backup was already used by a
	// completed undo.
	ErrConsumed = errors.New("backup already consumed")
)

// SnapshotError wraps any failure to capture the structured snapshot. Callers
// use it to distinguish "could not make this undoable" from other record-time
// errors and degrade the record to non-undoable instead of failing the action.
type SnapshotError struct {
	Err error
}

func (e *SnapshotError) Error() string {
	return fmt.Sprintf("snapshot failed: %v", e.Err)
}

func (e *SnapshotError) Unwrap() error {
	return e.Err
}

// SnapshotInput carries the before-state to capture for one audit record.
type SnapshotInput struct {
	// Payload is the entity's full state before the mutation. Required.
	Payload json.RawMessage

	// RelatedPayload holds the before-state of related entities affected by
	// the same action, keyed however the caller captured them. Optional.
	RelatedPayload json.RawMessage

	// Files streams a bundle of the entity's externally-stored files
	// (attachments, images). Optional; upload failure is logged, not fatal.
	Files io.Reader

	// FilesSize is the bundle size in bytes when Files is set.
	FilesSize int64
}

// Store captures and serves point-in-time backups. Structured payloads go to
// the database; file bundles go to the configured storage backend.
type Store struct {
	backups *repositories.BackupRepository
	files   storage.Backend
}

// NewStore creates a Store. files may be nil when file bundles are disabled;
// snapshots then capture structured data only.
func NewStore(backups *repositories.BackupRepository, files storage.Backend) *Store {
	return &Store{backups: backups, files: files}
}

// Snapshot captures the before-state for rec and persists it. When tx is
// non-nil the backup row joins the caller's transaction so it commits together
// with the audit record. Returns a SnapshotError on any failure that should
// degrade the record to non-undoable.
func (s *Store) Snapshot(ctx context.Context, tx *sqlx.Tx, rec *models.AuditRecord, in SnapshotInput) (*models.DataBackup, error) {
	if len(in.Payload) == 0 {
		return nil, &SnapshotError{Err: errors.New("no before-state payload")}
	}

	b := &models.DataBackup{
		ID:             uuid.New(),
		AuditRecordID:  rec.ID,
		EntityType:     rec.EntityType,
		EntityID:       rec.EntityID,
		Payload:        in.Payload,
		RelatedPayload: in.RelatedPayload,
		PayloadSize:    int64(len(in.Payload) + len(in.RelatedPayload)),
		ExpiresAt:      rec.ExpiresAt,
	}

	if in.Files != nil && s.files != nil {
		path := bundlePath(rec.EntityType, rec.EntityID, b.ID)
		res, err := s.files.Upload(ctx, path, in.Files, in.FilesSize)
		if err != nil {
			// The structured snapshot alone is enough to undo; lose the
			// file copies rather than the whole backup.
			slog.Warn("file bundle upload failed, snapshot continues without files",
				"audit_record_id", rec.ID, "path", path, "error", err)
		} else {
			b.FilesPath = &res.Path
			b.Compressed = true
		}
	}

	var err error
	if tx != nil {
		err = s.backups.CreateInTx(ctx, tx, b)
	} else {
		err = s.backups.Create(ctx, b)
	}
	if err != nil {
		if b.FilesPath != nil {
			// The row never landed, so the bundle is orphaned. Best effort;
			// the retention sweep cannot find it without a row.
			if delErr := s.files.Delete(ctx, *b.FilesPath); delErr != nil {
				slog.Warn("failed to delete orphaned file bundle",
					"path", *b.FilesPath, "error", delErr)
			}
		}
		return nil, &SnapshotError{Err: err}
	}
	return b, nil
}

// Restore loads a backup for use by an undo execution. It validates that the
// backup exists and has not already been consumed; it does not mutate anything.
func (s *Store) Restore(ctx context.Context, id uuid.UUID) (*models.DataBackup, error) {
	b, err := s.backups.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}
	if b.Consumed() {
		return nil, ErrConsumed
	}
	return b, nil
}

// RestoreForRecord loads the backup attached to an audit record, with the same
// validation as Restore.
func (s *Store) RestoreForRecord(ctx context.Context, recordID uuid.UUID) (*models.DataBackup, error) {
	b, err := s.backups.GetByAuditRecordID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, ErrNotFound
	}
	if b.Consumed() {
		return nil, ErrConsumed
	}
	return b, nil
}

// Consume stamps a backup after a completed undo used it. The row stays for
// the audit trail until the retention sweep reclaims it.
func (s *Store) Consume(ctx context.Context, id uuid.UUID) error {
	return s.backups.MarkConsumed(ctx, id)
}

// OpenFiles opens the backup's file bundle for reading. Returns (nil, nil)
// when the backup has no bundle. The caller closes the reader.
func (s *Store) OpenFiles(ctx context.Context, b *models.DataBackup) (io.ReadCloser, error) {
	if b.FilesPath == nil {
		return nil, nil
	}
	if s.files == nil {
		return nil, errors.New("backup has a file bundle but no storage backend is configured")
	}
	return s.files.Download(ctx, *b.FilesPath)
}

// bundlePath places bundles under entity type and id so operators can locate a
// specific entity's backups in the blob store directly.
func bundlePath(entityType string, entityID *string, backupID uuid.UUID) string {
	id := "unscoped"
	if entityID != nil && *entityID != "" {
		id = *entityID
	}
	return fmt.Sprintf("%s/%s/%s.tar.gz", entityType, id, backupID)
}
