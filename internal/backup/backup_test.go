package backup

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/domara/audit-engine/internal/db/models"
	"github.com/domara/audit-engine/internal/db/repositories"
	"github.com/domara/audit-engine/internal/storage"
)

var errDB = errors.New("db error")

// fakeBackend records uploads and deletes so tests can assert on file-bundle
// behavior without a real blob store.
type fakeBackend struct {
	uploads   []string
	deletes   []string
	uploadErr error
	content   string
}

func (f *fakeBackend) Upload(_ context.Context, path string, reader io.Reader, size int64) (*storage.UploadResult, error) {
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	f.uploads = append(f.uploads, path)
	f.content = string(data)
	return &storage.UploadResult{Path: path, Size: int64(len(data))}, nil
}

func (f *fakeBackend) Download(_ context.Context, path string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(f.content)), nil
}

func (f *fakeBackend) Delete(_ context.Context, path string) error {
	f.deletes = append(f.deletes, path)
	return nil
}

func (f *fakeBackend) Exists(_ context.Context, path string) (bool, error) {
	for _, p := range f.uploads {
		if p == path {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeBackend) GetMetadata(_ context.Context, path string) (*storage.FileMetadata, error) {
	return &storage.FileMetadata{Path: path, Size: int64(len(f.content))}, nil
}

func newStore(t *testing.T, files storage.Backend) (*Store, sqlmock.Sqlmock, *sqlx.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewStore(repositories.NewBackupRepository(sqlxDB), files), mock, sqlxDB
}

func testRecord() *models.AuditRecord {
	entityID := "prop-812"
	return &models.AuditRecord{
		ID:         uuid.New(),
		GroupID:    uuid.New(),
		Action:     models.ActionDelete,
		EntityType: "property",
		EntityID:   &entityID,
		ExpiresAt:  time.Now().Add(90 * 24 * time.Hour),
	}
}

// ---------------------------------------------------------------------------
// Snapshot
// ---------------------------------------------------------------------------

func TestSnapshot_StructuredOnly(t *testing.T) {
	store, mock, _ := newStore(t, &fakeBackend{})
	rec := testRecord()

	mock.ExpectExec(`INSERT INTO data_backups`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	b, err := store.Snapshot(context.Background(), nil, rec, SnapshotInput{
		Payload:        json.RawMessage(`{"name":"Seaside Villa"}`),
		RelatedPayload: json.RawMessage(`{"leases":[]}`),
	})
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if b.ID == uuid.Nil {
		t.Error("Snapshot() did not assign an id")
	}
	if b.AuditRecordID != rec.ID {
		t.Errorf("AuditRecordID = %s, want %s", b.AuditRecordID, rec.ID)
	}
	if b.FilesPath != nil {
		t.Errorf("FilesPath = %v, want nil without a file bundle", *b.FilesPath)
	}
	if b.Compressed {
		t.Error("Compressed = true, want false without a file bundle")
	}
	if want := int64(len(`{"name":"Seaside Villa"}`) + len(`{"leases":[]}`)); b.PayloadSize != want {
		t.Errorf("PayloadSize = %d, want %d", b.PayloadSize, want)
	}
	if !b.ExpiresAt.Equal(rec.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want the record's expiry %v", b.ExpiresAt, rec.ExpiresAt)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestSnapshot_WithFileBundle(t *testing.T) {
	files := &fakeBackend{}
	store, mock, _ := newStore(t, files)
	rec := testRecord()

	mock.ExpectExec(`INSERT INTO data_backups`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	b, err := store.Snapshot(context.Background(), nil, rec, SnapshotInput{
		Payload:   json.RawMessage(`{"name":"Seaside Villa"}`),
		Files:     strings.NewReader("tarball bytes"),
		FilesSize: 13,
	})
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if b.FilesPath == nil {
		t.Fatal("FilesPath = nil, want bundle path")
	}
	if want := "property/prop-812/" + b.ID.String() + ".tar.gz"; *b.FilesPath != want {
		t.Errorf("FilesPath = %s, want %s", *b.FilesPath, want)
	}
	if !b.Compressed {
		t.Error("Compressed = false, want true for an uploaded bundle")
	}
	if len(files.uploads) != 1 {
		t.Errorf("uploads = %d, want 1", len(files.uploads))
	}
}

func TestSnapshot_FileUploadFailureIsNotFatal(t *testing.T) {
	files := &fakeBackend{uploadErr: errors.New("bucket unreachable")}
	store, mock, _ := newStore(t, files)

	mock.ExpectExec(`INSERT INTO data_backups`).
		WillReturnResult(sqlmock.NewResult(1, 1))

	b, err := store.Snapshot(context.Background(), nil, testRecord(), SnapshotInput{
		Payload:   json.RawMessage(`{"name":"Seaside Villa"}`),
		Files:     strings.NewReader("tarball bytes"),
		FilesSize: 13,
	})
	if err != nil {
		t.Fatalf("Snapshot() error = %v, want nil when only the bundle fails", err)
	}
	if b.FilesPath != nil {
		t.Error("FilesPath set after a failed upload")
	}
}

func TestSnapshot_EmptyPayload(t *testing.T) {
	store, _, _ := newStore(t, &fakeBackend{})

	_, err := store.Snapshot(context.Background(), nil, testRecord(), SnapshotInput{})
	var snapErr *SnapshotError
	if !errors.As(err, &snapErr) {
		t.Fatalf("Snapshot() error = %v, want *SnapshotError", err)
	}
}

func TestSnapshot_InsertFailureDeletesOrphanedBundle(t *testing.T) {
	files := &fakeBackend{}
	store, mock, _ := newStore(t, files)

	mock.ExpectExec(`INSERT INTO data_backups`).WillReturnError(errDB)

	_, err := store.Snapshot(context.Background(), nil, testRecord(), SnapshotInput{
		Payload:   json.RawMessage(`{"name":"Seaside Villa"}`),
		Files:     strings.NewReader("tarball bytes"),
		FilesSize: 13,
	})
	var snapErr *SnapshotError
	if !errors.As(err, &snapErr) {
		t.Fatalf("Snapshot() error = %v, want *SnapshotError", err)
	}
	if len(files.deletes) != 1 {
		t.Fatalf("deletes = %d, want 1 (orphaned bundle cleanup)", len(files.deletes))
	}
	if files.deletes[0] != files.uploads[0] {
		t.Errorf("deleted %s, uploaded %s", files.deletes[0], files.uploads[0])
	}
}

func TestSnapshot_InTransaction(t *testing.T) {
	store, mock, sqlxDB := newStore(t, &fakeBackend{})

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO data_backups`).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := sqlxDB.Beginx()
	if err != nil {
		t.Fatalf("Beginx() error = %v", err)
	}
	if _, err := store.Snapshot(context.Background(), tx, testRecord(), SnapshotInput{
		Payload: json.RawMessage(`{"name":"Seaside Villa"}`),
	}); err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Restore
// ---------------------------------------------------------------------------

func restoreRow(t *testing.T, mock sqlmock.Sqlmock, id uuid.UUID, consumedAt *time.Time) {
	t.Helper()
	cols := []string{
		"id", "audit_record_id", "entity_type", "entity_id", "payload",
		"related_payload", "files_path", "payload_size", "compressed",
		"consumed_at", "created_at", "expires_at",
	}
	mock.ExpectQuery(`SELECT.*FROM data_backups`).
		WillReturnRows(sqlmock.NewRows(cols).AddRow(
			id, uuid.New(), "property", "prop-812", []byte(`{"name":"Seaside Villa"}`),
			nil, nil, int64(24), false, consumedAt, time.Now(), time.Now().Add(time.Hour),
		))
}

func TestRestore(t *testing.T) {
	store, mock, _ := newStore(t, &fakeBackend{})
	id := uuid.New()
	restoreRow(t, mock, id, nil)

	b, err := store.Restore(context.Background(), id)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if b.ID != id {
		t.Errorf("Restore() id = %s, want %s", b.ID, id)
	}
}

func TestRestore_NotFound(t *testing.T) {
	store, mock, _ := newStore(t, &fakeBackend{})
	mock.ExpectQuery(`SELECT.*FROM data_backups`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.Restore(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("Restore() error = %v, want ErrNotFound", err)
	}
}

func TestRestore_Consumed(t *testing.T) {
	store, mock, _ := newStore(t, &fakeBackend{})
	consumed := time.Now()
	restoreRow(t, mock, uuid.New(), &consumed)

	_, err := store.Restore(context.Background(), uuid.New())
	if !errors.Is(err, ErrConsumed) {
		t.Fatalf("Restore() error = %v, want ErrConsumed", err)
	}
}

func TestRestoreForRecord_NotFound(t *testing.T) {
	store, mock, _ := newStore(t, &fakeBackend{})
	mock.ExpectQuery(`SELECT.*FROM data_backups`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := store.RestoreForRecord(context.Background(), uuid.New())
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("RestoreForRecord() error = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// OpenFiles
// ---------------------------------------------------------------------------

func TestOpenFiles(t *testing.T) {
	files := &fakeBackend{content: "tarball bytes"}
	store, _, _ := newStore(t, files)
	path := "property/prop-812/bundle.tar.gz"

	rc, err := store.OpenFiles(context.Background(), &models.DataBackup{FilesPath: &path})
	if err != nil {
		t.Fatalf("OpenFiles() error = %v", err)
	}
	defer rc.Close()
	data, _ := io.ReadAll(rc)
	if string(data) != "tarball bytes" {
		t.Errorf("OpenFiles() content = %q", data)
	}
}

func TestOpenFiles_NoBundle(t *testing.T) {
	store, _, _ := newStore(t, &fakeBackend{})
	rc, err := store.OpenFiles(context.Background(), &models.DataBackup{})
	if err != nil {
		t.Fatalf("OpenFiles() error = %v", err)
	}
	if rc != nil {
		t.Error("OpenFiles() = non-nil reader for a backup with no bundle")
	}
}

func TestSnapshotError_Unwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &SnapshotError{Err: inner}
	if !errors.Is(err, inner) {
		t.Error("SnapshotError did not unwrap to its cause")
	}
}
