package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/domara/audit-engine/internal/db/models"
)

// groupCols lists the SELECT columns for TransactionGroup queries.
var groupCols = []string{
	"id", "name", "description", "primary_user_id", "total_actions", "undoable_count",
	"aggregate_tier", "all_undoable", "undone", "created_at", "updated_at",
}

func newGroupRepo(t *testing.T) (*TransactionGroupRepository, sqlmock.Sqlmock, *sqlx.DB) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return NewTransactionGroupRepository(sqlxDB), mock, sqlxDB
}

func newGroupRow(mock sqlmock.Sqlmock, g *models.TransactionGroup) *sqlmock.Rows {
	rows := mock.NewRows(groupCols)
	rows.AddRow(
		g.ID,
		g.Name,
		g.Description,
		g.PrimaryUserID,
		g.TotalActions,
		g.UndoableCount,
		g.AggregateTier,
		g.AllUndoable,
		g.Undone,
		g.CreatedAt,
		g.UpdatedAt,
	)
	return rows
}

func testGroup() *models.TransactionGroup {
	now := time.Now().UTC().Truncate(time.Second)
	userID := uuid.New()
	return &models.TransactionGroup{
		ID:            uuid.New(),
		Name:          "bulk price update",
		PrimaryUserID: &userID,
		TotalActions:  3,
		UndoableCount: 3,
		AggregateTier: models.TierModerate,
		AllUndoable:   true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// --- Ensure / Refresh ---

func TestGroupEnsure_Upserts(t *testing.T) {
	repo, mock, sqlxDB := newGroupRepo(t)
	rec := testAuditRecord()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO transaction_groups`).
		WithArgs(rec.GroupID, "bulk price update", rec.UserID).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	tx, err := sqlxDB.Beginx()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.Ensure(context.Background(), tx, rec, "bulk price update"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGroupEnsure_InsertError(t *testing.T) {
	repo, mock, sqlxDB := newGroupRepo(t)
	rec := testAuditRecord()

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO transaction_groups`).
		WillReturnError(errDB)
	mock.ExpectRollback()

	tx, err := sqlxDB.Beginx()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.Ensure(context.Background(), tx, rec, "bulk price update"); err == nil {
		t.Fatal("expected error, got nil")
	}
	_ = tx.Rollback()
}

func TestGroupRefresh_RecomputesRollups(t *testing.T) {
	repo, mock, sqlxDB := newGroupRepo(t)
	rec := testAuditRecord()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE transaction_groups`).
		WithArgs(rec.GroupID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := sqlxDB.Beginx()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.Refresh(context.Background(), tx, rec.GroupID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestGroupRefresh_DBError(t *testing.T) {
	repo, mock, sqlxDB := newGroupRepo(t)
	rec := testAuditRecord()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE transaction_groups`).
		WillReturnError(errDB)
	mock.ExpectRollback()

	tx, err := sqlxDB.Beginx()
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := repo.Refresh(context.Background(), tx, rec.GroupID); err == nil {
		t.Fatal("expected error, got nil")
	}
	_ = tx.Rollback()
}

// --- GetByID ---

func TestGroupGetByID_Found(t *testing.T) {
	repo, mock, _ := newGroupRepo(t)
	expected := testGroup()

	mock.ExpectQuery(`SELECT.*FROM transaction_groups`).
		WithArgs(expected.ID).
		WillReturnRows(newGroupRow(mock, expected))

	g, err := repo.GetByID(context.Background(), expected.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g == nil {
		t.Fatal("expected group, got nil")
	}
	if g.AggregateTier != models.TierModerate {
		t.Fatalf("unexpected tier: %s", g.AggregateTier)
	}
	if g.TotalActions != 3 {
		t.Fatalf("unexpected total: %d", g.TotalActions)
	}
}

func TestGroupGetByID_NotFound(t *testing.T) {
	repo, mock, _ := newGroupRepo(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT.*FROM transaction_groups`).
		WithArgs(id).
		WillReturnRows(mock.NewRows(groupCols))

	g, err := repo.GetByID(context.Background(), id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g != nil {
		t.Fatalf("expected nil for missing group, got %+v", g)
	}
}

func TestGroupGetByID_DBError(t *testing.T) {
	repo, mock, _ := newGroupRepo(t)
	id := uuid.New()

	mock.ExpectQuery(`SELECT.*FROM transaction_groups`).
		WithArgs(id).
		WillReturnError(errDB)

	_, err := repo.GetByID(context.Background(), id)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// --- ListByUser ---

func TestGroupListByUser_Success(t *testing.T) {
	repo, mock, _ := newGroupRepo(t)
	expected := testGroup()
	since := time.Now().Add(-30 * 24 * time.Hour)

	mock.ExpectQuery(`SELECT.*FROM transaction_groups`).
		WithArgs(*expected.PrimaryUserID, since).
		WillReturnRows(newGroupRow(mock, expected))

	groups, err := repo.ListByUser(context.Background(), *expected.PrimaryUserID, since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
}

func TestGroupListByUser_Empty(t *testing.T) {
	repo, mock, _ := newGroupRepo(t)
	userID := uuid.New()
	since := time.Now().Add(-30 * 24 * time.Hour)

	mock.ExpectQuery(`SELECT.*FROM transaction_groups`).
		WithArgs(userID, since).
		WillReturnRows(mock.NewRows(groupCols))

	groups, err := repo.ListByUser(context.Background(), userID, since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(groups) != 0 {
		t.Fatalf("expected empty result, got %d", len(groups))
	}
}

// --- MarkUndone ---

func TestGroupMarkUndone_Success(t *testing.T) {
	repo, mock, _ := newGroupRepo(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE transaction_groups SET undone = TRUE`).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.MarkUndone(context.Background(), id); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestGroupMarkUndone_DBError(t *testing.T) {
	repo, mock, _ := newGroupRepo(t)
	id := uuid.New()

	mock.ExpectExec(`UPDATE transaction_groups SET undone = TRUE`).
		WithArgs(id).
		WillReturnError(errDB)

	if err := repo.MarkUndone(context.Background(), id); err == nil {
		t.Fatal("expected error, got nil")
	}
}

// --- DeleteEmpty ---

func TestGroupDeleteEmpty_Success(t *testing.T) {
	repo, mock, _ := newGroupRepo(t)

	mock.ExpectExec(`DELETE FROM transaction_groups`).
		WillReturnResult(sqlmock.NewResult(0, 7))

	n, err := repo.DeleteEmpty(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 7 {
		t.Fatalf("expected 7 deleted, got %d", n)
	}
}

func TestGroupDeleteEmpty_DBError(t *testing.T) {
	repo, mock, _ := newGroupRepo(t)

	mock.ExpectExec(`DELETE FROM transaction_groups`).
		WillReturnError(errDB)

	_, err := repo.DeleteEmpty(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}
