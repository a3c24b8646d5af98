package timeline

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/domara/audit-engine/internal/db/models"
	"github.com/domara/audit-engine/internal/db/repositories"
	"github.com/domara/audit-engine/internal/entitystore"
	"github.com/domara/audit-engine/internal/undo"
)

var errDB = errors.New("db error")

// noEntities satisfies entitystore.Store; the timeline never reaches it.
type noEntities struct{}

func (noEntities) Exists(context.Context, string, string) (bool, error) { return false, nil }
func (noEntities) Get(context.Context, string, string) (*entitystore.Entity, error) {
	return nil, nil
}
func (noEntities) Upsert(context.Context, string, string, json.RawMessage) error { return nil }
func (noEntities) SoftDelete(context.Context, string, string) error              { return nil }

func newService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	records := repositories.NewAuditRecordRepository(sqlxDB)
	analyzer := undo.NewAnalyzer(
		records,
		repositories.NewBackupRepository(sqlxDB),
		repositories.NewUndoActionRepository(sqlxDB),
		noEntities{},
	)
	return NewService(records, repositories.NewTransactionGroupRepository(sqlxDB), analyzer), mock
}

var auditRecordCols = []string{
	"id", "group_id", "user_id", "admin_id", "action", "entity_type", "entity_id",
	"description", "context", "before_snapshot", "after_snapshot", "related_entities",
	"is_undoable", "tier", "ip_address", "user_agent", "endpoint", "method",
	"status_code", "created_at", "expires_at",
}

var groupCols = []string{
	"id", "name", "description", "primary_user_id", "total_actions", "undoable_count",
	"aggregate_tier", "all_undoable", "undone", "created_at", "updated_at",
}

func addRecordRow(rows *sqlmock.Rows, rec *models.AuditRecord) {
	rows.AddRow(
		rec.ID, rec.GroupID, rec.UserID, nil, rec.Action, rec.EntityType, rec.EntityID,
		rec.Description, nil, nil, nil, []byte(rec.RelatedEntities),
		rec.IsUndoable, rec.Tier, nil, nil, nil, nil, nil, rec.CreatedAt, rec.ExpiresAt,
	)
}

func expectGroupRow(mock sqlmock.Sqlmock, id uuid.UUID, name string, tier models.Tier) {
	now := time.Now()
	mock.ExpectQuery(`SELECT.*FROM transaction_groups`).
		WillReturnRows(sqlmock.NewRows(groupCols).AddRow(
			id, name, nil, nil, 2, 1, tier, false, false, now, now,
		))
}

func record(userID uuid.UUID, groupID uuid.UUID, action models.ActionKind, tier models.Tier, age time.Duration) *models.AuditRecord {
	entityID := "prop-812"
	return &models.AuditRecord{
		ID:          uuid.New(),
		GroupID:     groupID,
		UserID:      &userID,
		Action:      action,
		EntityType:  "property",
		EntityID:    &entityID,
		Description: "mutated property",
		IsUndoable:  action.IsMutation(),
		Tier:        tier,
		CreatedAt:   time.Now().Add(-age),
		ExpiresAt:   time.Now().Add(24 * time.Hour),
	}
}

// ---------------------------------------------------------------------------
// GetTimeline
// ---------------------------------------------------------------------------

func TestGetTimeline(t *testing.T) {
	s, mock := newService(t)
	userID := uuid.New()
	groupA := uuid.New()
	groupB := uuid.New()

	rec1 := record(userID, groupA, models.ActionUpdate, models.TierSimple, time.Hour)
	rec2 := record(userID, groupB, models.ActionDelete, models.TierComplex, 2*time.Hour)
	rec2.RelatedEntities = []byte(`[{"entity_type":"apartment","entity_id":"apt-1"},{"entity_type":"lease","entity_id":"l-1"}]`)
	rec3 := record(userID, groupA, models.ActionRead, models.TierImpossible, 3*time.Hour)
	rec3.IsUndoable = false

	rows := sqlmock.NewRows(auditRecordCols)
	addRecordRow(rows, rec1)
	addRecordRow(rows, rec2)
	addRecordRow(rows, rec3)
	mock.ExpectQuery(`SELECT.*FROM audit_records`).WillReturnRows(rows)

	// Undoable members each get a completed-undo check; rec3 short-circuits.
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	expectGroupRow(mock, groupA, "property maintenance", models.TierSimple)
	expectGroupRow(mock, groupB, "building teardown", models.TierComplex)

	views, err := s.GetTimeline(context.Background(), userID, 7, true, undo.RoleSupport)
	if err != nil {
		t.Fatalf("GetTimeline() error = %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("len(views) = %d, want 2 groups", len(views))
	}

	// Group A holds the newest member, so it comes first.
	if views[0].Group.ID != groupA || views[1].Group.ID != groupB {
		t.Fatalf("group order = [%s, %s], want [%s, %s]",
			views[0].Group.ID, views[1].Group.ID, groupA, groupB)
	}
	if len(views[0].Records) != 2 {
		t.Fatalf("group A has %d records, want 2", len(views[0].Records))
	}
	if !views[0].Records[0].CreatedAt.After(views[0].Records[1].CreatedAt) {
		t.Error("members within a group are not newest first")
	}

	first := views[0].Records[0]
	if !first.CanUndoByRole || !first.IsStillUndoable {
		t.Errorf("support should be able to undo a simple update: %+v", first)
	}
	if first.Impact.RiskLevel != "low" || first.Impact.Entity != "property prop-812" {
		t.Errorf("Impact = %+v", first.Impact)
	}

	read := views[0].Records[1]
	if read.IsStillUndoable || read.CanUndoByRole {
		t.Error("a read must never be undoable")
	}
	if read.Impact.RiskLevel != "irreversible" {
		t.Errorf("read risk = %s, want irreversible", read.Impact.RiskLevel)
	}

	del := views[1].Records[0]
	if !del.IsStillUndoable {
		t.Error("the complex delete is still inside its window")
	}
	if del.CanUndoByRole {
		t.Error("support must not be offered a complex undo")
	}
	if del.Impact.RelatedCount != 2 {
		t.Errorf("RelatedCount = %d, want 2", del.Impact.RelatedCount)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetTimeline_Empty(t *testing.T) {
	s, mock := newService(t)
	mock.ExpectQuery(`SELECT.*FROM audit_records`).
		WillReturnRows(sqlmock.NewRows(auditRecordCols))

	views, err := s.GetTimeline(context.Background(), uuid.New(), 0, false, undo.RoleSuperAdmin)
	if err != nil {
		t.Fatalf("GetTimeline() error = %v", err)
	}
	if views == nil || len(views) != 0 {
		t.Errorf("GetTimeline() = %v, want empty non-nil slice", views)
	}
}

func TestGetTimeline_MissingGroupRow(t *testing.T) {
	s, mock := newService(t)
	userID := uuid.New()
	groupID := uuid.New()
	rec := record(userID, groupID, models.ActionUpdate, models.TierSimple, time.Hour)

	rows := sqlmock.NewRows(auditRecordCols)
	addRecordRow(rows, rec)
	mock.ExpectQuery(`SELECT.*FROM audit_records`).WillReturnRows(rows)
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery(`SELECT.*FROM transaction_groups`).
		WillReturnRows(sqlmock.NewRows(groupCols))

	views, err := s.GetTimeline(context.Background(), userID, 7, true, undo.RoleSuperAdmin)
	if err != nil {
		t.Fatalf("GetTimeline() error = %v", err)
	}
	if len(views) != 1 || views[0].Group.ID != groupID {
		t.Errorf("missing group row must not hide its records: %+v", views)
	}
}

func TestGetTimeline_DBError(t *testing.T) {
	s, mock := newService(t)
	mock.ExpectQuery(`SELECT.*FROM audit_records`).WillReturnError(errDB)

	if _, err := s.GetTimeline(context.Background(), uuid.New(), 7, false, undo.RoleSupport); err == nil {
		t.Fatal("GetTimeline() error = nil, want db error")
	}
}

// ---------------------------------------------------------------------------
// GetGroup
// ---------------------------------------------------------------------------

func TestGetGroup(t *testing.T) {
	s, mock := newService(t)
	userID := uuid.New()
	groupID := uuid.New()
	rec := record(userID, groupID, models.ActionDelete, models.TierModerate, time.Hour)

	expectGroupRow(mock, groupID, "lease termination", models.TierModerate)
	rows := sqlmock.NewRows(auditRecordCols)
	addRecordRow(rows, rec)
	mock.ExpectQuery(`SELECT.*FROM audit_records`).WillReturnRows(rows)
	mock.ExpectQuery(`SELECT EXISTS`).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	view, err := s.GetGroup(context.Background(), groupID, undo.RoleSupport)
	if err != nil {
		t.Fatalf("GetGroup() error = %v", err)
	}
	if view == nil || view.Group.Name != "lease termination" {
		t.Fatalf("GetGroup() = %+v, want the group", view)
	}
	if len(view.Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1", len(view.Records))
	}
	if !view.Records[0].CanUndoByRole {
		t.Error("support may undo a moderate delete")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestGetGroup_NotFound(t *testing.T) {
	s, mock := newService(t)
	mock.ExpectQuery(`SELECT.*FROM transaction_groups`).
		WillReturnRows(sqlmock.NewRows(groupCols))

	view, err := s.GetGroup(context.Background(), uuid.New(), undo.RoleSupport)
	if err != nil {
		t.Fatalf("GetGroup() error = %v", err)
	}
	if view != nil {
		t.Errorf("GetGroup() = %+v, want nil for a missing group", view)
	}
}

// ---------------------------------------------------------------------------
// riskLevel
// ---------------------------------------------------------------------------

func TestRiskLevel(t *testing.T) {
	cases := map[models.Tier]string{
		models.TierSimple:     "low",
		models.TierModerate:   "medium",
		models.TierComplex:    "high",
		models.TierImpossible: "irreversible",
	}
	for tier, want := range cases {
		if got := riskLevel(tier); got != want {
			t.Errorf("riskLevel(%s) = %s, want %s", tier, got, want)
		}
	}
}
