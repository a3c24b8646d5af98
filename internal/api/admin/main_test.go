package admin

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/domara/audit-engine/internal/backup"
	"github.com/domara/audit-engine/internal/classify"
	"github.com/domara/audit-engine/internal/db/repositories"
	"github.com/domara/audit-engine/internal/entitystore"
	"github.com/domara/audit-engine/internal/middleware"
	"github.com/domara/audit-engine/internal/notify"
	"github.com/domara/audit-engine/internal/recorder"
	"github.com/domara/audit-engine/internal/timeline"
	"github.com/domara/audit-engine/internal/undo"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

// fakeEntities is a minimal in-memory entity store for handler tests.
type fakeEntities struct {
	live map[string]bool
}

func newFakeEntities(liveKeys ...string) *fakeEntities {
	f := &fakeEntities{live: map[string]bool{}}
	for _, k := range liveKeys {
		f.live[k] = true
	}
	return f
}

func (f *fakeEntities) Exists(_ context.Context, entityType, entityID string) (bool, error) {
	return f.live[entityType+"/"+entityID], nil
}

func (f *fakeEntities) Get(_ context.Context, entityType, entityID string) (*entitystore.Entity, error) {
	if !f.live[entityType+"/"+entityID] {
		return nil, nil
	}
	return &entitystore.Entity{EntityType: entityType, EntityID: entityID}, nil
}

func (f *fakeEntities) Upsert(_ context.Context, entityType, entityID string, _ json.RawMessage) error {
	f.live[entityType+"/"+entityID] = true
	return nil
}

func (f *fakeEntities) SoftDelete(_ context.Context, entityType, entityID string) error {
	delete(f.live, entityType+"/"+entityID)
	return nil
}

// testEnv bundles the services the handlers sit on, all backed by one sqlmock
// connection and an in-memory entity store.
type testEnv struct {
	mock     sqlmock.Sqlmock
	entities *fakeEntities

	recorder *recorder.Recorder
	analyzer *undo.Analyzer
	executor *undo.Executor
	timeline *timeline.Service
	center   *notify.Center
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlmock")

	recordRepo := repositories.NewAuditRecordRepository(sqlxDB)
	groupRepo := repositories.NewTransactionGroupRepository(sqlxDB)
	backupRepo := repositories.NewBackupRepository(sqlxDB)
	actionRepo := repositories.NewUndoActionRepository(sqlxDB)
	notificationRepo := repositories.NewNotificationRepository(db)

	entities := newFakeEntities()
	backups := backup.NewStore(backupRepo, nil)
	analyzer := undo.NewAnalyzer(recordRepo, backupRepo, actionRepo, entities)
	center := notify.NewCenter(notificationRepo, nil, 30*time.Second, 30*24*time.Hour)

	return &testEnv{
		mock:     mock,
		entities: entities,
		recorder: recorder.New(sqlxDB, recordRepo, groupRepo, classify.NewClassifier(), backups, 90*24*time.Hour),
		analyzer: analyzer,
		executor: undo.NewExecutor(analyzer, recordRepo, groupRepo, actionRepo, backups, entities, center),
		timeline: timeline.NewService(recordRepo, groupRepo, analyzer),
		center:   center,
	}
}

// identity simulates an already-authenticated caller so handler tests can
// exercise behavior without minting tokens.
func identity(userID uuid.UUID, role undo.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(middleware.UserIDKey, userID)
		c.Set(middleware.RoleKey, role)
		c.Next()
	}
}

var auditRecordCols = []string{
	"id", "group_id", "user_id", "admin_id", "action", "entity_type", "entity_id",
	"description", "context", "before_snapshot", "after_snapshot", "related_entities",
	"is_undoable", "tier", "ip_address", "user_agent", "endpoint", "method",
	"status_code", "created_at", "expires_at",
}
