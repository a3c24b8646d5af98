// Package entitystore is the engine's write-back surface: the place restored
// snapshots land when an undo executes. Business services own their real entity
// tables; this store models them as schema-less documents keyed by
// (entity_type, entity_id) so the undo path stays entity-agnostic.
package entitystore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
)

// Entity is one stored document.
type Entity struct {
	EntityType string          `db:"entity_type"`
	EntityID   string          `db:"entity_id"`
	Payload    json.RawMessage `db:"payload"`
	CreatedAt  time.Time       `db:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at"`
	DeletedAt  *time.Time      `db:"deleted_at"`
}

// Store reads and writes entity documents. The undo executor depends on this
// interface; production wiring uses the SQL implementation below, tests swap
// in fakes.
type Store interface {
	// Exists reports whether a live (not soft-deleted) entity occupies the identity.
	Exists(ctx context.Context, entityType, entityID string) (bool, error)
	// Get returns the entity, or nil if absent or soft-deleted.
	Get(ctx context.Context, entityType, entityID string) (*Entity, error)
	// Upsert writes the payload, reviving a soft-deleted row if one exists.
	Upsert(ctx context.Context, entityType, entityID string, payload json.RawMessage) error
	// SoftDelete hides the entity without discarding its payload.
	SoftDelete(ctx context.Context, entityType, entityID string) error
}

// SQLStore implements Store on the entities table.
type SQLStore struct {
	db *sqlx.DB
}

// NewSQLStore creates a new SQLStore.
func NewSQLStore(db *sqlx.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Exists(ctx context.Context, entityType, entityID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM entities
			WHERE entity_type = $1 AND entity_id = $2 AND deleted_at IS NULL
		)
	`

	var exists bool
	if err := s.db.GetContext(ctx, &exists, query, entityType, entityID); err != nil {
		return false, fmt.Errorf("failed to check entity existence: %w", err)
	}
	return exists, nil
}

func (s *SQLStore) Get(ctx context.Context, entityType, entityID string) (*Entity, error) {
	query := `
		SELECT entity_type, entity_id, payload, created_at, updated_at, deleted_at
		FROM entities
		WHERE entity_type = $1 AND entity_id = $2 AND deleted_at IS NULL
	`

	var e Entity
	err := s.db.GetContext(ctx, &e, query, entityType, entityID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}
	return &e, nil
}

func (s *SQLStore) Upsert(ctx context.Context, entityType, entityID string, payload json.RawMessage) error {
	query := `
		INSERT INTO entities (entity_type, entity_id, payload)
		VALUES ($1, $2, $3)
		ON CONFLICT (entity_type, entity_id) DO UPDATE
		SET payload = EXCLUDED.payload, updated_at = now(), deleted_at = NULL
	`

	if _, err := s.db.ExecContext(ctx, query, entityType, entityID, []byte(payload)); err != nil {
		return fmt.Errorf("failed to upsert entity: %w", err)
	}
	return nil
}

func (s *SQLStore) SoftDelete(ctx context.Context, entityType, entityID string) error {
	query := `
		UPDATE entities
		SET deleted_at = now(), updated_at = now()
		WHERE entity_type = $1 AND entity_id = $2 AND deleted_at IS NULL
	`

	if _, err := s.db.ExecContext(ctx, query, entityType, entityID); err != nil {
		return fmt.Errorf("failed to soft delete entity: %w", err)
	}
	return nil
}
