// factory.go implements the storage backend registry and factory, mapping backend
// type strings (local, s3) to constructor functions and dispatching NewBackend calls.
package storage

import (
	"fmt"

	"github.com/domara/audit-engine/internal/config"
)

// FactoryFunc constructs a storage backend from the application configuration
type FactoryFunc func(*config.Config) (Backend, error)

var factories = make(map[string]FactoryFunc)

// Register registers a storage backend factory
func Register(name string, factory FactoryFunc) {
	factories[name] = factory
}

// NewBackend creates a storage backend based on configuration
func NewBackend(cfg *config.Config) (Backend, error) {
	factory, ok := factories[cfg.Storage.DefaultBackend]
	if !ok {
		return nil, fmt.Errorf("unsupported storage backend: %s (must be 'local' or 's3')", cfg.Storage.DefaultBackend)
	}

	return factory(cfg)
}
