// Package storage defines the Backend interface and common types for the
// file-backup storage backends of the audit engine. Backup bundles (copies of
// an entity's externally-stored files, e.g. image or document attachments) are
// written here at record time and read back at undo time.
//
// New backends are added by implementing the Backend interface and registering
// with the factory via an init() function in the backend's own package:
//
//	func init() {
//	    storage.Register("mybackend", func(cfg *config.Config) (Backend, error) {
//	        return NewMyBackend(cfg)
//	    })
//	}
//
// The main package imports each backend with a blank import to trigger init().
// This means adding a new backend requires no changes to the factory or main
// package — only a blank import in cmd/server/main.go.
package storage

import (
	"context"
	"io"
)

// Backend is the interface all file-backup storage backends implement.
type Backend interface {
	// Upload stores a file bundle and returns the storage result with path and
	// checksum. Implementations must not make a partially-written bundle
	// visible under its final path.
	Upload(ctx context.Context, path string, reader io.Reader, size int64) (*UploadResult, error)

	// Download retrieves a stored bundle and returns a reader
	Download(ctx context.Context, path string) (io.ReadCloser, error)

	// Delete removes a bundle from storage. Deleting a missing bundle is not
	// an error; the retention sweep retries paths whose rows are already gone.
	Delete(ctx context.Context, path string) error

	// Exists checks if a bundle exists at the specified path
	Exists(ctx context.Context, path string) (bool, error)

	// GetMetadata retrieves bundle metadata without downloading the entire file
	GetMetadata(ctx context.Context, path string) (*FileMetadata, error)
}

// UploadResult contains information about an uploaded bundle
type UploadResult struct {
	// Path is the storage path where the bundle was stored
	Path string

	// Size is the bundle size in bytes
	Size int64

	// Checksum is the SHA256 hash of the bundle contents
	Checksum string
}

// FileMetadata contains metadata about a stored bundle
type FileMetadata struct {
	// Path is the storage path of the bundle
	Path string

	// Size is the bundle size in bytes
	Size int64

	// Checksum is the SHA256 hash of the bundle contents
	Checksum string
}
