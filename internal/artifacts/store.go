// Package artifacts provides content-addressed blob storage for tool output.
// Blobs are keyed by the SHA-256 of their content, so storing the same bytes
// twice yields the same reference without a second write.
package artifacts

import (
	"context"
	"errors"

	"github.com/haasonsaas/opsbench/pkg/models"
)

// ErrNotFound is returned when no artifact exists for the requested hash.
var ErrNotFound = errors.New("artifact not found")

// ErrPathTraversal is returned when a supplied hash or stored path resolves
// outside the store's base directory.
var ErrPathTraversal = errors.New("path traversal detected")

// Store persists binary artifacts by content hash.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Store persists the payload content and returns its reference.
	// Storing content that already exists is a no-op returning the same
	// reference.
	Store(ctx context.Context, payload models.ArtifactPayload) (models.ArtifactRef, error)

	// Get returns the raw bytes for a previously stored reference.
	Get(ctx context.Context, ref models.ArtifactRef) ([]byte, error)

	// GetByHash returns the raw bytes for a content hash. Tools that receive
	// a hash from the model use this in place of a full reference.
	GetByHash(ctx context.Context, sha256 string) ([]byte, error)

	// Exists reports whether content with the given hash is stored.
	Exists(ctx context.Context, sha256 string) (bool, error)

	// Delete removes the artifact with the given hash. It reports whether
	// the artifact existed.
	Delete(ctx context.Context, sha256 string) (bool, error)

	// Close releases resources held by the store.
	Close() error
}
