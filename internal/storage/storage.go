package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// BlobStore is the durable storage contract the asset pipeline writes
// through. Implementations must overwrite silently when a key already
// exists; the pipeline generates a fresh key per persistence run.
type BlobStore interface {
	// Put streams size bytes from body to key and returns the canonical
	// access URL. Implementations must not buffer the whole body in memory.
	Put(ctx context.Context, key string, body io.Reader, size int64, contentType string) (string, error)
	// URL returns the canonical access URL for an existing key.
	URL(key string) string
	// Delete removes the object at key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error
}

// ObjectKey builds a per-owner, date-partitioned storage key. The date
// prefix bounds directory fan-out and keeps retention audits tractable; the
// random filename makes re-running persistence for the same job safe.
func ObjectKey(ownerID string, at time.Time, ext string) string {
	return fmt.Sprintf("%s/%04d/%02d/%s%s", ownerID, at.Year(), int(at.Month()), uuid.NewString(), ext)
}
