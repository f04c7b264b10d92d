// Package blob stores migrated attachment bodies.
//
// A [Store] is the upload/presign/delete contract the migration engine consumes. [FileStore] keeps objects
// on the local filesystem and [MemoryStore] keeps them in memory for tests. A [Router] picks between a
// size-limited store and an optional large-object store by file size.
package blob

import (
	"context"
	"fmt"
	"strings"

	"github.com/desertthunder/boardx/internal/shared"
)

// Store is an object store addressed by key.
type Store interface {
	// Upload writes data under key and returns the key it was stored under.
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// PresignDownload returns a time-limited URL for reading key.
	PresignDownload(ctx context.Context, key string) (string, error)

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Name identifies the store in attachment rows (e.g. "small").
	Name() string
}

// Router routes uploads by size between a size-limited store and an optional large-object store.
type Router struct {
	Small     Store
	Large     Store
	Threshold int64
	HardCap   int64
}

// NewRouter builds filesystem stores named "small" and "large" from configuration.
// The large store is only created when LargeDir is set.
func NewRouter(cfg shared.BlobConfig) (*Router, error) {
	small, err := NewFileStore("small", cfg.SmallDir, cfg.PresignSecret, cfg.PresignTTL)
	if err != nil {
		return nil, err
	}
	r := &Router{Small: small, Threshold: cfg.ThresholdBytes, HardCap: cfg.HardCapBytes}
	if cfg.LargeDir != "" {
		large, err := NewFileStore("large", cfg.LargeDir, cfg.PresignSecret, cfg.PresignTTL)
		if err != nil {
			return nil, err
		}
		r.Large = large
	}
	return r, nil
}

// Route returns the store for an object of size bytes.
//
// Objects up to Threshold go to Small. Larger objects go to Large when configured, otherwise to Small
// while they fit under HardCap. Anything else fails with [shared.ErrFileTooLarge].
func (r *Router) Route(size int64) (Store, error) {
	if r.Small == nil {
		return nil, shared.ErrNoBlobStore
	}
	if size <= r.Threshold {
		return r.Small, nil
	}
	if r.Large != nil {
		return r.Large, nil
	}
	if size <= r.HardCap {
		return r.Small, nil
	}
	return nil, fmt.Errorf("%w: %d bytes exceeds %d", shared.ErrFileTooLarge, size, r.HardCap)
}

// Limit returns the largest object the router accepts, or 0 when a large-object store removes the cap.
func (r *Router) Limit() int64 {
	if r.Large != nil {
		return 0
	}
	return r.HardCap
}

// Store returns the configured store with the given name.
func (r *Router) Store(name string) (Store, error) {
	for _, s := range []Store{r.Small, r.Large} {
		if s != nil && s.Name() == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", shared.ErrNoBlobStore, name)
}

// AttachmentKey builds the object key of a migrated attachment.
func AttachmentKey(jobID, cardID, attachmentID, fileName string) string {
	return strings.Join([]string{"attachments", jobID, cardID, attachmentID + "-" + shared.SanitizeFilename(fileName)}, "/")
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "\\") {
		return fmt.Errorf("%w: bad blob key %q", shared.ErrInvalidInput, key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: bad blob key %q", shared.ErrInvalidInput, key)
		}
	}
	return nil
}
