// Package store defines the read-only blob backend contract consumed by
// the cache engine. Implementations fetch metadata and bytes from a single
// remote object namespace; they hold no cache state of their own.
package store

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned by Stat and Open when the remote namespace has no
// object at the given key. Backends must map their own not-found signal
// (HTTP 404, S3 NoSuchKey, ...) onto this sentinel so callers never need to
// know which backend is in use.
var ErrNotFound = errors.New("store: object not found")

// IsNotFound reports whether err (or something it wraps) is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Info describes a remote object as seen by Stat. Length is -1 when the
// backend could not determine a size; callers treat that the same as
// ErrNotFound since an item without a known length cannot be cached.
type Info struct {
	Length       int64
	LastModified time.Time
	Tag          string // opaque revalidation tag (ETag or equivalent), may be empty
}

// BlobStore is the remote object namespace the cache mirrors. Every method
// must be safe for concurrent use by multiple goroutines.
type BlobStore interface {
	// Stat reports the size and revalidation metadata for key without
	// transferring its body. It returns ErrNotFound if key does not exist.
	Stat(ctx context.Context, key string) (Info, error)

	// Open returns a reader over the full body of key. It returns
	// ErrNotFound if key does not exist. The returned ReadCloser must be
	// closed by the caller.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// ConditionalStore is an optional extension implemented by backends that
// can avoid a transfer entirely when the caller already holds the current
// revalidation tag for key (see gcs.go).
type ConditionalStore interface {
	// OpenIfChanged behaves like Open, except it returns changed=false and
	// a nil body when tag still matches the remote object's current tag.
	OpenIfChanged(ctx context.Context, key string, tag string) (body io.ReadCloser, newTag string, changed bool, err error)
}
