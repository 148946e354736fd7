// Package objstore provides atomic single-object operations against a
// namespaced blob store. It carries no workflow logic; multi-step
// workflows above it rely only on the per-call atomicity guaranteed
// here.
package objstore

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotFound is returned when the requested object does not exist.
var ErrNotFound = errors.New("object not found")

// Object describes a stored object as seen in listings.
type Object struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// IsDir reports whether the listing entry is a folder-like placeholder
// rather than a real object.
func (o Object) IsDir() bool {
	return len(o.Key) > 0 && o.Key[len(o.Key)-1] == '/'
}

// Store is the object-store boundary. Every call is a single blocking
// operation; none of them retries.
type Store interface {
	// Put writes one object with the given content type and metadata.
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string, metadata map[string]string) error

	// Get returns the object's content. Missing objects yield ErrNotFound.
	Get(ctx context.Context, key string) (io.ReadCloser, error)

	// Stat returns listing info for one object, or ErrNotFound.
	Stat(ctx context.Context, key string) (Object, error)

	// Copy duplicates an object within the store.
	Copy(ctx context.Context, srcKey, dstKey string) error

	// Remove deletes one object. Removing a missing object is not an error.
	Remove(ctx context.Context, key string) error

	// List returns all objects under prefix, recursively.
	List(ctx context.Context, prefix string) ([]Object, error)

	// ListPrefixes returns the folder-like groupings directly under
	// prefix, each ending in "/".
	ListPrefixes(ctx context.Context, prefix string) ([]string, error)

	// Count returns the number of objects under prefix, paging through
	// the full listing.
	Count(ctx context.Context, prefix string) (int, error)

	// PresignedGet returns a time-limited unauthenticated read link for
	// one object.
	PresignedGet(ctx context.Context, key string, expiry time.Duration) (string, error)
}
