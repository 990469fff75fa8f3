// Package store provides named blob stores: a sharded filesystem layout on
// afero and a LevelDB-backed store.
package store

import (
	"context"
	"errors"
	"io"
	"strings"
)

var (
	ErrNotFound    = errors.New("store: blob not found")
	ErrInvalidName = errors.New("store: invalid blob name")
)

// Store is a named collection of blobs.
type Store interface {
	// List returns the names of every blob in the store.
	List(ctx context.Context) ([]string, error)

	// Open returns a reader for the named blob's content.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Create returns a writer for the named blob. The content becomes
	// visible only once Close returns nil; Close reports the outcome of
	// the whole write.
	Create(ctx context.Context, name string) (io.WriteCloser, error)

	// Exists reports whether the named blob is present.
	Exists(ctx context.Context, name string) (bool, error)
}

// tempPrefix marks in-progress writes of the filesystem store.
const tempPrefix = ".tmp-"

// ValidName rejects names that could escape a store's namespace or collide
// with a store's temporary files.
func ValidName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return ErrInvalidName
	case strings.ContainsAny(name, "/\\\x00"):
		return ErrInvalidName
	case strings.HasPrefix(name, tempPrefix):
		return ErrInvalidName
	}
	return nil
}
