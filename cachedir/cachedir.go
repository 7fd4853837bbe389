// Package cachedir manages the local directory holding downloaded dataset
// files. All writes are atomic: content lands in a temp file in the target
// directory and is renamed into place, so a reader never observes a
// partially written dataset.
package cachedir

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a named file does not exist in the cache.
var ErrNotFound = errors.New("cachedir: not found")

// File pairs a cache-relative name with its content for a grouped write.
type File struct {
	Name string
	Body io.Reader
}

// Store is the storage surface the synchronizer writes cached datasets
// through. Implementations must replace files atomically.
type Store interface {
	// WriteFile stores content under the given cache-relative name,
	// overwriting any previous content in one atomic step.
	WriteFile(ctx context.Context, name string, r io.Reader) error

	// WriteFiles stores a group of files together. All content is staged
	// before any existing file is replaced, so a failed write leaves
	// every previous file as it was.
	WriteFiles(ctx context.Context, files []File) error

	// Open returns a reader for the named cached file.
	// Returns ErrNotFound if it does not exist.
	Open(ctx context.Context, name string) (io.ReadCloser, error)

	// Exists reports whether the named file is present.
	Exists(ctx context.Context, name string) (bool, error)

	// Size returns the size in bytes of the named file.
	// Returns ErrNotFound if it does not exist.
	Size(ctx context.Context, name string) (int64, error)

	// List returns the cache-relative names under the given prefix.
	List(ctx context.Context, prefix string) ([]string, error)
}
