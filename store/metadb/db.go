// Package metadb persists the freshness state recorded for each dataset
// after a successful fetch. Entries are only written after the cached
// content has been renamed into place, so a stored indicator always
// describes bytes that are on disk.
package metadb

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no entry exists for a dataset.
var ErrNotFound = errors.New("metadb: not found")

// MetaDB provides freshness-state storage for the dataset cache.
type MetaDB interface {
	// Lifecycle
	Open(path string) error
	Close() error

	// GetEntry returns the recorded entry for a dataset.
	// Returns ErrNotFound on first run, which callers treat as stale.
	GetEntry(ctx context.Context, datasetID string) (*Entry, error)

	// PutEntry records the freshness state for a dataset, replacing any
	// previous entry.
	PutEntry(ctx context.Context, entry *Entry) error

	// DeleteEntry removes the entry for a dataset. Idempotent.
	DeleteEntry(ctx context.Context, datasetID string) error

	// ListEntries returns all recorded entries sorted by dataset ID.
	ListEntries(ctx context.Context) ([]*Entry, error)
}

// New creates a new MetaDB backed by bbolt.
func New() MetaDB {
	return NewBoltDB()
}
