package metadb

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"go.etcd.io/bbolt"
)

// bucketDatasets holds one JSON-encoded Entry per dataset ID.
var bucketDatasets = []byte("datasets")

// BoltDB implements MetaDB using bbolt.
type BoltDB struct {
	db     *bbolt.DB
	logger *slog.Logger
	noSync bool // disables fsync per transaction (for testing only)
}

// BoltDBOption configures a BoltDB instance.
type BoltDBOption func(*BoltDB)

// WithLogger sets the logger for the database.
func WithLogger(logger *slog.Logger) BoltDBOption {
	return func(b *BoltDB) {
		b.logger = logger
	}
}

// WithNoSync disables fsync per transaction.
// Use only for testing, never for a real cache.
func WithNoSync(noSync bool) BoltDBOption {
	return func(b *BoltDB) {
		b.noSync = noSync
	}
}

// NewBoltDB creates a new BoltDB instance with options.
func NewBoltDB(opts ...BoltDBOption) *BoltDB {
	b := &BoltDB{
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Open opens the database at the given path.
func (b *BoltDB) Open(path string) error {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: 1 * time.Second,
		NoSync:  b.noSync,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	b.db = db

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketDatasets)
		return err
	})
	if err != nil {
		_ = db.Close()
		return fmt.Errorf("creating datasets bucket: %w", err)
	}

	b.logger.Debug("opened metadb", "path", path, "noSync", b.noSync)
	return nil
}

// Close closes the database and releases resources.
func (b *BoltDB) Close() error {
	if b.db == nil {
		return nil
	}
	b.logger.Debug("closing metadb")
	return b.db.Close()
}

// GetEntry returns the recorded entry for a dataset.
func (b *BoltDB) GetEntry(_ context.Context, datasetID string) (*Entry, error) {
	var entry *Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		val := tx.Bucket(bucketDatasets).Get([]byte(datasetID))
		if val == nil {
			return ErrNotFound
		}
		entry = &Entry{}
		if err := json.Unmarshal(val, entry); err != nil {
			return fmt.Errorf("decoding entry for %s: %w", datasetID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// PutEntry records the freshness state for a dataset.
func (b *BoltDB) PutEntry(_ context.Context, entry *Entry) error {
	if entry.DatasetID == "" {
		return fmt.Errorf("entry has no dataset ID")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encoding entry for %s: %w", entry.DatasetID, err)
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketDatasets).Put([]byte(entry.DatasetID), data); err != nil {
			return fmt.Errorf("putting entry for %s: %w", entry.DatasetID, err)
		}
		return nil
	})
}

// DeleteEntry removes the entry for a dataset.
func (b *BoltDB) DeleteEntry(_ context.Context, datasetID string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDatasets).Delete([]byte(datasetID))
	})
}

// ListEntries returns all recorded entries. bbolt iterates keys in byte
// order, so results are sorted by dataset ID.
func (b *BoltDB) ListEntries(_ context.Context) ([]*Entry, error) {
	var entries []*Entry
	err := b.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketDatasets).ForEach(func(k, v []byte) error {
			entry := &Entry{}
			if err := json.Unmarshal(v, entry); err != nil {
				return fmt.Errorf("decoding entry for %s: %w", k, err)
			}
			entries = append(entries, entry)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}
