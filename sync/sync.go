package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	paeon "github.com/gampnico/paeon"
	"github.com/gampnico/paeon/cachedir"
	"github.com/gampnico/paeon/dataset"
	"github.com/gampnico/paeon/store/metadb"
	"github.com/gampnico/paeon/telemetry"
	"github.com/gampnico/paeon/upstream"
)

// Synchronizer keeps local dataset copies in step with their origins.
// VerifyUpdate is idempotent and safe to retry; concurrent calls for the
// same dataset are deduplicated.
type Synchronizer struct {
	cache  cachedir.Store
	meta   metadb.MetaDB
	client *upstream.Client
	logger *slog.Logger
	now    func() time.Time
	group  singleflight.Group
}

// Option configures a Synchronizer.
type Option func(*Synchronizer)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Synchronizer) {
		s.logger = logger
	}
}

// WithClient sets the origin client.
func WithClient(client *upstream.Client) Option {
	return func(s *Synchronizer) {
		s.client = client
	}
}

// WithNow sets the time function for testing.
func WithNow(now func() time.Time) Option {
	return func(s *Synchronizer) {
		s.now = now
	}
}

// New creates a Synchronizer over the given cache and metadata store.
func New(cache cachedir.Store, meta metadb.MetaDB, opts ...Option) *Synchronizer {
	s := &Synchronizer{
		cache:  cache,
		meta:   meta,
		client: upstream.New(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// VerifyUpdate checks whether the dataset has changed at the origin and
// refreshes the cached copy when it has. A failed download or rejected
// payload leaves the previous cache entry exactly as it was.
//
// Concurrent calls for the same dataset ID share one underlying check.
func (s *Synchronizer) VerifyUpdate(ctx context.Context, desc *dataset.Descriptor) (*Outcome, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}

	ctx = telemetry.WithDataset(ctx, desc.ID)

	v, err, _ := s.group.Do(desc.ID, func() (any, error) {
		outcome, err := s.verify(ctx, desc)
		telemetry.RecordSyncCheck(ctx, desc.ID, outcome.Result.MetricLabel())
		return outcome, err
	})

	outcome, ok := v.(*Outcome)
	if !ok {
		return nil, err
	}
	return outcome, err
}

// VerifyAll runs VerifyUpdate for each descriptor in order, collecting the
// per-dataset outcomes. Errors are joined; a failing dataset does not stop
// the others.
func (s *Synchronizer) VerifyAll(ctx context.Context, descs []*dataset.Descriptor) (map[string]*Outcome, error) {
	outcomes := make(map[string]*Outcome, len(descs))
	var errs []error
	for _, desc := range descs {
		outcome, err := s.VerifyUpdate(ctx, desc)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", desc.ID, err))
		}
		if outcome != nil {
			outcomes[desc.ID] = outcome
		}
	}
	return outcomes, errors.Join(errs...)
}

func (s *Synchronizer) verify(ctx context.Context, desc *dataset.Descriptor) (*Outcome, error) {
	logger := s.logger.With("dataset", desc.ID)

	entry, err := s.loadEntry(ctx, desc)
	if err != nil {
		return &Outcome{Result: DownloadFailed}, err
	}

	// Phase 1: a lightweight probe settles the common case without
	// touching the payload.
	validators := upstream.Validators{}
	if entry != nil {
		validators = upstream.Validators{ETag: entry.ETag, LastModified: entry.LastModified}
	}

	if entry != nil && entry.HasValidators() {
		probe, err := s.client.ProbeURL(ctx, desc.URL)
		switch {
		case errors.Is(err, upstream.ErrProbeUnsupported):
			logger.Debug("origin rejects HEAD, falling back to conditional fetch")
		case err != nil:
			return &Outcome{Result: DownloadFailed, Entry: entry},
				&TransportError{URL: desc.URL, Err: err}
		case validatorsMatch(validators, probe.Validators()):
			logger.Debug("origin unchanged", "etag", entry.ETag, "last_modified", entry.LastModified)
			entry, err = s.touchEntry(ctx, entry)
			if err != nil {
				return &Outcome{Result: DownloadFailed, Entry: entry}, err
			}
			return &Outcome{Result: UpToDate, Entry: entry}, nil
		}
	}

	// Phase 2: conditional fetch. A well-behaved origin answers 304
	// without a body when nothing changed.
	resp, err := s.client.Fetch(ctx, desc.URL, validators)
	if err != nil {
		return &Outcome{Result: DownloadFailed, Entry: entry},
			&TransportError{URL: desc.URL, Err: err}
	}

	if resp.NotModified {
		logger.Debug("origin answered not modified")
		entry, err = s.touchEntry(ctx, entry)
		if err != nil {
			return &Outcome{Result: DownloadFailed, Entry: entry}, err
		}
		return &Outcome{Result: UpToDate, Entry: entry}, nil
	}

	defer func() { _ = resp.Body.Close() }()

	spoolFile, digest, size, err := spool(resp.Body)
	if err != nil {
		return &Outcome{Result: DownloadFailed, Entry: entry},
			&TransportError{URL: desc.URL, Err: err}
	}
	defer func() {
		_ = spoolFile.Close()
		_ = os.Remove(spoolFile.Name())
	}()

	telemetry.RecordDownload(ctx, desc.ID, size)
	logger.Debug("downloaded payload", "size", size, "digest", digest.ShortString())

	if size == 0 {
		telemetry.RecordValidationFailure(ctx, desc.ID, reasonEmpty)
		return &Outcome{Result: ValidationFailed, Entry: entry, Downloaded: size},
			&ValidationError{Dataset: desc.ID, Reason: reasonEmpty}
	}

	// Origins without validators always serve a body; an unchanged
	// payload is detected by digest instead.
	if entry != nil && digest == entry.Digest {
		logger.Debug("payload digest unchanged")
		entry.ETag = resp.ETag
		entry.LastModified = resp.LastModified
		entry, err = s.touchEntry(ctx, entry)
		if err != nil {
			return &Outcome{Result: DownloadFailed, Entry: entry, Downloaded: size}, err
		}
		return &Outcome{Result: UpToDate, Entry: entry, Downloaded: size}, nil
	}

	if reason, err := s.validate(spoolFile, size, desc); err != nil {
		telemetry.RecordValidationFailure(ctx, desc.ID, reason)
		return &Outcome{Result: ValidationFailed, Entry: entry, Downloaded: size},
			&ValidationError{Dataset: desc.ID, Reason: reason, Err: err}
	}

	if err := s.install(ctx, spoolFile, size, desc); err != nil {
		var cacheErr *CacheWriteError
		if !errors.As(err, &cacheErr) {
			err = &CacheWriteError{Path: desc.CachePath, Err: err}
		}
		return &Outcome{Result: DownloadFailed, Entry: entry, Downloaded: size}, err
	}

	// The indicator is recorded only after the content rename succeeded,
	// so metadata never claims freshness for bytes that are not on disk.
	now := s.now().UTC()
	newEntry := &metadb.Entry{
		DatasetID:    desc.ID,
		ETag:         resp.ETag,
		LastModified: resp.LastModified,
		Digest:       digest,
		Size:         size,
		FetchedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.meta.PutEntry(ctx, newEntry); err != nil {
		return &Outcome{Result: DownloadFailed, Entry: entry, Downloaded: size},
			&CacheWriteError{Path: desc.ID, Err: err}
	}

	logger.Info("dataset updated", "size", size, "etag", resp.ETag, "digest", digest.ShortString())
	return &Outcome{Result: Updated, Entry: newEntry, Downloaded: size}, nil
}

// loadEntry returns the recorded entry, or nil when absent or when any of
// the cached files (archive members included) has gone missing since it
// was recorded.
func (s *Synchronizer) loadEntry(ctx context.Context, desc *dataset.Descriptor) (*metadb.Entry, error) {
	entry, err := s.meta.GetEntry(ctx, desc.ID)
	if errors.Is(err, metadb.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &CacheWriteError{Path: desc.ID, Err: err}
	}

	paths := []string{desc.CachePath}
	for _, member := range desc.Members {
		paths = append(paths, member.CachePath)
	}
	for _, path := range paths {
		exists, err := s.cache.Exists(ctx, path)
		if err != nil {
			return nil, &CacheWriteError{Path: path, Err: err}
		}
		if !exists {
			s.logger.Warn("cache entry recorded but file missing, treating as stale",
				"dataset", desc.ID, "path", path)
			return nil, nil
		}
	}
	return entry, nil
}

// touchEntry refreshes FetchedAt after an up-to-date check.
func (s *Synchronizer) touchEntry(ctx context.Context, entry *metadb.Entry) (*metadb.Entry, error) {
	if entry == nil {
		return nil, nil
	}
	entry.FetchedAt = s.now().UTC()
	if err := s.meta.PutEntry(ctx, entry); err != nil {
		return entry, &CacheWriteError{Path: entry.DatasetID, Err: err}
	}
	return entry, nil
}

// validate dispatches payload validation by format. The spool file is
// rewound before returning.
func (s *Synchronizer) validate(spoolFile *os.File, size int64, desc *dataset.Descriptor) (string, error) {
	defer func() { _, _ = spoolFile.Seek(0, io.SeekStart) }()

	switch desc.Format {
	case dataset.FormatZip:
		return validateArchive(spoolFile, size, desc)
	default:
		if _, err := spoolFile.Seek(0, io.SeekStart); err != nil {
			return reasonMalformedCSV, err
		}
		return validateCSV(spoolFile, desc.Shape)
	}
}

// install moves validated content into the cache.
func (s *Synchronizer) install(ctx context.Context, spoolFile *os.File, size int64, desc *dataset.Descriptor) error {
	if desc.Format == dataset.FormatZip {
		return s.installArchive(ctx, spoolFile, size, desc)
	}

	if _, err := spoolFile.Seek(0, io.SeekStart); err != nil {
		return err
	}
	if err := s.cache.WriteFile(ctx, desc.CachePath, spoolFile); err != nil {
		return &CacheWriteError{Path: desc.CachePath, Err: err}
	}
	return nil
}

// validatorsMatch reports whether the origin's current validators equal
// the recorded ones. ETag wins when both sides have one; otherwise
// Last-Modified decides. No comparable pair means no match.
func validatorsMatch(recorded, current upstream.Validators) bool {
	if recorded.ETag != "" && current.ETag != "" {
		return recorded.ETag == current.ETag
	}
	if recorded.LastModified != "" && current.LastModified != "" {
		return recorded.LastModified == current.LastModified
	}
	return false
}

// spool copies the payload to a temp file while computing its digest, and
// rewinds the file for the validation pass.
func spool(body io.Reader) (*os.File, paeon.Digest, int64, error) {
	tmp, err := os.CreateTemp("", "paeon-dl-*")
	if err != nil {
		return nil, paeon.Digest{}, 0, fmt.Errorf("creating spool file: %w", err)
	}

	dr := paeon.NewDigestingReader(body)
	if _, err := io.Copy(tmp, dr); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, paeon.Digest{}, 0, fmt.Errorf("spooling payload: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, paeon.Digest{}, 0, fmt.Errorf("rewinding spool file: %w", err)
	}

	return tmp, dr.Sum(), dr.BytesRead(), nil
}
