package sync

import (
	"context"
	"fmt"
	"io"

	"github.com/klauspost/compress/zip"

	"github.com/gampnico/paeon/cachedir"
	"github.com/gampnico/paeon/dataset"
)

// validateArchive checks that the payload is a readable zip archive and
// that every configured member exists and passes CSV validation.
func validateArchive(ra io.ReaderAt, size int64, desc *dataset.Descriptor) (reason string, err error) {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return reasonBadArchive, fmt.Errorf("opening archive: %w", err)
	}

	for _, member := range desc.Members {
		f, err := findMember(zr, member.Name)
		if err != nil {
			return reasonMissingMember, err
		}
		rc, err := f.Open()
		if err != nil {
			return reasonBadArchive, fmt.Errorf("opening member %s: %w", member.Name, err)
		}
		reason, err := validateCSV(rc, member.Shape)
		_ = rc.Close()
		if err != nil {
			return reason, fmt.Errorf("member %s: %w", member.Name, err)
		}
	}

	return "", nil
}

// installArchive extracts the configured members into the cache as one
// grouped write: every member and the archive itself are staged before any
// existing file is replaced, so a failed extraction leaves the previous
// version of all members intact.
func (s *Synchronizer) installArchive(ctx context.Context, ra io.ReaderAt, size int64, desc *dataset.Descriptor) error {
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}

	files := make([]cachedir.File, 0, len(desc.Members)+1)
	for _, member := range desc.Members {
		f, err := findMember(zr, member.Name)
		if err != nil {
			return err
		}
		rc, err := f.Open()
		if err != nil {
			return fmt.Errorf("opening member %s: %w", member.Name, err)
		}
		defer func() { _ = rc.Close() }()
		files = append(files, cachedir.File{Name: member.CachePath, Body: rc})
	}

	// Keep the archive itself so a reader can audit the raw payload.
	files = append(files, cachedir.File{Name: desc.CachePath, Body: io.NewSectionReader(ra, 0, size)})

	if err := s.cache.WriteFiles(ctx, files); err != nil {
		return &CacheWriteError{Path: desc.CachePath, Err: err}
	}
	return nil
}

// findMember locates an archive member by exact name.
func findMember(zr *zip.Reader, name string) (*zip.File, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return f, nil
		}
	}
	return nil, fmt.Errorf("archive has no member %s", name)
}
