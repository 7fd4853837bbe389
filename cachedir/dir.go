package cachedir

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Dir is a filesystem-backed Store rooted at a single directory.
// Names use "/" as the separator regardless of platform.
type Dir struct {
	root string
}

// New creates a cache directory rooted at the given path.
// The directory is created if it does not exist.
func New(root string) (*Dir, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving cache root: %w", err)
	}
	if err := os.MkdirAll(absRoot, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache root: %w", err)
	}
	return &Dir{root: absRoot}, nil
}

// Root returns the absolute cache root path.
func (d *Dir) Root() string {
	return d.root
}

// Path returns the absolute path of a cached file. Analysis code reads the
// cached CSVs directly from this path.
func (d *Dir) Path(name string) (string, error) {
	return d.namedPath(name)
}

// WriteFile stores content under name, replacing any existing file
// atomically via a temp file and rename in the same directory.
func (d *Dir) WriteFile(ctx context.Context, name string, r io.Reader) error {
	return d.WriteFiles(ctx, []File{{Name: name, Body: r}})
}

// WriteFiles stages every file's content in a temp file next to its
// target, and only once all content has landed renames the group into
// place. A failure while staging removes the temps and leaves every
// previously cached file untouched.
func (d *Dir) WriteFiles(ctx context.Context, files []File) error {
	type staged struct {
		tmpPath string
		path    string
	}

	temps := make([]staged, 0, len(files))
	success := false
	defer func() {
		if !success {
			for _, s := range temps {
				_ = os.Remove(s.tmpPath)
			}
		}
	}()

	for _, f := range files {
		path, err := d.namedPath(f.Name)
		if err != nil {
			return err
		}
		tmpPath, err := d.stage(path, f.Body)
		if err != nil {
			return err
		}
		temps = append(temps, staged{tmpPath: tmpPath, path: path})
	}

	for _, s := range temps {
		if err := os.Rename(s.tmpPath, s.path); err != nil {
			return fmt.Errorf("renaming temp file: %w", err)
		}
	}

	success = true
	return nil
}

// stage copies content into a temp file in the target's directory and
// returns the temp path, leaving the rename to the caller.
func (d *Dir) stage(path string, r io.Reader) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".paeon-*")
	if err != nil {
		return "", fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return "", fmt.Errorf("writing content: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return "", fmt.Errorf("syncing file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("closing temp file: %w", err)
	}

	success = true
	return tmpPath, nil
}

// Open returns a reader for the named cached file.
func (d *Dir) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	path, err := d.namedPath(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("opening file: %w", err)
	}
	return f, nil
}

// Exists reports whether the named file is present.
func (d *Dir) Exists(ctx context.Context, name string) (bool, error) {
	path, err := d.namedPath(name)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("checking file: %w", err)
}

// Size returns the size in bytes of the named file.
func (d *Dir) Size(ctx context.Context, name string) (int64, error) {
	path, err := d.namedPath(name)
	if err != nil {
		return 0, err
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, ErrNotFound
		}
		return 0, fmt.Errorf("stat file: %w", err)
	}
	return info.Size(), nil
}

// List returns the cache-relative names of all files under prefix.
func (d *Dir) List(ctx context.Context, prefix string) ([]string, error) {
	dir, err := d.namedPath(prefix)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat path: %w", err)
	}
	if !info.IsDir() {
		return []string{prefix}, nil
	}

	var names []string
	err = filepath.WalkDir(dir, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() || strings.HasPrefix(de.Name(), ".paeon-") {
			return nil
		}
		rel, err := filepath.Rel(d.root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking cache: %w", err)
	}
	return names, nil
}

// namedPath resolves a cache-relative name to an absolute path, rejecting
// names that escape the cache root.
func (d *Dir) namedPath(name string) (string, error) {
	cleaned := filepath.Clean(filepath.FromSlash(name))
	if cleaned == ".." || strings.HasPrefix(cleaned, ".."+string(filepath.Separator)) || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("invalid cache name %q", name)
	}
	return filepath.Join(d.root, cleaned), nil
}
