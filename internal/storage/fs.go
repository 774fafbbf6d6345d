package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/starford/mrtrack/internal/apperr"
	"github.com/starford/mrtrack/internal/checksum"
	"github.com/starford/mrtrack/internal/models"
)

// FS is a Provider over a directory on local disk.
type FS struct {
	root string
}

// NewFS opens an existing incoming directory.
func NewFS(root string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	switch {
	case err != nil:
		return nil, fmt.Errorf("storage: open incoming: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("storage: incoming root %s is not a directory", abs)
	}
	return &FS{root: abs}, nil
}

func (f *FS) Root() string { return f.root }

// Hidden reports whether a file or directory name is invisible to the
// indexer. Dot names cover transfer tools that stage under a dot prefix.
func Hidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// resolve maps a root-relative path to an absolute one inside the root.
func (f *FS) resolve(rel string) (string, error) {
	if rel == "" || rel == "." {
		return f.root, nil
	}
	if filepath.IsAbs(rel) {
		return "", fmt.Errorf("storage: %s: absolute paths not allowed", rel)
	}
	abs := filepath.Join(f.root, filepath.FromSlash(rel))
	if abs != f.root && !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: %s: outside incoming root", rel)
	}
	return abs, nil
}

// List walks dir and returns one entry per regular, non-hidden file.
// Hidden directories are not descended.
func (f *FS) List(dir string) ([]models.ScanFile, error) {
	base, err := f.resolve(dir)
	if err != nil {
		return nil, err
	}
	var files []models.ScanFile
	walk := func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == base {
			return nil
		}
		switch {
		case Hidden(d.Name()) && d.IsDir():
			return filepath.SkipDir
		case Hidden(d.Name()), !d.Type().IsRegular():
			return nil
		}
		rel, err := filepath.Rel(f.root, p)
		if err != nil {
			return err
		}
		sf, err := describe(rel, p)
		if err != nil {
			return err
		}
		files = append(files, sf)
		return nil
	}
	if err := filepath.WalkDir(base, walk); err != nil {
		return nil, fmt.Errorf("storage: list %q: %w", dir, err)
	}
	return files, nil
}

func (f *FS) Stat(path string) (models.ScanFile, error) {
	abs, err := f.resolve(path)
	if err != nil {
		return models.ScanFile{}, err
	}
	return describe(path, abs)
}

func describe(rel, abs string) (models.ScanFile, error) {
	info, err := os.Stat(abs)
	if err != nil {
		return models.ScanFile{}, fmt.Errorf("storage: stat %s: %w", rel, err)
	}
	if info.IsDir() {
		return models.ScanFile{}, fmt.Errorf("storage: stat %s: is a directory", rel)
	}
	sum, _, err := checksum.File(abs)
	if err != nil {
		return models.ScanFile{}, fmt.Errorf("storage: checksum %s: %w", rel, err)
	}
	return models.ScanFile{
		Path:      filepath.ToSlash(rel),
		Checksum:  sum,
		Size:      info.Size(),
		UpdatedAt: info.ModTime(),
	}, nil
}

// Move renames a scan inside the root, creating the target directory.
// It fails with apperr.ErrAlreadyExists rather than replace a file.
func (f *FS) Move(from, to string) error {
	src, err := f.resolve(from)
	if err != nil {
		return err
	}
	dst, err := f.resolve(to)
	if err != nil {
		return err
	}
	if _, err := os.Stat(src); err != nil {
		return fmt.Errorf("storage: move %s: %w", from, err)
	}
	_, err = os.Stat(dst)
	switch {
	case err == nil:
		return fmt.Errorf("storage: move to %s: %w", to, apperr.ErrAlreadyExists)
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("storage: move to %s: %w", to, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("storage: move %s: %w", from, err)
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("storage: move %s: %w", from, err)
	}
	return nil
}
