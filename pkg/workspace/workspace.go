// Package workspace owns the on-disk run directories that repairs operate
// on.
package workspace

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/nstogner/autofix/pkg/snapshot"
)

var (
	// ErrInvalidRunID is returned for ids that are not safe directory names.
	ErrInvalidRunID = errors.New("invalid run id")
	// ErrNoFiles is returned when an upload carries no files.
	ErrNoFiles = errors.New("no files uploaded")
	// ErrTooLarge is returned when an upload exceeds the size limit.
	ErrTooLarge = errors.New("upload too large")
)

var runIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// File is one uploaded file.
type File struct {
	Name    string
	Content io.Reader
}

// Workspace creates and locates run directories under a root.
type Workspace struct {
	root    string
	maxSize int64
}

// New creates the root directory if needed. maxSize caps the total bytes of
// one upload; zero means unlimited.
func New(root string, maxSize int64) (*Workspace, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating workspace root: %w", err)
	}
	return &Workspace{root: abs, maxSize: maxSize}, nil
}

func (w *Workspace) Root() string { return w.root }

// Path returns the directory of a run.
func (w *Workspace) Path(runID string) (string, error) {
	if !runIDRe.MatchString(runID) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRunID, runID)
	}
	return filepath.Join(w.root, runID), nil
}

// Exists reports whether the run directory is present.
func (w *Workspace) Exists(runID string) bool {
	p, err := w.Path(runID)
	if err != nil {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// Create stores files under a fresh run id and returns it along with the
// normalized relative paths that were written.
func (w *Workspace) Create(files []File) (string, []string, error) {
	if len(files) == 0 {
		return "", nil, ErrNoFiles
	}
	runID := strings.ReplaceAll(uuid.NewString(), "-", "")
	dir := filepath.Join(w.root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, err
	}

	var written []string
	var total int64
	for _, f := range files {
		rel, err := snapshot.Resolve(f.Name)
		if err != nil {
			os.RemoveAll(dir)
			return "", nil, err
		}
		dst := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			os.RemoveAll(dir)
			return "", nil, err
		}
		n, err := w.writeFile(dst, f.Content, total)
		total += n
		if err != nil {
			os.RemoveAll(dir)
			return "", nil, err
		}
		written = append(written, rel)
	}
	return runID, written, nil
}

func (w *Workspace) writeFile(dst string, r io.Reader, used int64) (int64, error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	src := r
	if w.maxSize > 0 {
		src = io.LimitReader(r, w.maxSize-used+1)
	}
	n, err := io.Copy(out, src)
	if err != nil {
		return n, err
	}
	if w.maxSize > 0 && used+n > w.maxSize {
		return n, fmt.Errorf("%w: exceeds %d bytes", ErrTooLarge, w.maxSize)
	}
	return n, out.Close()
}

// ImportDir copies a local project into a fresh run directory. Hidden
// entries are skipped.
func (w *Workspace) ImportDir(src string) (string, []string, error) {
	var files []File
	var closers []io.Closer
	defer func() {
		for _, c := range closers {
			c.Close()
		}
	}()

	err := filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != src && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		f, err := os.Open(p)
		if err != nil {
			return err
		}
		closers = append(closers, f)
		files = append(files, File{Name: filepath.ToSlash(rel), Content: f})
		return nil
	})
	if err != nil {
		return "", nil, fmt.Errorf("reading %s: %w", src, err)
	}
	return w.Create(files)
}
