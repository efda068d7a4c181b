// Package snapshot captures a run directory as an in-memory map of relative
// paths to file contents and applies patches back onto it.
package snapshot

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"unicode/utf8"
)

// Files maps POSIX relative paths to file contents.
type Files map[string]string

// Paths returns the file paths in sorted order.
func (f Files) Paths() []string {
	return slices.Sorted(maps.Keys(f))
}

// Snapshot holds the original project as uploaded and the current state
// after any applied patches.
type Snapshot struct {
	Root     string
	Original Files
	Current  Files
}

// PathError reports a patch path that would escape the run root.
type PathError struct {
	Path   string
	Reason string
}

func (e *PathError) Error() string {
	return fmt.Sprintf("invalid path %q: %s", e.Path, e.Reason)
}

var junkNames = map[string]bool{
	"__MACOSX":    true,
	"__pycache__": true,
	"Thumbs.db":   true,
	"desktop.ini": true,
}

var archiveSuffixes = []string{".zip", ".tar", ".tar.gz", ".tgz"}

func isJunk(name string) bool {
	if junkNames[name] || strings.HasPrefix(name, ".") {
		return true
	}
	for _, s := range archiveSuffixes {
		if strings.HasSuffix(strings.ToLower(name), s) {
			return true
		}
	}
	return false
}

// Capture walks root and loads every source file. Platform junk, hidden
// entries, archive remnants and binary files are skipped.
func Capture(root string) (*Snapshot, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("run root %q is not a directory", root)
	}

	files := Files{}
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == root {
			return nil
		}
		if isJunk(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("reading %s: %w", rel, err)
		}
		if !utf8.Valid(data) || bytes.IndexByte(data, 0) >= 0 {
			slog.Warn("Skipping non-text file", "path", rel)
			return nil
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("capturing snapshot: %w", err)
	}

	return &Snapshot{
		Root:     root,
		Original: maps.Clone(files),
		Current:  files,
	}, nil
}

// Apply validates every path in patch and then writes the contents both to
// disk and to Current. Nothing is written if any path is invalid or resolves
// outside the run root through a symlink.
func (s *Snapshot) Apply(patch Files) error {
	rootReal, err := filepath.EvalSymlinks(s.Root)
	if err != nil {
		return fmt.Errorf("resolving run root: %w", err)
	}

	clean := make(map[string]string, len(patch))
	for p := range patch {
		c, err := Resolve(p)
		if err != nil {
			return err
		}
		if err := confined(s.Root, rootReal, p, c); err != nil {
			return err
		}
		clean[p] = c
	}

	root, err := os.OpenRoot(s.Root)
	if err != nil {
		return fmt.Errorf("opening run root: %w", err)
	}
	defer root.Close()

	for _, p := range slices.Sorted(maps.Keys(patch)) {
		rel := clean[p]
		if err := mkdirAll(root, path.Dir(rel)); err != nil {
			return fmt.Errorf("creating directory for %s: %w", rel, err)
		}
		if err := writeFile(root, rel, patch[p]); err != nil {
			return fmt.Errorf("writing %s: %w", rel, err)
		}
		s.Current[rel] = patch[p]
	}
	return nil
}

// confined checks that rel, joined to root, lands inside rootReal once the
// nearest existing ancestor has its symlinks resolved. A dangling symlink
// is rejected since writing through it would create its target.
func confined(root, rootReal, p, rel string) error {
	cur := filepath.Join(root, filepath.FromSlash(rel))
	for {
		if fi, err := os.Lstat(cur); err == nil {
			resolved, err := filepath.EvalSymlinks(cur)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) && fi.Mode()&fs.ModeSymlink != 0 {
					return &PathError{Path: p, Reason: "dangling symlink"}
				}
				return fmt.Errorf("resolving %s: %w", rel, err)
			}
			if !within(rootReal, resolved) {
				return &PathError{Path: p, Reason: "resolves outside the run root"}
			}
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("resolving %s: %w", rel, err)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return nil
		}
		cur = parent
	}
}

func within(root, p string) bool {
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func mkdirAll(root *os.Root, dir string) error {
	if dir == "." {
		return nil
	}
	cur := ""
	for _, seg := range strings.Split(dir, "/") {
		cur = path.Join(cur, seg)
		if err := root.Mkdir(filepath.FromSlash(cur), 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return err
		}
	}
	return nil
}

func writeFile(root *os.Root, rel, content string) error {
	f, err := root.OpenFile(filepath.FromSlash(rel), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Resolve normalizes a patch path and rejects anything that is absolute or
// would resolve outside the run root.
func Resolve(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", &PathError{Path: p, Reason: "empty path"}
	}
	if strings.ContainsRune(p, 0) {
		return "", &PathError{Path: p, Reason: "contains NUL byte"}
	}
	slashed := strings.ReplaceAll(p, `\`, "/")
	if path.IsAbs(slashed) || filepath.IsAbs(p) || filepath.VolumeName(p) != "" {
		return "", &PathError{Path: p, Reason: "absolute path"}
	}
	for _, seg := range strings.Split(slashed, "/") {
		if seg == ".." {
			return "", &PathError{Path: p, Reason: "parent directory reference"}
		}
	}
	c := path.Clean(slashed)
	if c == "." {
		return "", &PathError{Path: p, Reason: "refers to the run root"}
	}
	return c, nil
}

// Changed returns the sorted paths whose content in Current differs from
// prev, including paths that are new.
func (s *Snapshot) Changed(prev Files) []string {
	var out []string
	for p, c := range s.Current {
		if old, ok := prev[p]; !ok || old != c {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return out
}
