package docker

import (
	"archive/tar"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/nstogner/autofix/pkg/sandbox"
)

var (
	javaPackageRe = regexp.MustCompile(`(?m)^\s*package\s+([A-Za-z_][\w.]*)\s*;`)
	unsafeNameRe  = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)
)

// command returns the container command for the entry file. Java is
// compiled and run in a single shell so that a compile failure surfaces as
// an ordinary non-zero exit.
func command(runRoot, entryFile string, lang sandbox.Language) ([]string, error) {
	entry := filepath.ToSlash(entryFile)
	switch lang {
	case sandbox.LanguagePython:
		return []string{"python", entry}, nil
	case sandbox.LanguageJava:
		class, err := mainClass(runRoot, entry)
		if err != nil {
			return nil, err
		}
		script := "mkdir -p /tmp/classes && " +
			"javac -d /tmp/classes $(find . -name '*.java') && " +
			"java -cp /tmp/classes " + shellQuote(class)
		return []string{"sh", "-c", script}, nil
	}
	return nil, fmt.Errorf("unsupported language %q", lang)
}

// mainClass derives the fully qualified class name of a Java entry file.
func mainClass(runRoot, entry string) (string, error) {
	if !strings.HasSuffix(entry, ".java") {
		return "", fmt.Errorf("java entry file %q must end in .java", entry)
	}
	class := strings.TrimSuffix(path.Base(entry), ".java")
	src, err := os.ReadFile(filepath.Join(runRoot, filepath.FromSlash(entry)))
	if err != nil {
		return "", fmt.Errorf("reading java entry file: %w", err)
	}
	if m := javaPackageRe.FindSubmatch(src); m != nil {
		class = string(m[1]) + "." + class
	}
	return class, nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// tarDir packs the regular files under root into a tar stream whose
// entries live under workDir. Symlinks are skipped.
func tarDir(root, workDir string) (io.Reader, error) {
	prefix := strings.Trim(path.Clean(filepath.ToSlash(workDir)), "/")
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)

	if prefix != "" {
		if err := tw.WriteHeader(&tar.Header{Name: prefix + "/", Mode: 0o777, Typeflag: tar.TypeDir}); err != nil {
			return nil, err
		}
	}

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		name := path.Join(prefix, filepath.ToSlash(rel))
		switch {
		case d.IsDir():
			return tw.WriteHeader(&tar.Header{Name: name + "/", Mode: 0o777, Typeflag: tar.TypeDir})
		case d.Type().IsRegular():
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o666, Size: int64(len(data)), Typeflag: tar.TypeReg}); err != nil {
				return err
			}
			_, err = tw.Write(data)
			return err
		default:
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

// runID derives a container-name-safe identifier from the run directory.
func runID(runRoot string) string {
	id := unsafeNameRe.ReplaceAllString(filepath.Base(filepath.Clean(runRoot)), "-")
	id = strings.Trim(id, "-.")
	if id == "" {
		return "run"
	}
	if len(id) > 40 {
		id = id[:40]
	}
	return id
}
