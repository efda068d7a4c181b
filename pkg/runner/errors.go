package runner

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRunNotFound means the run directory does not exist.
	ErrRunNotFound = errors.New("run not found")
	// ErrEmptyProject means the run directory holds no usable source files.
	ErrEmptyProject = errors.New("project contains no source files")
	// ErrUnsupportedLanguage is returned for languages without a runner.
	ErrUnsupportedLanguage = errors.New("unsupported language")
)

// MissingEntryFileError is returned when a multi-file project is submitted
// without naming the file to execute.
type MissingEntryFileError struct {
	Files []string
}

func (e *MissingEntryFileError) Error() string {
	return fmt.Sprintf("entry file is required for a project with %d files (%s)", len(e.Files), strings.Join(e.Files, ", "))
}

// UnknownEntryFileError is returned when the named entry file is not part of
// the project.
type UnknownEntryFileError struct {
	EntryFile string
	Files     []string
}

func (e *UnknownEntryFileError) Error() string {
	return fmt.Sprintf("entry file %q not found in project (%s)", e.EntryFile, strings.Join(e.Files, ", "))
}

// SandboxError wraps an infrastructure failure of the sandbox runtime.
type SandboxError struct {
	Iteration int
	Err       error
}

func (e *SandboxError) Error() string {
	return fmt.Sprintf("sandbox failure at iteration %d: %v", e.Iteration, e.Err)
}

func (e *SandboxError) Unwrap() error { return e.Err }

// OracleError wraps a failed model call.
type OracleError struct {
	Iteration int
	Err       error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("model call failed at iteration %d: %v", e.Iteration, e.Err)
}

func (e *OracleError) Unwrap() error { return e.Err }

// PatchError is returned when a model response cannot be applied. Err is an
// *extract.MalformedPatchError or a *snapshot.PathError.
type PatchError struct {
	Iteration int
	Raw       string
	Err       error
}

func (e *PatchError) Error() string {
	return fmt.Sprintf("unusable patch at iteration %d: %v", e.Iteration, e.Err)
}

func (e *PatchError) Unwrap() error { return e.Err }
