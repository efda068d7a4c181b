package sandbox

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Language identifies the toolchain used to run a project.
type Language string

const (
	LanguagePython Language = "python"
	LanguageJava   Language = "java"
)

// ParseLanguage normalizes a user supplied language name.
func ParseLanguage(s string) (Language, error) {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case LanguagePython:
		return LanguagePython, nil
	case LanguageJava:
		return LanguageJava, nil
	}
	return "", fmt.Errorf("unsupported language %q (want python or java)", s)
}

// TimeoutExitCode is the synthetic exit code reported when an execution
// is killed for exceeding its wall-clock limit.
const TimeoutExitCode = 124

// Result represents the output of a single sandbox execution.
// A Result is never mutated after it is returned.
type Result struct {
	// ExitCode is the process exit status (TimeoutExitCode on timeout).
	ExitCode int `json:"exit_code"`
	// Stdout is the captured standard output.
	Stdout string `json:"stdout"`
	// Stderr is the captured standard error.
	Stderr string `json:"stderr"`
	// Duration is the wall-clock time spent running the program.
	Duration time.Duration `json:"duration"`
	// TimedOut is set when the wall-clock limit was hit.
	TimedOut bool `json:"timed_out,omitempty"`
	// Truncated is set when either stream exceeded the capture limit.
	Truncated bool `json:"truncated,omitempty"`
}

// Limits are the resource ceilings applied to every execution.
type Limits struct {
	MemoryBytes    int64
	NanoCPUs       int64
	CPUShares      int64
	PidsLimit      int64
	Timeout        time.Duration
	MaxOutputBytes int
}

// Runtime runs one candidate source tree in an isolated environment.
//
// Implementations must copy only the files under runRoot into the
// environment, apply Limits, disable networking, and tear the environment
// down on every exit path. A program that fails, fails to compile, or times
// out is reported through Result; a returned error means no result could be
// produced at all.
type Runtime interface {
	Execute(ctx context.Context, runRoot, entryFile string, lang Language) (*Result, error)
}
