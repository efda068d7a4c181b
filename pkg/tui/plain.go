package tui

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/nstogner/autofix/pkg/runner"
)

// Describe renders an event as a single line of progress.
func Describe(e runner.Event) string {
	switch e.Type {
	case runner.EventRunStarted:
		return fmt.Sprintf("run started: %s, %s mode, up to %d attempts", e.EntryFile, e.Mode, e.MaxAttempts)
	case runner.EventProbeCompleted:
		if e.Result == nil {
			return "original program ran"
		}
		return "original program: " + resultSummary(e.Result.ExitCode, e.Result.TimedOut)
	case runner.EventIterationStarted:
		return fmt.Sprintf("attempt %d started", e.Iteration)
	case runner.EventModelResponded:
		return fmt.Sprintf("attempt %d: model replied (%d bytes)", e.Iteration, len(e.ModelResponse))
	case runner.EventPatchApplied:
		if len(e.ChangedFiles) == 0 {
			return fmt.Sprintf("attempt %d: patch changed nothing", e.Iteration)
		}
		return fmt.Sprintf("attempt %d: patched %s", e.Iteration, strings.Join(e.ChangedFiles, ", "))
	case runner.EventExecutionCompleted:
		if e.Result == nil {
			return fmt.Sprintf("attempt %d: ran", e.Iteration)
		}
		return fmt.Sprintf("attempt %d: %s", e.Iteration, resultSummary(e.Result.ExitCode, e.Result.TimedOut))
	case runner.EventRunSucceeded:
		return outcomeLine("fixed", e)
	case runner.EventRunExhausted:
		return outcomeLine("gave up", e)
	case runner.EventRunAborted:
		return "aborted: " + e.Error
	}
	return string(e.Type)
}

func resultSummary(exitCode int, timedOut bool) string {
	switch {
	case timedOut:
		return "timed out"
	case exitCode == 0:
		return "exit 0"
	}
	return fmt.Sprintf("exit %d", exitCode)
}

func outcomeLine(verb string, e runner.Event) string {
	if e.Outcome == nil {
		return verb
	}
	return fmt.Sprintf("%s after %d attempts: %s", verb, e.Outcome.Iterations, e.Outcome.Message)
}

// Printer writes one line per event. It is the non-interactive counterpart
// of Model.
type Printer struct {
	mu sync.Mutex
	w  io.Writer
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

func (p *Printer) OnEvent(e runner.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "%s %s\n", e.Timestamp.Format("15:04:05"), Describe(e))
}
