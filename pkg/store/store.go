package store

import (
	"context"
	"errors"
	"time"

	"github.com/nstogner/autofix/pkg/runner"
)

// ErrNotFound is returned for unknown run ids.
var ErrNotFound = errors.New("run not found")

// RunStatus tracks where a run is in its lifecycle.
type RunStatus string

const (
	RunStatusUploaded RunStatus = "uploaded"
	RunStatusRunning  RunStatus = "running"
	RunStatusSuccess  RunStatus = "success"
	RunStatusFailed   RunStatus = "failed"
	RunStatusAborted  RunStatus = "aborted"
)

// RunMeta is the index record for a run.
type RunMeta struct {
	ID         string    `json:"id"`
	Filename   string    `json:"filename,omitempty"`
	Files      []string  `json:"files"`
	Language   string    `json:"language,omitempty"`
	EntryFile  string    `json:"entry_file,omitempty"`
	Status     RunStatus `json:"status"`
	Iterations int       `json:"iterations"`
	Message    string    `json:"message,omitempty"`
	Error      string    `json:"error,omitempty"`
	Created    time.Time `json:"created"`
	Modified   time.Time `json:"modified"`
}

// Entry is one line of a run's event log.
type Entry = runner.Event

// Manager persists run metadata, the event log and terminal outcomes.
type Manager interface {
	// CreateRun registers a new run. Created and Modified default to now.
	CreateRun(meta RunMeta) error

	// GetRun returns the index record for a run.
	GetRun(id string) (*RunMeta, error)

	// ListRuns returns all runs, most recently modified first.
	ListRuns() ([]RunMeta, error)

	// Append records an event and updates the run's index record.
	Append(e Entry) error

	// Entries returns the recorded events of a run in order.
	Entries(id string) ([]Entry, error)

	// GetOutcome returns the terminal outcome of a run.
	GetOutcome(id string) (*runner.Outcome, error)

	// Subscribe returns a channel that emits run IDs whenever an event is
	// recorded for that run.
	Subscribe() <-chan string

	// Unsubscribe stops delivery to a channel returned by Subscribe.
	Unsubscribe(ch <-chan string)

	Close() error
}

// Archiver keeps a durable copy of finished runs.
type Archiver interface {
	Archive(ctx context.Context, meta RunMeta, outcome *runner.Outcome) error
}
