package runner

import (
	"time"

	"github.com/google/uuid"

	"github.com/nstogner/autofix/pkg/sandbox"
)

type EventType string

const (
	EventRunStarted         EventType = "run_started"
	EventProbeCompleted     EventType = "probe_completed"
	EventIterationStarted   EventType = "iteration_started"
	EventModelResponded     EventType = "model_responded"
	EventPatchApplied       EventType = "patch_applied"
	EventExecutionCompleted EventType = "execution_completed"
	EventRunSucceeded       EventType = "run_succeeded"
	EventRunExhausted       EventType = "run_exhausted"
	EventRunAborted         EventType = "run_aborted"
)

// Terminal reports whether no further events follow for the run.
func (t EventType) Terminal() bool {
	switch t {
	case EventRunSucceeded, EventRunExhausted, EventRunAborted:
		return true
	}
	return false
}

// Event is emitted at every phase transition of a run.
type Event struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Type      EventType `json:"type"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`

	Mode          Mode            `json:"mode,omitempty"`
	EntryFile     string          `json:"entry_file,omitempty"`
	MaxAttempts   int             `json:"max_attempts,omitempty"`
	Result        *sandbox.Result `json:"result,omitempty"`
	ModelResponse string          `json:"model_response,omitempty"`
	ChangedFiles  []string        `json:"changed_files,omitempty"`
	Diff          string          `json:"diff,omitempty"`
	Outcome       *Outcome        `json:"outcome,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Observer receives run events synchronously, in order.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) OnEvent(e Event) { f(e) }

func newEvent(runID string, t EventType, iteration int) Event {
	return Event{
		ID:        uuid.NewString(),
		RunID:     runID,
		Type:      t,
		Iteration: iteration,
		Timestamp: time.Now().UTC(),
	}
}
