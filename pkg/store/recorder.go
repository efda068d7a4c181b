package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/nstogner/autofix/pkg/runner"
)

const archiveTimeout = 30 * time.Second

// Recorder is a runner.Observer that writes every event to a Manager and
// hands finished outcomes to the archivers.
type Recorder struct {
	manager   Manager
	archivers []Archiver
}

var _ runner.Observer = (*Recorder)(nil)

func NewRecorder(m Manager, archivers ...Archiver) *Recorder {
	return &Recorder{manager: m, archivers: archivers}
}

func (r *Recorder) OnEvent(e runner.Event) {
	if err := r.manager.Append(e); err != nil {
		slog.Error("Failed to record run event", "runID", e.RunID, "type", e.Type, "error", err)
		return
	}
	if e.Outcome == nil || len(r.archivers) == 0 {
		return
	}

	meta, err := r.manager.GetRun(e.RunID)
	if err != nil {
		slog.Error("Failed to load run for archiving", "runID", e.RunID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	for _, a := range r.archivers {
		if err := a.Archive(ctx, *meta, e.Outcome); err != nil {
			slog.Error("Failed to archive run", "runID", e.RunID, "error", err)
		}
	}
}
