package runner

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"time"

	"github.com/nstogner/autofix/pkg/models"
	"github.com/nstogner/autofix/pkg/prompt"
	"github.com/nstogner/autofix/pkg/sandbox"
	"github.com/nstogner/autofix/pkg/snapshot"
)

// step performs one repair iteration: prompt the model, apply its answer and
// re-execute. It returns the new execution result.
func (r *Runner) step(ctx context.Context, s *run, i int) (*sandbox.Result, error) {
	rec := IterationRecord{Number: i, StartedAt: time.Now().UTC()}
	s.emit(newEvent(s.req.RunID, EventIterationStarted, i))
	slog.Info("Repair attempt", "runID", s.req.RunID, "iteration", i, "maxAttempts", r.cfg.MaxAttempts)

	raw, err := r.callModel(ctx, s, i)
	if err != nil {
		return nil, err
	}
	rec.ModelResponse = raw
	responded := newEvent(s.req.RunID, EventModelResponded, i)
	responded.ModelResponse = raw
	s.emit(responded)

	patch, err := r.patchFor(s, raw)
	if err != nil {
		return nil, &PatchError{Iteration: i, Raw: raw, Err: err}
	}

	before := maps.Clone(s.snap.Current)
	if err := s.snap.Apply(patch); err != nil {
		return nil, &PatchError{Iteration: i, Raw: raw, Err: err}
	}
	rec.ChangedFiles = s.snap.Changed(before)
	if rec.ChangedFiles == nil {
		rec.ChangedFiles = []string{}
	}
	rec.Diff = unifiedDiff(before, s.snap.Current, rec.ChangedFiles)
	applied := newEvent(s.req.RunID, EventPatchApplied, i)
	applied.ChangedFiles = rec.ChangedFiles
	applied.Diff = rec.Diff
	s.emit(applied)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("run %s cancelled: %w", s.req.RunID, err)
	}
	res, err := r.execute(ctx, s, i)
	if err != nil {
		return nil, err
	}
	rec.ExitCode = res.ExitCode
	rec.Stdout = res.Stdout
	rec.Stderr = res.Stderr
	rec.TimedOut = res.TimedOut
	rec.CompletedAt = time.Now().UTC()
	s.outcome.History = append(s.outcome.History, rec)

	done := newEvent(s.req.RunID, EventExecutionCompleted, i)
	done.Result = res
	s.emit(done)
	return res, nil
}

func (r *Runner) callModel(ctx context.Context, s *run, i int) (string, error) {
	p := prompt.Build(s.mode, r.promptContext(s))

	format := models.FormatText
	if s.mode == ModeMultiFile {
		format = models.FormatJSON
	}

	callCtx, cancel := context.WithTimeout(ctx, r.cfg.OracleTimeout)
	defer cancel()
	raw, err := r.model.Generate(callCtx, p, models.GenerateOptions{Model: r.cfg.Model, Format: format})
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("run %s cancelled: %w", s.req.RunID, ctx.Err())
		}
		return "", &OracleError{Iteration: i, Err: err}
	}
	slog.Debug("Model responded", "runID", s.req.RunID, "iteration", i, "len", len(raw))
	return raw, nil
}

func (r *Runner) promptContext(s *run) prompt.Context {
	files := make([]prompt.File, 0, len(s.snap.Current))
	for _, p := range s.snap.Current.Paths() {
		files = append(files, prompt.File{Path: p, Content: s.snap.Current[p]})
	}
	return prompt.Context{
		Language:       string(s.req.Language),
		EntryFile:      s.entry,
		Files:          files,
		Stdout:         s.last.Stdout,
		Stderr:         s.last.Stderr,
		ExitCode:       s.last.ExitCode,
		ExpectedOutput: s.req.ExpectedOutput,
	}
}

// patchFor turns the raw model answer into files to write. Single-file mode
// always overwrites the entry file.
func (r *Runner) patchFor(s *run, raw string) (snapshot.Files, error) {
	if s.mode == ModeSingleFile {
		code, err := r.cfg.Extractor.Code(raw)
		if err != nil {
			return nil, err
		}
		return snapshot.Files{s.entry: code}, nil
	}
	patch, err := r.cfg.Extractor.ProjectPatch(raw)
	if err != nil {
		return nil, err
	}
	return snapshot.Files(patch), nil
}
