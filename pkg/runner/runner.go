package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"time"

	"github.com/nstogner/autofix/pkg/extract"
	"github.com/nstogner/autofix/pkg/models"
	"github.com/nstogner/autofix/pkg/sandbox"
	"github.com/nstogner/autofix/pkg/snapshot"
)

const (
	DefaultMaxAttempts   = 8
	DefaultOracleTimeout = 2 * time.Minute
)

// Config tunes the repair loop.
type Config struct {
	// MaxAttempts caps the number of model-patch-execute iterations.
	MaxAttempts int
	// OracleTimeout bounds each individual model call.
	OracleTimeout time.Duration
	// Model optionally overrides the provider's default model.
	Model string
	// Extractor defaults to extract.Default.
	Extractor extract.Extractor
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:   DefaultMaxAttempts,
		OracleTimeout: DefaultOracleTimeout,
		Extractor:     extract.Default,
	}
}

// Runner drives the execute, diagnose, patch, re-verify loop.
type Runner struct {
	runtime   sandbox.Runtime
	model     models.Provider
	cfg       Config
	observers []Observer
}

// New creates a Runner. Observers passed here see the events of every run.
func New(runtime sandbox.Runtime, model models.Provider, cfg Config, observers ...Observer) *Runner {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = DefaultOracleTimeout
	}
	if cfg.Extractor == nil {
		cfg.Extractor = extract.Default
	}
	return &Runner{runtime: runtime, model: model, cfg: cfg, observers: observers}
}

// MaxAttempts returns the effective iteration budget.
func (r *Runner) MaxAttempts() int { return r.cfg.MaxAttempts }

// run is the mutable state of one repair.
type run struct {
	req       Request
	snap      *snapshot.Snapshot
	mode      Mode
	entry     string
	last      *sandbox.Result
	outcome   *Outcome
	observers []Observer
}

func (s *run) emit(e Event) {
	for _, o := range s.observers {
		o.OnEvent(e)
	}
}

// Run repairs the project in req.RunRoot. Program failures never produce an
// error: they end in an Outcome with StatusFailed. Errors are reserved for
// setup problems, infrastructure faults, unusable model output and
// cancellation. Extra observers only see this run.
func (r *Runner) Run(ctx context.Context, req Request, extra ...Observer) (*Outcome, error) {
	observers := make([]Observer, 0, len(r.observers)+len(extra))
	observers = append(observers, r.observers...)
	observers = append(observers, extra...)

	s, err := r.prepare(req)
	if err != nil {
		ev := newEvent(req.RunID, EventRunAborted, 0)
		ev.Error = err.Error()
		for _, o := range observers {
			o.OnEvent(ev)
		}
		return nil, err
	}
	s.observers = observers

	out, err := r.loop(ctx, s)
	if err != nil {
		slog.Warn("Repair run aborted", "runID", req.RunID, "error", err)
		ev := newEvent(req.RunID, EventRunAborted, len(s.outcome.History))
		ev.Error = err.Error()
		s.emit(ev)
		return nil, err
	}
	return out, nil
}

func (r *Runner) prepare(req Request) (*run, error) {
	if _, err := sandbox.ParseLanguage(string(req.Language)); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, req.Language)
	}

	info, err := os.Stat(req.RunRoot)
	if err != nil || !info.IsDir() {
		if err == nil || errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, req.RunID)
		}
		return nil, fmt.Errorf("checking run directory: %w", err)
	}

	snap, err := snapshot.Capture(req.RunRoot)
	if err != nil {
		return nil, err
	}
	if len(snap.Original) == 0 {
		return nil, ErrEmptyProject
	}

	entry, err := resolveEntry(snap, req)
	if err != nil {
		return nil, err
	}

	mode := ModeFor(snap)
	return &run{
		req:   req,
		snap:  snap,
		mode:  mode,
		entry: entry,
		outcome: &Outcome{
			RunID:        req.RunID,
			Mode:         mode,
			Language:     string(req.Language),
			EntryFile:    entry,
			OriginalCode: snap.Original,
			History:      []IterationRecord{},
		},
	}, nil
}

func resolveEntry(snap *snapshot.Snapshot, req Request) (string, error) {
	paths := snap.Original.Paths()
	if len(paths) == 1 {
		if req.EntryFile != "" && req.EntryFile != paths[0] {
			slog.Warn("Ignoring entry file for single-file project", "runID", req.RunID, "entryFile", req.EntryFile, "file", paths[0])
		}
		return paths[0], nil
	}
	if req.EntryFile == "" {
		return "", &MissingEntryFileError{Files: paths}
	}
	entry, err := snapshot.Resolve(req.EntryFile)
	if err != nil {
		return "", &UnknownEntryFileError{EntryFile: req.EntryFile, Files: paths}
	}
	if _, ok := snap.Original[entry]; !ok {
		return "", &UnknownEntryFileError{EntryFile: req.EntryFile, Files: paths}
	}
	return entry, nil
}

func (r *Runner) loop(ctx context.Context, s *run) (*Outcome, error) {
	start := newEvent(s.req.RunID, EventRunStarted, 0)
	start.Mode = s.mode
	start.EntryFile = s.entry
	start.MaxAttempts = r.cfg.MaxAttempts
	s.emit(start)
	slog.Info("Repair run started", "runID", s.req.RunID, "mode", s.mode, "entryFile", s.entry, "files", len(s.snap.Original))

	res, err := r.execute(ctx, s, 0)
	if err != nil {
		return nil, err
	}
	probe := newEvent(s.req.RunID, EventProbeCompleted, 0)
	probe.Result = res
	s.emit(probe)

	if succeeded(res, s.req.ExpectedOutput) {
		return r.succeed(s, 0, "Code was already working"), nil
	}

	for i := 1; i <= r.cfg.MaxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("run %s cancelled: %w", s.req.RunID, err)
		}
		res, err := r.step(ctx, s, i)
		if err != nil {
			return nil, err
		}
		if succeeded(res, s.req.ExpectedOutput) {
			return r.succeed(s, i, fmt.Sprintf("Fixed after %d attempt(s)", i)), nil
		}
	}
	return r.exhaust(s), nil
}

func (r *Runner) succeed(s *run, iterations int, msg string) *Outcome {
	out := s.outcome
	out.Status = StatusSuccess
	out.Iterations = iterations
	out.Message = msg
	out.Output = s.last.Stdout
	out.FixedCode = maps.Clone(s.snap.Current)

	slog.Info("Repair run succeeded", "runID", s.req.RunID, "iterations", iterations)
	ev := newEvent(s.req.RunID, EventRunSucceeded, iterations)
	ev.Outcome = out
	s.emit(ev)
	return out
}

func (r *Runner) exhaust(s *run) *Outcome {
	out := s.outcome
	out.Status = StatusFailed
	out.Iterations = r.cfg.MaxAttempts
	out.Message = fmt.Sprintf("Could not fix after %d attempts", r.cfg.MaxAttempts)
	out.LastOutput = s.last.Stdout
	out.LastError = s.last.Stderr
	code := s.last.ExitCode
	out.LastExitCode = &code
	out.FixedCode = maps.Clone(s.snap.Current)

	slog.Info("Repair run exhausted", "runID", s.req.RunID, "attempts", r.cfg.MaxAttempts, "lastExitCode", code)
	ev := newEvent(s.req.RunID, EventRunExhausted, r.cfg.MaxAttempts)
	ev.Outcome = out
	s.emit(ev)
	return out
}

// execute runs the current project. Infrastructure failures are fatal;
// a cancelled context is reported as cancellation, not a sandbox fault.
func (r *Runner) execute(ctx context.Context, s *run, iteration int) (*sandbox.Result, error) {
	res, err := r.runtime.Execute(ctx, s.req.RunRoot, s.entry, s.req.Language)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("run %s cancelled: %w", s.req.RunID, ctx.Err())
		}
		return nil, &SandboxError{Iteration: iteration, Err: err}
	}
	slog.Debug("Execution finished", "runID", s.req.RunID, "iteration", iteration, "exitCode", res.ExitCode, "timedOut", res.TimedOut)
	s.last = res
	return res, nil
}
