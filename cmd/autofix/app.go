package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nstogner/autofix/pkg/config"
	"github.com/nstogner/autofix/pkg/models"
	"github.com/nstogner/autofix/pkg/runner"
	"github.com/nstogner/autofix/pkg/sandbox/docker"
	"github.com/nstogner/autofix/pkg/store"
	"github.com/nstogner/autofix/pkg/store/jsonl"
	"github.com/nstogner/autofix/pkg/store/objstore"
	"github.com/nstogner/autofix/pkg/workspace"
)

// app holds the components shared by serve and repair.
type app struct {
	cfg       *config.Config
	sandbox   *docker.Runtime
	provider  models.Provider
	manager   *jsonl.Manager
	workspace *workspace.Workspace
	archive   *objstore.Archiver

	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) open(ctx context.Context) error {
	cfg := a.cfg

	rt, err := docker.New(cfg.Sandbox.DockerConfig())
	if err != nil {
		return fmt.Errorf("connecting to docker: %w", err)
	}
	a.sandbox = rt
	a.closers = append(a.closers, func() { rt.Close() })

	if cfg.Sandbox.ReapOnStart {
		n, err := rt.Reap(ctx)
		if err != nil {
			slog.Warn("Failed to remove leftover sandbox containers", "error", err)
		} else if n > 0 {
			slog.Info("Removed leftover sandbox containers", "count", n)
		}
	}

	provider, closeProvider, err := newProvider(ctx, cfg)
	if err != nil {
		return err
	}
	a.provider = provider
	a.closers = append(a.closers, closeProvider)

	mgr, err := jsonl.NewManager(cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("opening run history: %w", err)
	}
	a.manager = mgr
	a.closers = append(a.closers, func() { mgr.Close() })

	ws, err := workspace.New(cfg.Data.RepairsDir, int64(cfg.Data.MaxUploadSize))
	if err != nil {
		return fmt.Errorf("opening workspace: %w", err)
	}
	a.workspace = ws

	if cfg.Archive.Enabled {
		archive, err := objstore.New(cfg.Archive.ObjstoreConfig())
		if err != nil {
			return fmt.Errorf("connecting to archive: %w", err)
		}
		a.archive = archive
		slog.Info("Archiving outcomes", "endpoint", cfg.Archive.Endpoint, "bucket", cfg.Archive.Bucket)
	}
	return nil
}

// newRunner builds a runner that records every run, plus any extra
// observers.
func (a *app) newRunner(extra ...runner.Observer) *runner.Runner {
	var archivers []store.Archiver
	if a.archive != nil {
		archivers = append(archivers, a.archive)
	}
	observers := append([]runner.Observer{store.NewRecorder(a.manager, archivers...)}, extra...)
	return runner.New(a.sandbox, a.provider, a.cfg.RunnerConfig(), observers...)
}

// Close releases everything in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
