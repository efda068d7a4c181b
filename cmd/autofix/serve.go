package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nstogner/autofix/pkg/config"
	"github.com/nstogner/autofix/pkg/metrics"
	"github.com/nstogner/autofix/pkg/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the upload and repair HTTP API",
	Long: `Starts the HTTP API:

  POST /upload                 upload one or more files, returns a run id
  POST /repair/{runId}         run the repair loop, returns the outcome
  GET  /repair/{runId}         run metadata and outcome
  GET  /repair/{runId}/events  websocket stream of run events
  GET  /api/runs               run history
  GET  /api/models             models offered by the provider
  GET  /metrics                Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides server.addr)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if err := setupLogging(cfg.Log, os.Stderr); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := buildServer(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(cfg.Server.Addr)
	})
	g.Go(func() error {
		<-gctx.Done()
		return srv.Shutdown(context.Background())
	})
	return g.Wait()
}

// buildServer wires the shared components into an HTTP server. cleanup
// releases everything that was opened.
func buildServer(ctx context.Context, cfg *config.Config) (*server.Server, func(), error) {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	srv, err := server.New(server.Config{
		CORSOrigins:      cfg.Server.CORSOrigins,
		OutcomeCacheSize: cfg.Server.OutcomeCache,
		ReadTimeout:      cfg.Server.ReadTimeout,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout,
	}, a.workspace, a.manager, a.newRunner(metrics.NewObserver()), a.provider)
	if err != nil {
		a.Close()
		return nil, nil, err
	}
	if a.archive != nil {
		srv.WithArchive(a.archive)
	}
	return srv, a.Close, nil
}
