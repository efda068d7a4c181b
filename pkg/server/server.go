package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nstogner/autofix/pkg/metrics"
	"github.com/nstogner/autofix/pkg/models"
	"github.com/nstogner/autofix/pkg/runner"
	"github.com/nstogner/autofix/pkg/store"
	"github.com/nstogner/autofix/pkg/workspace"
)

// Repairer runs the repair loop. *runner.Runner implements it.
type Repairer interface {
	Run(ctx context.Context, req runner.Request, extra ...runner.Observer) (*runner.Outcome, error)
}

// OutcomeFetcher reads outcomes that are no longer in the local store.
// *objstore.Archiver implements it.
type OutcomeFetcher interface {
	Fetch(ctx context.Context, runID string) (*runner.Outcome, error)
}

// Config holds HTTP settings.
type Config struct {
	// CORSOrigins lists allowed browser origins. "*" allows any origin.
	CORSOrigins []string
	// OutcomeCacheSize bounds the in-memory outcome cache.
	OutcomeCacheSize int
	ReadTimeout      time.Duration
	ShutdownTimeout  time.Duration
}

// Server serves the upload, repair and run history API.
type Server struct {
	cfg       Config
	workspace *workspace.Workspace
	manager   store.Manager
	runner    Repairer
	provider  models.Provider
	archive   OutcomeFetcher

	outcomes *lru.Cache[string, *runner.Outcome]

	mu       sync.Mutex
	inFlight map[string]struct{}

	srv *http.Server
}

// New creates a new Server.
func New(cfg Config, ws *workspace.Workspace, manager store.Manager, r Repairer, provider models.Provider) (*Server, error) {
	if cfg.OutcomeCacheSize <= 0 {
		cfg.OutcomeCacheSize = 256
	}
	cache, err := lru.New[string, *runner.Outcome](cfg.OutcomeCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating outcome cache: %w", err)
	}
	return &Server{
		cfg:       cfg,
		workspace: ws,
		manager:   manager,
		runner:    r,
		provider:  provider,
		outcomes:  cache,
		inFlight:  map[string]struct{}{},
		srv:       &http.Server{ReadHeaderTimeout: cfg.ReadTimeout},
	}, nil
}

// WithArchive makes GET /repair/{runId} fall back to the archive for
// outcomes missing from the local store.
func (s *Server) WithArchive(f OutcomeFetcher) *Server {
	s.archive = f
	return s
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /repair/{runId}", s.handleRepair)
	mux.HandleFunc("GET /repair/{runId}", s.handleGetRun)
	mux.HandleFunc("GET /repair/{runId}/events", s.handleEvents)

	mux.HandleFunc("GET /api/runs", s.handleListRuns)
	mux.HandleFunc("GET /api/models", s.handleListModels)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return metrics.Middleware(s.corsMiddleware(mux))
}

// Start serves on addr until Shutdown is called. Calling Shutdown first
// makes Start return immediately.
func (s *Server) Start(addr string) error {
	s.srv.Addr = addr
	s.srv.Handler = s.Handler()

	slog.Info("Starting web server", "addr", addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones, up to
// the configured shutdown timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	slog.Info("Shutting down web server")
	return s.srv.Shutdown(ctx)
}

func (s *Server) allowOrigin(origin string) bool {
	return slices.Contains(s.cfg.CORSOrigins, "*") || slices.Contains(s.cfg.CORSOrigins, origin)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.allowOrigin(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// tryAcquire marks a run as being repaired. It reports false when a repair
// of the same run is already in progress.
func (s *Server) tryAcquire(runID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.inFlight[runID]; busy {
		return false
	}
	s.inFlight[runID] = struct{}{}
	return true
}

func (s *Server) release(runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight, runID)
}

// outcome returns a finished run's outcome from the cache, the local store
// or the archive, in that order.
func (s *Server) outcome(ctx context.Context, runID string) (*runner.Outcome, error) {
	if out, ok := s.outcomes.Get(runID); ok {
		return out, nil
	}
	out, err := s.manager.GetOutcome(runID)
	if errors.Is(err, store.ErrNotFound) && s.archive != nil {
		out, err = s.archive.Fetch(ctx, runID)
	}
	if err != nil {
		return nil, err
	}
	s.outcomes.Add(runID, out)
	return out, nil
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Debug("Failed to write response", "error", err)
	}
}

func (s *Server) errorResponse(w http.ResponseWriter, status int, err error) {
	if status >= http.StatusInternalServerError {
		slog.Error("API Error", "status", status, "error", err)
	} else {
		slog.Warn("API Error", "status", status, "error", err)
	}
	s.jsonResponse(w, status, errorBody(err))
}
