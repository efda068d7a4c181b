package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/nstogner/autofix/pkg/runner"
	"github.com/nstogner/autofix/pkg/sandbox"
	"github.com/nstogner/autofix/pkg/store"
	"github.com/nstogner/autofix/pkg/workspace"
)

// maxUploadMemory is the part of a multipart upload kept in memory; the
// rest spills to temporary files.
const maxUploadMemory = 32 << 20

// --- Upload ---

type uploadResponse struct {
	RunID    string   `json:"run_id"`
	Filename string   `json:"filename"`
	Files    []string `json:"files"`
}

// handleUpload stores one or more "file" parts under a fresh run id. A
// multipart filename loses its directories, so clients uploading a tree send
// one "path" value per file, in the same order.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("parsing upload: %w", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	lang := sandbox.LanguagePython
	if v := r.FormValue("language"); v != "" {
		l, err := sandbox.ParseLanguage(v)
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("%w: %w", runner.ErrUnsupportedLanguage, err))
			return
		}
		lang = l
	}

	headers := r.MultipartForm.File["file"]
	paths := r.MultipartForm.Value["path"]
	if len(paths) > 0 && len(paths) != len(headers) {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("got %d path values for %d files", len(paths), len(headers)))
		return
	}

	files := make([]workspace.File, 0, len(headers))
	for i, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("opening %s: %w", fh.Filename, err))
			return
		}
		defer f.Close()
		files = append(files, workspace.File{Name: uploadName(fh, paths, i), Content: f})
	}

	runID, written, err := s.workspace.Create(files)
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}

	meta := store.RunMeta{
		ID:       runID,
		Filename: written[0],
		Files:    written,
		Language: string(lang),
	}
	if err := s.manager.CreateRun(meta); err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	slog.Info("Project uploaded", "runID", runID, "files", len(written), "language", lang)

	s.jsonResponse(w, http.StatusOK, uploadResponse{RunID: runID, Filename: meta.Filename, Files: written})
}

func uploadName(fh *multipart.FileHeader, paths []string, i int) string {
	if len(paths) > 0 && paths[i] != "" {
		return paths[i]
	}
	return fh.Filename
}

// --- Repair ---

type repairRequest struct {
	ExpectedOutput *string `json:"expected_output"`
	Language       string  `json:"language"`
	EntryFile      string  `json:"entry_file"`
}

// handleRepair runs the repair loop to completion on the request context;
// a client disconnect cancels the run.
func (s *Server) handleRepair(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	runRoot, err := s.workspace.Path(runID)
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}

	if !s.workspace.Exists(runID) {
		s.errorResponse(w, http.StatusNotFound, fmt.Errorf("%w: %s", runner.ErrRunNotFound, runID))
		return
	}

	var req repairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.errorResponse(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	lang, err := s.language(runID, req.Language)
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}

	if !s.tryAcquire(runID) {
		s.errorResponse(w, http.StatusConflict, errBusy)
		return
	}
	defer s.release(runID)
	s.outcomes.Remove(runID)

	out, err := s.runner.Run(r.Context(), runner.Request{
		RunID:          runID,
		RunRoot:        runRoot,
		Language:       lang,
		EntryFile:      req.EntryFile,
		ExpectedOutput: req.ExpectedOutput,
	})
	if err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}
	s.outcomes.Add(runID, out)
	s.jsonResponse(w, http.StatusOK, out)
}

// language prefers the request's language and falls back to the one given
// at upload time.
func (s *Server) language(runID, requested string) (sandbox.Language, error) {
	if strings.TrimSpace(requested) == "" {
		meta, err := s.manager.GetRun(runID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return "", err
		}
		if meta != nil {
			requested = meta.Language
		}
	}
	lang, err := sandbox.ParseLanguage(requested)
	if err != nil {
		return "", fmt.Errorf("%w: %w", runner.ErrUnsupportedLanguage, err)
	}
	return lang, nil
}

// --- Runs ---

type runResponse struct {
	Run     *store.RunMeta  `json:"run,omitempty"`
	Outcome *runner.Outcome `json:"outcome,omitempty"`
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := r.PathValue("runId")
	if _, err := s.workspace.Path(runID); err != nil {
		s.errorResponse(w, statusFor(err), err)
		return
	}

	var resp runResponse
	meta, err := s.manager.GetRun(runID)
	switch {
	case err == nil:
		resp.Run = meta
	case !errors.Is(err, store.ErrNotFound):
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	out, err := s.outcome(r.Context(), runID)
	switch {
	case err == nil:
		resp.Outcome = out
	case !errors.Is(err, store.ErrNotFound):
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}

	if resp.Run == nil && resp.Outcome == nil {
		s.errorResponse(w, http.StatusNotFound, fmt.Errorf("%w: %s", store.ErrNotFound, runID))
		return
	}
	s.jsonResponse(w, http.StatusOK, resp)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.manager.ListRuns()
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, runs)
}

// --- Models ---

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.provider.List(r.Context())
	if err != nil {
		s.errorResponse(w, http.StatusBadGateway, err)
		return
	}
	if models == nil {
		models = []string{}
	}
	s.jsonResponse(w, http.StatusOK, models)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}
