package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nstogner/autofix/pkg/models"
	"github.com/nstogner/autofix/pkg/runner"
	"github.com/nstogner/autofix/pkg/sandbox"
	"github.com/nstogner/autofix/pkg/store"
	"github.com/nstogner/autofix/pkg/store/jsonl"
	"github.com/nstogner/autofix/pkg/workspace"
)

// fakeRuntime asks judge about the entry file, or fails when judge is nil.
type fakeRuntime struct {
	mu    sync.Mutex
	judge func(src string) *sandbox.Result
}

func (f *fakeRuntime) Execute(ctx context.Context, runRoot, entryFile string, lang sandbox.Language) (*sandbox.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(runRoot, filepath.FromSlash(entryFile)))
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	judge := f.judge
	f.mu.Unlock()
	if judge == nil {
		return &sandbox.Result{ExitCode: 1, Stderr: "still broken"}, nil
	}
	return judge(string(data)), nil
}

// MockModel always answers with Response, or fails with Err.
type MockModel struct {
	mu       sync.Mutex
	Response string
	Err      error
	calls    int
}

func (m *MockModel) List(ctx context.Context) ([]string, error) {
	return []string{"mock-model"}, nil
}

func (m *MockModel) Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.Err != nil {
		return "", m.Err
	}
	if m.Response == "" {
		return "", errors.New("no canned response")
	}
	return m.Response, nil
}

type fakeFetcher struct {
	mu       sync.Mutex
	outcomes map[string]*runner.Outcome
	calls    int
}

func (f *fakeFetcher) Fetch(ctx context.Context, runID string) (*runner.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if out, ok := f.outcomes[runID]; ok {
		return out, nil
	}
	return nil, store.ErrNotFound
}

type harness struct {
	srv     *Server
	http    *httptest.Server
	ws      *workspace.Workspace
	manager *jsonl.Manager
	runtime *fakeRuntime
	model   *MockModel
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ws, err := workspace.New(filepath.Join(t.TempDir(), "repairs"), 1<<20)
	require.NoError(t, err)
	manager, err := jsonl.NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { manager.Close() })

	rt := &fakeRuntime{}
	model := &MockModel{}
	r := runner.New(rt, model, runner.DefaultConfig(), store.NewRecorder(manager))

	srv, err := New(Config{CORSOrigins: []string{"http://localhost:3000"}, OutcomeCacheSize: 8}, ws, manager, r, model)
	require.NoError(t, err)

	hs := httptest.NewServer(srv.Handler())
	t.Cleanup(hs.Close)

	return &harness{srv: srv, http: hs, ws: ws, manager: manager, runtime: rt, model: model}
}

// upload posts files as multipart parts with explicit paths.
func (h *harness) upload(t *testing.T, language string, files map[string]string) uploadResponse {
	t.Helper()
	resp := h.uploadRaw(t, language, files)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out uploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func (h *harness) uploadRaw(t *testing.T, language string, files map[string]string) *http.Response {
	t.Helper()
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if language != "" {
		require.NoError(t, mw.WriteField("language", language))
	}
	for _, name := range names {
		part, err := mw.CreateFormFile("file", filepath.Base(name))
		require.NoError(t, err)
		_, err = io.WriteString(part, files[name])
		require.NoError(t, err)
		require.NoError(t, mw.WriteField("path", name))
	}
	require.NoError(t, mw.Close())

	resp, err := h.http.Client().Post(h.http.URL+"/upload", mw.FormDataContentType(), &body)
	require.NoError(t, err)
	return resp
}

// do sends a JSON request and decodes the JSON response into a map.
func (h *harness) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, h.http.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := h.http.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 && data[0] == '{' {
		require.NoError(t, json.Unmarshal(data, &out))
	}
	return resp.StatusCode, out
}

func ok(stdout string) *sandbox.Result   { return &sandbox.Result{ExitCode: 0, Stdout: stdout} }
func fail(stderr string) *sandbox.Result { return &sandbox.Result{ExitCode: 1, Stderr: stderr} }
