package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nstogner/autofix/pkg/models"
	"github.com/nstogner/autofix/pkg/sandbox"
)

// fakeRuntime returns scripted results, or asks judge when the script is
// exhausted. It records the entry file content seen by every execution.
type fakeRuntime struct {
	mu      sync.Mutex
	script  []*sandbox.Result
	judge   func(src string) *sandbox.Result
	err     error
	seen    []string
	entries []string
}

func (f *fakeRuntime) Execute(ctx context.Context, runRoot, entryFile string, lang sandbox.Language) (*sandbox.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, _ := os.ReadFile(filepath.Join(runRoot, filepath.FromSlash(entryFile)))
	f.seen = append(f.seen, string(data))
	f.entries = append(f.entries, entryFile)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.script) > 0 {
		r := f.script[0]
		f.script = f.script[1:]
		return r, nil
	}
	if f.judge != nil {
		return f.judge(string(data)), nil
	}
	return &sandbox.Result{ExitCode: 1, Stderr: "still broken"}, nil
}

func (f *fakeRuntime) executions() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.seen)
}

// MockModel replays canned responses in order and repeats the last one.
type MockModel struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Block     bool
	Prompts   []string
	Options   []models.GenerateOptions
}

func (m *MockModel) List(ctx context.Context) ([]string, error) {
	return []string{"mock-model"}, nil
}

func (m *MockModel) Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (string, error) {
	m.mu.Lock()
	m.Prompts = append(m.Prompts, prompt)
	m.Options = append(m.Options, opts)
	n := len(m.Prompts)
	m.mu.Unlock()

	if m.Block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) == 0 {
		return "", errors.New("no canned response")
	}
	if n > len(m.Responses) {
		n = len(m.Responses)
	}
	return m.Responses[n-1], nil
}

func (m *MockModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) OnEvent(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []EventType
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

func newProject(t *testing.T, files map[string]string) (string, string) {
	t.Helper()
	runID := "run-" + filepath.Base(t.TempDir())
	root := filepath.Join(t.TempDir(), runID)
	require.NoError(t, os.MkdirAll(root, 0o755))
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	return runID, root
}

func ok(stdout string) *sandbox.Result   { return &sandbox.Result{ExitCode: 0, Stdout: stdout} }
func fail(stderr string) *sandbox.Result { return &sandbox.Result{ExitCode: 1, Stderr: stderr} }

func strPtr(s string) *string { return &s }
