package jsonl

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/nstogner/autofix/pkg/runner"
	"github.com/nstogner/autofix/pkg/snapshot"
	"github.com/nstogner/autofix/pkg/store"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { m.Close() })
	return m
}

func event(runID string, typ runner.EventType, iteration int) runner.Event {
	return runner.Event{ID: runID + string(typ), RunID: runID, Type: typ, Iteration: iteration, Timestamp: time.Now().UTC()}
}

func TestManager_RunLifecycle(t *testing.T) {
	m := newManager(t)

	require.NoError(t, m.CreateRun(store.RunMeta{ID: "r1", Filename: "bug.py", Files: []string{"bug.py"}, Language: "python"}))

	meta, err := m.GetRun("r1")
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusUploaded, meta.Status)
	assert.False(t, meta.Created.IsZero())

	started := event("r1", runner.EventRunStarted, 0)
	started.EntryFile = "bug.py"
	require.NoError(t, m.Append(started))
	require.NoError(t, m.Append(event("r1", runner.EventIterationStarted, 1)))

	meta, err = m.GetRun("r1")
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusRunning, meta.Status)
	assert.Equal(t, 1, meta.Iterations)
	assert.Equal(t, "bug.py", meta.EntryFile)

	out := &runner.Outcome{
		RunID:        "r1",
		Status:       runner.StatusSuccess,
		Mode:         runner.ModeSingleFile,
		Language:     "python",
		EntryFile:    "bug.py",
		Iterations:   1,
		Message:      "Fixed after 1 attempt(s)",
		Output:       "ok\n",
		OriginalCode: snapshot.Files{"bug.py": "print(x)"},
		FixedCode:    snapshot.Files{"bug.py": "print('ok')"},
		History:      []runner.IterationRecord{{Number: 1, ExitCode: 0, ChangedFiles: []string{"bug.py"}}},
	}
	done := event("r1", runner.EventRunSucceeded, 1)
	done.Outcome = out
	require.NoError(t, m.Append(done))

	meta, err = m.GetRun("r1")
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusSuccess, meta.Status)
	assert.Equal(t, "Fixed after 1 attempt(s)", meta.Message)

	got, err := m.GetOutcome("r1")
	require.NoError(t, err)
	assert.Equal(t, out.FixedCode, got.FixedCode)
	assert.Equal(t, out.OriginalCode, got.OriginalCode)
	assert.Equal(t, out.History, got.History)

	entries, err := m.Entries("r1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, runner.EventRunStarted, entries[0].Type)
	assert.Equal(t, runner.EventRunSucceeded, entries[2].Type)
	require.NotNil(t, entries[2].Outcome)
	assert.Equal(t, "print('ok')", entries[2].Outcome.FixedCode["bug.py"])
}

func TestManager_Aborted(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.CreateRun(store.RunMeta{ID: "r2"}))

	ev := event("r2", runner.EventRunAborted, 0)
	ev.Error = "entry file is required"
	require.NoError(t, m.Append(ev))

	meta, err := m.GetRun("r2")
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusAborted, meta.Status)
	assert.Equal(t, "entry file is required", meta.Error)

	_, err = m.GetOutcome("r2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestManager_RestartClearsOutcome(t *testing.T) {
	m := newManager(t)
	require.NoError(t, m.CreateRun(store.RunMeta{ID: "r3", Filename: "bug.py"}))

	require.NoError(t, m.Append(event("r3", runner.EventRunStarted, 0)))
	done := event("r3", runner.EventRunExhausted, 8)
	done.Outcome = &runner.Outcome{RunID: "r3", Status: runner.StatusFailed, Iterations: 8}
	require.NoError(t, m.Append(done))
	_, err := m.GetOutcome("r3")
	require.NoError(t, err)

	require.NoError(t, m.Append(event("r3", runner.EventRunStarted, 0)))
	_, err = m.GetOutcome("r3")
	assert.ErrorIs(t, err, store.ErrNotFound)

	meta, err := m.GetRun("r3")
	require.NoError(t, err)
	assert.Equal(t, store.RunStatusRunning, meta.Status)
}

func TestManager_NotFound(t *testing.T) {
	m := newManager(t)

	_, err := m.GetRun("missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = m.Entries("missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = m.Entries("../escape")
	assert.Error(t, err)
}

func TestManager_ListRunsNewestFirst(t *testing.T) {
	m := newManager(t)
	old := time.Now().Add(-time.Hour).UTC()
	require.NoError(t, m.CreateRun(store.RunMeta{ID: "old", Created: old, Modified: old}))
	require.NoError(t, m.CreateRun(store.RunMeta{ID: "new"}))

	runs, err := m.ListRuns()
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "new", runs[0].ID)
	assert.Equal(t, "old", runs[1].ID)
}

func TestManager_Subscribe(t *testing.T) {
	m := newManager(t)
	ch := m.Subscribe()
	defer m.Unsubscribe(ch)

	require.NoError(t, m.Append(event("r3", runner.EventRunStarted, 0)))

	select {
	case id := <-ch:
		assert.Equal(t, "r3", id)
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for notification")
	}
}

func TestRecorder(t *testing.T) {
	m := newManager(t)
	arch := &fakeArchiver{}
	rec := store.NewRecorder(m, arch)
	require.NoError(t, m.CreateRun(store.RunMeta{ID: "r4", Filename: "a.py"}))

	rec.OnEvent(event("r4", runner.EventRunStarted, 0))
	done := event("r4", runner.EventRunExhausted, 8)
	done.Outcome = &runner.Outcome{RunID: "r4", Status: runner.StatusFailed, Mode: runner.ModeSingleFile, EntryFile: "a.py", Iterations: 8}
	rec.OnEvent(done)

	require.Len(t, arch.metas, 1)
	assert.Equal(t, "a.py", arch.metas[0].Filename)
	assert.Equal(t, store.RunStatusFailed, arch.metas[0].Status)
}
