package jsonl

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/nstogner/autofix/pkg/runner"
	"github.com/nstogner/autofix/pkg/store"
)

const (
	indexFile   = "index.json"
	eventsFile  = "events.jsonl"
	outcomeFile = "outcome.json"
)

// Manager implements the store.Manager interface using JSONL files.
//
// Layout:
//
//	<root>/runs/index.json
//	<root>/runs/<id>/events.jsonl
//	<root>/runs/<id>/outcome.json
type Manager struct {
	runsDir   string
	eventChan chan string
	mu        sync.RWMutex
	subs      []chan string
	closed    bool
	done      chan struct{}
}

var _ store.Manager = (*Manager)(nil)

func NewManager(rootDir string) (*Manager, error) {
	m := &Manager{
		runsDir:   filepath.Join(rootDir, "runs"),
		eventChan: make(chan string, 100),
		done:      make(chan struct{}),
	}
	if err := os.MkdirAll(m.runsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history directory: %w", err)
	}
	go m.broadcastLoop()
	return m, nil
}

// Index represents the index.json structure
type Index struct {
	Runs []store.RunMeta `json:"runs"`
}

func (m *Manager) indexPath() string { return filepath.Join(m.runsDir, indexFile) }

func (m *Manager) runDir(id string) (string, error) {
	if id == "" || id != filepath.Base(id) || id == "." || id == ".." {
		return "", fmt.Errorf("invalid run id %q", id)
	}
	return filepath.Join(m.runsDir, id), nil
}

func (m *Manager) readIndex() (Index, error) {
	var idx Index
	data, err := os.ReadFile(m.indexPath())
	if os.IsNotExist(err) {
		return idx, nil
	}
	if err != nil {
		return idx, err
	}
	if err := json.Unmarshal(data, &idx); err != nil {
		return idx, fmt.Errorf("decoding run index: %w", err)
	}
	return idx, nil
}

func (m *Manager) writeIndex(idx Index) error {
	data, err := json.MarshalIndent(idx, "", "  ")
	if err != nil {
		return err
	}
	tmp := m.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, m.indexPath())
}

// updateIndex applies fn to the record for id, creating it if create is set.
// Callers must hold m.mu.
func (m *Manager) updateIndex(id string, create bool, fn func(*store.RunMeta)) error {
	idx, err := m.readIndex()
	if err != nil {
		return err
	}
	pos := -1
	for i := range idx.Runs {
		if idx.Runs[i].ID == id {
			pos = i
			break
		}
	}
	if pos < 0 {
		if !create {
			return fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		now := time.Now().UTC()
		idx.Runs = append(idx.Runs, store.RunMeta{ID: id, Status: store.RunStatusUploaded, Created: now, Modified: now})
		pos = len(idx.Runs) - 1
	}
	fn(&idx.Runs[pos])
	return m.writeIndex(idx)
}

func (m *Manager) CreateRun(meta store.RunMeta) error {
	dir, err := m.runDir(meta.ID)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	now := time.Now().UTC()
	if meta.Created.IsZero() {
		meta.Created = now
	}
	if meta.Modified.IsZero() {
		meta.Modified = now
	}
	if meta.Status == "" {
		meta.Status = store.RunStatusUploaded
	}
	if meta.Files == nil {
		meta.Files = []string{}
	}
	return m.updateIndex(meta.ID, true, func(rm *store.RunMeta) { *rm = meta })
}

func (m *Manager) GetRun(id string) (*store.RunMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, err := m.readIndex()
	if err != nil {
		return nil, err
	}
	for _, r := range idx.Runs {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
}

func (m *Manager) ListRuns() ([]store.RunMeta, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	idx, err := m.readIndex()
	if err != nil {
		return nil, err
	}
	runs := idx.Runs
	if runs == nil {
		runs = []store.RunMeta{}
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Modified.After(runs[j].Modified) })
	return runs, nil
}

// Append writes the event to the run's log, updates the index record and,
// for terminal events carrying an outcome, writes outcome.json. A
// run_started event clears the outcome of any earlier attempt.
func (m *Manager) Append(e store.Entry) error {
	dir, err := m.runDir(e.RunID)
	if err != nil {
		return err
	}
	line, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, eventsFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if e.Type == runner.EventRunStarted {
		if err := os.Remove(filepath.Join(dir, outcomeFile)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("clearing previous outcome: %w", err)
		}
	}
	if e.Outcome != nil {
		data, err := json.MarshalIndent(e.Outcome, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding outcome: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, outcomeFile), data, 0o644); err != nil {
			return err
		}
	}

	if err := m.updateIndex(e.RunID, true, func(rm *store.RunMeta) { applyEvent(rm, e) }); err != nil {
		return err
	}
	m.publish(e.RunID)
	return nil
}

func applyEvent(rm *store.RunMeta, e store.Entry) {
	rm.Modified = e.Timestamp
	if rm.Modified.IsZero() {
		rm.Modified = time.Now().UTC()
	}
	switch e.Type {
	case runner.EventRunStarted:
		rm.Status = store.RunStatusRunning
		rm.EntryFile = e.EntryFile
		rm.Iterations = 0
		rm.Message = ""
		rm.Error = ""
	case runner.EventIterationStarted:
		rm.Iterations = e.Iteration
	case runner.EventRunSucceeded, runner.EventRunExhausted:
		rm.Status = store.RunStatusFailed
		if e.Type == runner.EventRunSucceeded {
			rm.Status = store.RunStatusSuccess
		}
		if e.Outcome != nil {
			rm.Iterations = e.Outcome.Iterations
			rm.Message = e.Outcome.Message
			rm.Language = e.Outcome.Language
		}
	case runner.EventRunAborted:
		rm.Status = store.RunStatusAborted
		rm.Error = e.Error
	}
}

func (m *Manager) Entries(id string) ([]store.Entry, error) {
	dir, err := m.runDir(id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, err := os.Open(filepath.Join(dir, eventsFile))
	if os.IsNotExist(err) {
		if _, statErr := os.Stat(dir); os.IsNotExist(statErr) {
			return nil, fmt.Errorf("%w: %s", store.ErrNotFound, id)
		}
		return []store.Entry{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	entries := []store.Entry{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e store.Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("decoding event in %s: %w", id, err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}

func (m *Manager) GetOutcome(id string) (*runner.Outcome, error) {
	dir, err := m.runDir(id)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, err := os.ReadFile(filepath.Join(dir, outcomeFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no outcome for %s", store.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	var out runner.Outcome
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding outcome: %w", err)
	}
	return &out, nil
}

func (m *Manager) broadcastLoop() {
	defer close(m.done)
	for id := range m.eventChan {
		m.mu.RLock()
		for _, sub := range m.subs {
			// Non-blocking send
			select {
			case sub <- id:
			default:
			}
		}
		m.mu.RUnlock()
	}
}

func (m *Manager) Subscribe() <-chan string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch := make(chan string, 10)
	m.subs = append(m.subs, ch)
	return ch
}

func (m *Manager) Unsubscribe(ch <-chan string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, sub := range m.subs {
		if sub == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

// publish must be called with m.mu held.
func (m *Manager) publish(id string) {
	if m.closed {
		return
	}
	select {
	case m.eventChan <- id:
	default:
	}
}

// Close stops the broadcast loop. Subscriber channels are left open.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.eventChan)
	m.mu.Unlock()
	<-m.done
	return nil
}
