// Package tui renders the progress of a repair run in the terminal.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/nstogner/autofix/pkg/runner"
)

var (
	titleStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#FFFDF5")).
			Background(lipgloss.Color("#25A065")).
			Padding(0, 1)

	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true).Padding(0, 1)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	addStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	removeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	hunkStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	messageStyle = lipgloss.NewStyle().PaddingLeft(2)
)

// EventMsg carries one runner event into the program.
type EventMsg runner.Event

// DoneMsg reports the end of the run.
type DoneMsg struct {
	Outcome *runner.Outcome
	Err     error
}

// Sender is implemented by *tea.Program.
type Sender interface {
	Send(msg tea.Msg)
}

// Observer forwards runner events to a running program. Send is a no-op
// once the program has exited, so a quit never blocks the runner.
func Observer(p Sender) runner.Observer {
	return runner.ObserverFunc(func(e runner.Event) {
		p.Send(EventMsg(e))
	})
}

// Finish tells the program the run has ended.
func Finish(p Sender, out *runner.Outcome, err error) {
	p.Send(DoneMsg{Outcome: out, Err: err})
}

// Model shows the iteration log of one run, the current phase and the
// latest diff or error output.
type Model struct {
	runID string

	spinner  spinner.Model
	viewport viewport.Model
	width    int
	height   int

	mode        runner.Mode
	entryFile   string
	maxAttempts int
	iteration   int
	phase       string
	log         []string
	detail      string

	outcome   *runner.Outcome
	err       error
	done      bool
	cancelled bool
}

func New(runID string) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	vp := viewport.New(80, 12)

	return Model{
		runID:    runID,
		spinner:  sp,
		viewport: vp,
		width:    80,
		phase:    "starting",
	}
}

// Cancelled reports whether the user quit before the run finished.
func (m Model) Cancelled() bool { return m.cancelled }

// Outcome returns the final outcome, if the run finished.
func (m Model) Outcome() *runner.Outcome { return m.outcome }

// Err returns the error that aborted the run, if any.
func (m Model) Err() error { return m.err }

func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width
		m.viewport.Height = msg.Height - len(m.log) - 8
		if m.viewport.Height < 5 {
			m.viewport.Height = 5
		}

	case tea.KeyMsg:
		switch msg.Type {
		case tea.KeyCtrlC, tea.KeyEsc:
			if !m.done {
				m.cancelled = true
			}
			return m, tea.Quit
		}
		if msg.String() == "q" {
			if !m.done {
				m.cancelled = true
			}
			return m, tea.Quit
		}
		var vpCmd tea.Cmd
		m.viewport, vpCmd = m.viewport.Update(msg)
		cmds = append(cmds, vpCmd)

	case spinner.TickMsg:
		if m.done {
			return m, nil
		}
		var spCmd tea.Cmd
		m.spinner, spCmd = m.spinner.Update(msg)
		cmds = append(cmds, spCmd)

	case EventMsg:
		m.apply(runner.Event(msg))

	case DoneMsg:
		m.done = true
		m.outcome = msg.Outcome
		m.err = msg.Err
		m.phase = ""
		if msg.Outcome != nil && msg.Outcome.Status == runner.StatusSuccess && msg.Outcome.Iterations > 0 {
			m.setDetail(lastDiff(msg.Outcome))
		}
		return m, tea.Quit
	}

	return m, tea.Batch(cmds...)
}

// apply folds one event into the view state.
func (m *Model) apply(e runner.Event) {
	switch e.Type {
	case runner.EventRunStarted:
		m.mode = e.Mode
		m.entryFile = e.EntryFile
		m.maxAttempts = e.MaxAttempts
		m.phase = "running the original program"
	case runner.EventProbeCompleted:
		m.log = append(m.log, Describe(e))
		if e.Result != nil && e.Result.ExitCode != 0 {
			m.setDetail(e.Result.Stderr)
		}
	case runner.EventIterationStarted:
		m.iteration = e.Iteration
		m.phase = fmt.Sprintf("attempt %d/%d: asking the model", e.Iteration, m.maxAttempts)
	case runner.EventModelResponded:
		m.phase = fmt.Sprintf("attempt %d/%d: applying the patch", e.Iteration, m.maxAttempts)
	case runner.EventPatchApplied:
		m.phase = fmt.Sprintf("attempt %d/%d: running the patched program", e.Iteration, m.maxAttempts)
		if e.Diff != "" {
			m.setDetail(e.Diff)
		}
	case runner.EventExecutionCompleted:
		m.log = append(m.log, Describe(e))
		if e.Result != nil && e.Result.ExitCode != 0 {
			m.setDetail(e.Result.Stderr)
		}
	case runner.EventRunSucceeded, runner.EventRunExhausted, runner.EventRunAborted:
		m.log = append(m.log, Describe(e))
		m.phase = ""
	}
}

func (m *Model) setDetail(s string) {
	m.detail = s
	m.viewport.SetContent(colorize(s))
	m.viewport.GotoTop()
}

func (m Model) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("autofix " + m.runID))
	b.WriteString("\n")
	if m.entryFile != "" {
		b.WriteString(dimStyle.Render(fmt.Sprintf("entry %s, %s mode, up to %d attempts", m.entryFile, m.mode, m.maxAttempts)))
		b.WriteString("\n")
	}
	b.WriteString("\n")

	for _, line := range m.log {
		b.WriteString(messageStyle.Render(line))
		b.WriteString("\n")
	}

	if m.phase != "" && !m.done {
		b.WriteString(fmt.Sprintf("%s %s\n", m.spinner.View(), m.phase))
	}

	if m.detail != "" {
		b.WriteString("\n")
		b.WriteString(m.viewport.View())
		b.WriteString("\n")
	}

	if m.done {
		b.WriteString("\n")
		b.WriteString(m.summary())
		b.WriteString("\n")
	} else {
		b.WriteString(dimStyle.Render("\n↑/↓ scroll, q to cancel"))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) summary() string {
	switch {
	case m.err != nil:
		return errorStyle.Width(m.width).Render(fmt.Sprintf("Error: %v", m.err))
	case m.outcome == nil:
		return ""
	case m.outcome.Status == runner.StatusSuccess:
		return passStyle.Render(m.outcome.Message)
	default:
		return failStyle.Render(m.outcome.Message)
	}
}

// lastDiff returns the diff of the latest iteration that changed something.
func lastDiff(out *runner.Outcome) string {
	for i := len(out.History) - 1; i >= 0; i-- {
		if out.History[i].Diff != "" {
			return out.History[i].Diff
		}
	}
	return ""
}

func colorize(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, line := range lines {
		switch {
		case strings.HasPrefix(line, "+++"), strings.HasPrefix(line, "---"):
			lines[i] = labelStyle.Render(line)
		case strings.HasPrefix(line, "@@"):
			lines[i] = hunkStyle.Render(line)
		case strings.HasPrefix(line, "+"):
			lines[i] = addStyle.Render(line)
		case strings.HasPrefix(line, "-"):
			lines[i] = removeStyle.Render(line)
		}
	}
	return strings.Join(lines, "\n")
}
