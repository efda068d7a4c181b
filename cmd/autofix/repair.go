package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/nstogner/autofix/pkg/runner"
	"github.com/nstogner/autofix/pkg/sandbox"
	"github.com/nstogner/autofix/pkg/store"
	"github.com/nstogner/autofix/pkg/tui"
)

var (
	repairLanguage string
	repairEntry    string
	repairExpected string
	repairNoTUI    bool
	repairJSON     bool
	repairWrite    bool
)

var errNotFixed = errors.New("program was not fixed")

var repairCmd = &cobra.Command{
	Use:   "repair [dir]",
	Short: "Repair a local project",
	Long: `Copies the project in dir into a new run, then runs the repair loop on it
with live progress in the terminal. The run is recorded like an uploaded one
and shows up in the server's history.

Example:
  autofix repair ./broken --entry main.py --expected "42"
  autofix repair ./Broken --language java --write`,
	Args: cobra.ExactArgs(1),
	RunE: runRepair,
}

func init() {
	f := repairCmd.Flags()
	f.StringVarP(&repairLanguage, "language", "l", "python", "project language (python or java)")
	f.StringVarP(&repairEntry, "entry", "e", "", "entry file, required for multi-file projects")
	f.StringVar(&repairExpected, "expected", "", "expected standard output")
	f.BoolVar(&repairNoTUI, "no-tui", false, "print plain progress lines instead of the interactive view")
	f.BoolVar(&repairJSON, "json", false, "print the outcome as JSON")
	f.BoolVarP(&repairWrite, "write", "w", false, "write fixed files back into dir on success")
}

func runRepair(cmd *cobra.Command, args []string) error {
	dir := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	lang, err := sandbox.ParseLanguage(repairLanguage)
	if err != nil {
		return err
	}

	// The interactive view owns the terminal, so logs go to a file.
	logOut := io.Writer(cmd.ErrOrStderr())
	if !repairNoTUI {
		f, err := openLogFile(cfg.Data.Dir)
		if err != nil {
			return err
		}
		defer f.Close()
		logOut = f
	}
	if err := setupLogging(cfg.Log, logOut); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	runID, files, err := a.workspace.ImportDir(dir)
	if err != nil {
		return err
	}
	if err := a.manager.CreateRun(store.RunMeta{
		ID:       runID,
		Filename: files[0],
		Files:    files,
		Language: string(lang),
	}); err != nil {
		return err
	}
	runRoot, err := a.workspace.Path(runID)
	if err != nil {
		return err
	}

	req := runner.Request{
		RunID:     runID,
		RunRoot:   runRoot,
		Language:  lang,
		EntryFile: repairEntry,
	}
	if cmd.Flags().Changed("expected") {
		req.ExpectedOutput = &repairExpected
	}

	r := a.newRunner()
	var out *runner.Outcome
	if repairNoTUI {
		out, err = r.Run(ctx, req, tui.NewPrinter(cmd.ErrOrStderr()))
	} else {
		out, err = runInteractive(ctx, r, req)
	}
	if err != nil {
		return err
	}

	if repairJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(out); err != nil {
			return err
		}
	}

	if out.Status != runner.StatusSuccess {
		return fmt.Errorf("%w: %s", errNotFixed, out.Message)
	}
	if repairWrite {
		written, err := writeBack(dir, out)
		if err != nil {
			return err
		}
		for _, name := range written {
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %s\n", filepath.Join(dir, filepath.FromSlash(name)))
		}
	}
	return nil
}

// runInteractive runs the repair loop behind the terminal view. Quitting
// the view cancels the run.
func runInteractive(ctx context.Context, r *runner.Runner, req runner.Request) (*runner.Outcome, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(tui.New(req.RunID))

	var (
		out    *runner.Outcome
		runErr error
		done   = make(chan struct{})
	)
	go func() {
		defer close(done)
		out, runErr = r.Run(runCtx, req, tui.Observer(p))
		tui.Finish(p, out, runErr)
	}()

	final, err := p.Run()
	cancel()
	<-done
	if err != nil {
		return nil, fmt.Errorf("running terminal view: %w", err)
	}
	if m, ok := final.(tui.Model); ok && m.Cancelled() {
		return nil, errors.New("repair cancelled")
	}
	return out, runErr
}

// writeBack copies the files the repair changed into dir and returns their
// names.
func writeBack(dir string, out *runner.Outcome) ([]string, error) {
	var changed []string
	for name, content := range out.FixedCode {
		if orig, ok := out.OriginalCode[name]; ok && orig == content {
			continue
		}
		changed = append(changed, name)
	}
	sort.Strings(changed)

	for _, name := range changed {
		dst := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return nil, err
		}
		if err := os.WriteFile(dst, []byte(out.FixedCode[name]), 0644); err != nil {
			return nil, fmt.Errorf("writing %s: %w", dst, err)
		}
		slog.Info("Wrote fixed file", "path", dst)
	}
	return changed, nil
}

func openLogFile(dataDir string) (*os.File, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, err
	}
	path := filepath.Join(dataDir, "autofix.log")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	return f, nil
}
