// Command autofix repairs broken Python and Java programs by running them
// in a sandbox and asking a language model for patches until they work.
//
// Usage:
//
//	autofix serve                  # HTTP API on :8000
//	autofix repair ./project       # repair a local directory in the terminal
//	autofix version
//
// Configuration is read from autofix.yaml, .env and AUTOFIX_* environment
// variables; see pkg/config.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/nstogner/autofix/pkg/config"
	"github.com/nstogner/autofix/pkg/models"
	"github.com/nstogner/autofix/pkg/models/gemini"
	"github.com/nstogner/autofix/pkg/models/ollama"
)

var (
	// Global flags
	configPath string
	logLevel   string

	// Set by the linker.
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:   "autofix",
	Short: "Repair broken programs with a sandbox and a language model",
	Long: `autofix runs a program in an isolated container, shows the failure to a
language model, applies the patch it proposes and runs the program again,
until it exits cleanly (and prints the expected output, when given) or the
attempt budget is spent.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (trace, debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd, repairCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the configuration and applies command line overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// setupLogging installs the default slog logger writing to w.
func setupLogging(lc config.LogConfig, w io.Writer) error {
	level, err := lc.SlogLevel()
	if err != nil {
		return err
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if lc.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
	slog.Debug("Logging initialized", "level", level, "format", lc.Format)
	return nil
}

// newProvider builds the configured model provider. The returned func
// releases its resources.
func newProvider(ctx context.Context, cfg *config.Config) (models.Provider, func(), error) {
	switch cfg.Provider.Name {
	case "gemini":
		m, err := gemini.New(ctx, cfg.Provider.Gemini.APIKey, cfg.Provider.Model)
		if err != nil {
			return nil, nil, fmt.Errorf("initializing gemini: %w", err)
		}
		return m, m.Close, nil
	case "ollama":
		return ollama.New(cfg.Provider.OllamaConfig()), func() {}, nil
	}
	return nil, nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
}
