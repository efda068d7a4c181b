// Package config provides unified configuration for the autofix service
// and CLI.
//
// Configuration is loaded with a layered approach:
//  1. Built-in defaults
//  2. .env file in the working directory
//  3. YAML config file (discovered or explicitly specified)
//  4. Environment variable overrides (AUTOFIX_ prefix, GEMINI_API_KEY)
//  5. File reference resolution (_file suffix fields)
//  6. Validation
package config

import (
	"log/slog"
	"time"

	"github.com/nstogner/autofix/pkg/models/gemini"
)

// Config holds all configuration for autofix.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Data     DataConfig     `yaml:"data"`
	Sandbox  SandboxConfig  `yaml:"sandbox"`
	Runner   RunnerConfig   `yaml:"runner"`
	Provider ProviderConfig `yaml:"provider"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`             // default: ":8000"
	CORSOrigins     []string      `yaml:"cors_origins"`     // default: the two local frontend dev servers
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // default: 30s
	OutcomeCache    int           `yaml:"outcome_cache"`    // default: 256 entries
}

// DataConfig holds on-disk locations.
type DataConfig struct {
	// Dir holds the run history (runs/index.json and per-run event logs).
	Dir string `yaml:"dir"` // default: "data"
	// RepairsDir holds one directory per uploaded project.
	RepairsDir string `yaml:"repairs_dir"` // default: "repairs"
	// MaxUploadSize caps the total bytes written for one upload.
	MaxUploadSize ByteSize `yaml:"max_upload_size"` // default: 10m
}

// SandboxConfig holds container execution settings.
type SandboxConfig struct {
	Images    map[string]string `yaml:"images"`     // language -> image
	WorkDir   string            `yaml:"work_dir"`   // default: "/work"
	User      string            `yaml:"user"`       // optional
	Memory    ByteSize          `yaml:"memory"`     // default: 256m
	CPUs      float64           `yaml:"cpus"`       // default: 0.5
	CPUShares int64             `yaml:"cpu_shares"` // default: 512
	PidsLimit int64             `yaml:"pids_limit"` // default: 64
	Timeout   time.Duration     `yaml:"timeout"`    // default: 10s
	MaxOutput ByteSize          `yaml:"max_output"` // default: 1m per stream
	// ReapOnStart removes containers left behind by a previous process.
	ReapOnStart bool `yaml:"reap_on_start"` // default: true
}

// RunnerConfig holds repair loop settings.
type RunnerConfig struct {
	MaxAttempts   int           `yaml:"max_attempts"`   // default: 8
	OracleTimeout time.Duration `yaml:"oracle_timeout"` // default: 2m
	// StrictExtraction requires a fenced code block in single-file replies.
	StrictExtraction bool `yaml:"strict_extraction"`
}

// ProviderConfig selects and configures the model oracle.
type ProviderConfig struct {
	Name   string       `yaml:"name"`  // "gemini" or "ollama", default: "ollama"
	Model  string       `yaml:"model"` // optional, provider default when empty
	Gemini GeminiConfig `yaml:"gemini"`
	Ollama OllamaConfig `yaml:"ollama"`
}

// GeminiConfig holds Google Gemini settings.
type GeminiConfig struct {
	APIKey     string `yaml:"api_key"`
	APIKeyFile string `yaml:"api_key_file"` // _file variant for api_key
}

// OllamaConfig holds local Ollama settings.
type OllamaConfig struct {
	URL     string        `yaml:"url"`     // default: "http://localhost:11434"
	NumGPU  int           `yaml:"num_gpu"` // default: 0
	NumCtx  int           `yaml:"num_ctx"` // default: 2048
	Timeout time.Duration `yaml:"timeout"` // default: 5m
}

// ArchiveConfig holds the optional S3 compatible outcome archive.
type ArchiveConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Endpoint      string `yaml:"endpoint"`
	Region        string `yaml:"region"`
	AccessKey     string `yaml:"access_key"`
	SecretKey     string `yaml:"secret_key"`
	SecretKeyFile string `yaml:"secret_key_file"` // _file variant for secret_key
	Bucket        string `yaml:"bucket"`
	UseSSL        bool   `yaml:"use_ssl"`
	Prefix        string `yaml:"prefix"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`  // "trace", "debug", "info", "warn" or "error", default: "info"
	Format string `yaml:"format"` // "text" or "json", default: "text"
}

// LevelTrace sits below slog.LevelDebug and enables provider HTTP dumps.
const LevelTrace = gemini.LevelTrace

// Defaults returns a Config populated with built-in defaults.
func Defaults() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8000",
			CORSOrigins:     []string{"http://localhost:3000", "http://localhost:5173"},
			ReadTimeout:     30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			OutcomeCache:    256,
		},
		Data: DataConfig{
			Dir:           "data",
			RepairsDir:    "repairs",
			MaxUploadSize: 10 << 20,
		},
		Sandbox: SandboxConfig{
			Images: map[string]string{
				"python": "python-runner",
				"java":   "java-runner",
			},
			WorkDir:     "/work",
			Memory:      256 << 20,
			CPUs:        0.5,
			CPUShares:   512,
			PidsLimit:   64,
			Timeout:     10 * time.Second,
			MaxOutput:   1 << 20,
			ReapOnStart: true,
		},
		Runner: RunnerConfig{
			MaxAttempts:   8,
			OracleTimeout: 2 * time.Minute,
		},
		Provider: ProviderConfig{
			Name: "ollama",
			Ollama: OllamaConfig{
				URL:     "http://localhost:11434",
				NumCtx:  2048,
				Timeout: 5 * time.Minute,
			},
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// SlogLevel converts the configured level name.
func (c LogConfig) SlogLevel() (slog.Level, error) {
	if c.Level == "trace" {
		return LevelTrace, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Level)); err != nil {
		return 0, err
	}
	return l, nil
}
