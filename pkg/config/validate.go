package config

import (
	"errors"
	"fmt"

	"github.com/nstogner/autofix/pkg/sandbox"
)

// Validate checks the configuration for required fields and valid values.
// Returns an error with a descriptive field path on failure.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Addr == "" {
		errs = append(errs, fmt.Errorf("server.addr is required"))
	}
	if c.Server.OutcomeCache <= 0 {
		errs = append(errs, fmt.Errorf("server.outcome_cache must be > 0, got %d", c.Server.OutcomeCache))
	}

	if c.Data.Dir == "" {
		errs = append(errs, fmt.Errorf("data.dir is required"))
	}
	if c.Data.RepairsDir == "" {
		errs = append(errs, fmt.Errorf("data.repairs_dir is required"))
	}
	if c.Data.MaxUploadSize <= 0 {
		errs = append(errs, fmt.Errorf("data.max_upload_size must be > 0"))
	}

	for lang, image := range c.Sandbox.Images {
		if _, err := sandbox.ParseLanguage(lang); err != nil {
			errs = append(errs, fmt.Errorf("sandbox.images: %w", err))
		}
		if image == "" {
			errs = append(errs, fmt.Errorf("sandbox.images.%s must not be empty", lang))
		}
	}
	if c.Sandbox.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("sandbox.timeout must be > 0, got %s", c.Sandbox.Timeout))
	}
	if c.Sandbox.CPUs < 0 {
		errs = append(errs, fmt.Errorf("sandbox.cpus must be >= 0, got %g", c.Sandbox.CPUs))
	}

	if c.Runner.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("runner.max_attempts must be >= 1, got %d", c.Runner.MaxAttempts))
	}
	if c.Runner.OracleTimeout <= 0 {
		errs = append(errs, fmt.Errorf("runner.oracle_timeout must be > 0, got %s", c.Runner.OracleTimeout))
	}

	switch c.Provider.Name {
	case "ollama":
		if c.Provider.Ollama.URL == "" {
			errs = append(errs, fmt.Errorf("provider.ollama.url is required when provider.name is \"ollama\""))
		}
	case "gemini":
		if c.Provider.Gemini.APIKey == "" && c.Provider.Gemini.APIKeyFile == "" {
			errs = append(errs, fmt.Errorf("provider.gemini.api_key (or GEMINI_API_KEY) is required when provider.name is \"gemini\""))
		}
	default:
		errs = append(errs, fmt.Errorf("provider.name must be \"gemini\" or \"ollama\", got %q", c.Provider.Name))
	}

	if c.Archive.Enabled {
		if c.Archive.Endpoint == "" {
			errs = append(errs, fmt.Errorf("archive.endpoint is required when archive.enabled is true"))
		}
		if c.Archive.Bucket == "" {
			errs = append(errs, fmt.Errorf("archive.bucket is required when archive.enabled is true"))
		}
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be \"text\" or \"json\", got %q", c.Log.Format))
	}

	return errors.Join(errs...)
}
