package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Load loads configuration from a layered set of sources.
//
// The loading order is:
//  1. Built-in defaults
//  2. ./.env into the process environment, never overriding variables
//     already set (it may name AUTOFIX_CONFIG)
//  3. YAML config file (explicit path, AUTOFIX_CONFIG env, ./autofix.yaml)
//  4. Environment variable overrides
//  5. File reference resolution (_file suffix)
//  6. Validation
func Load(configPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadDotEnv(".env"); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	filePath := discoverConfigFile(configPath)
	if filePath != "" {
		if err := loadYAMLFile(filePath, &cfg); err != nil {
			return nil, fmt.Errorf("loading config file %s: %w", filePath, err)
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := resolveFileReferences(&cfg); err != nil {
		return nil, fmt.Errorf("resolving file references: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return &cfg, nil
}

// loadDotEnv populates the process environment from path if it exists.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return godotenv.Load(path)
}

// discoverConfigFile returns the explicit path, AUTOFIX_CONFIG, or
// ./autofix.yaml when present. Empty means no file.
func discoverConfigFile(configPath string) string {
	if configPath != "" {
		return configPath
	}
	if envPath := os.Getenv("AUTOFIX_CONFIG"); envPath != "" {
		return envPath
	}
	for _, path := range []string{"autofix.yaml", "autofix.yml"} {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// loadYAMLFile reads and parses a YAML file into cfg.
// Fields not present in the YAML retain their current (default) values.
func loadYAMLFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnvOverrides maps environment variables onto config fields.
func applyEnvOverrides(cfg *Config) error {
	var errs []error

	setString := func(name string, dst *string) {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			*dst = v
		}
	}
	setInt := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	setSize := func(name string, dst *ByteSize) {
		if v := os.Getenv(name); v != "" {
			n, err := ParseByteSize(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	setString("AUTOFIX_ADDR", &cfg.Server.Addr)
	if v := os.Getenv("AUTOFIX_CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}

	setString("AUTOFIX_DATA_DIR", &cfg.Data.Dir)
	setString("AUTOFIX_REPAIRS_DIR", &cfg.Data.RepairsDir)
	setSize("AUTOFIX_MAX_UPLOAD_SIZE", &cfg.Data.MaxUploadSize)

	if v := os.Getenv("AUTOFIX_PYTHON_IMAGE"); v != "" {
		cfg.Sandbox.setImage("python", v)
	}
	if v := os.Getenv("AUTOFIX_JAVA_IMAGE"); v != "" {
		cfg.Sandbox.setImage("java", v)
	}
	setSize("AUTOFIX_SANDBOX_MEMORY", &cfg.Sandbox.Memory)
	setDuration("AUTOFIX_SANDBOX_TIMEOUT", &cfg.Sandbox.Timeout)
	setBool("AUTOFIX_REAP_ON_START", &cfg.Sandbox.ReapOnStart)

	setInt("AUTOFIX_MAX_ATTEMPTS", &cfg.Runner.MaxAttempts)
	setDuration("AUTOFIX_ORACLE_TIMEOUT", &cfg.Runner.OracleTimeout)

	setString("AUTOFIX_PROVIDER", &cfg.Provider.Name)
	setString("AUTOFIX_MODEL", &cfg.Provider.Model)
	setString("GEMINI_API_KEY", &cfg.Provider.Gemini.APIKey)
	setString("AUTOFIX_OLLAMA_URL", &cfg.Provider.Ollama.URL)

	setBool("AUTOFIX_ARCHIVE_ENABLED", &cfg.Archive.Enabled)
	setString("AUTOFIX_ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint)
	setString("AUTOFIX_ARCHIVE_BUCKET", &cfg.Archive.Bucket)
	setString("AUTOFIX_ARCHIVE_ACCESS_KEY", &cfg.Archive.AccessKey)
	setString("AUTOFIX_ARCHIVE_SECRET_KEY", &cfg.Archive.SecretKey)

	setString("AUTOFIX_LOG_LEVEL", &cfg.Log.Level)
	setString("AUTOFIX_LOG_FORMAT", &cfg.Log.Format)

	return errors.Join(errs...)
}

func (s *SandboxConfig) setImage(lang, image string) {
	if s.Images == nil {
		s.Images = map[string]string{}
	}
	s.Images[lang] = image
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// resolveFileReferences reads _file fields into their value fields when
// the value is unset.
func resolveFileReferences(cfg *Config) error {
	if cfg.Provider.Gemini.APIKeyFile != "" && cfg.Provider.Gemini.APIKey == "" {
		val, err := readSecretFile(cfg.Provider.Gemini.APIKeyFile)
		if err != nil {
			return fmt.Errorf("provider.gemini.api_key_file: %w", err)
		}
		cfg.Provider.Gemini.APIKey = val
	}
	if cfg.Archive.SecretKeyFile != "" && cfg.Archive.SecretKey == "" {
		val, err := readSecretFile(cfg.Archive.SecretKeyFile)
		if err != nil {
			return fmt.Errorf("archive.secret_key_file: %w", err)
		}
		cfg.Archive.SecretKey = val
	}
	return nil
}

func readSecretFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
