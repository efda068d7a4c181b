package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/nstogner/autofix/pkg/extract"
	"github.com/nstogner/autofix/pkg/sandbox"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

// isolate runs the test from an empty directory with no AUTOFIX_CONFIG.
func isolate(t *testing.T) {
	t.Helper()
	t.Chdir(t.TempDir())
	t.Setenv("AUTOFIX_CONFIG", "")
	t.Setenv("GEMINI_API_KEY", "")
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	assert.Equal(t, ":8000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 8, cfg.Runner.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Runner.OracleTimeout)
	assert.Equal(t, "python-runner", cfg.Sandbox.Images["python"])
	assert.Equal(t, "java-runner", cfg.Sandbox.Images["java"])
	assert.Equal(t, ByteSize(256<<20), cfg.Sandbox.Memory)
	assert.Equal(t, "ollama", cfg.Provider.Name)
	require.NoError(t, cfg.Validate())
}

func TestLoadFromYAML(t *testing.T) {
	isolate(t)
	path := writeTemp(t, "autofix.yaml", `
server:
  addr: ":9090"
  cors_origins: ["https://fix.example.com"]
data:
  dir: /var/lib/autofix
  max_upload_size: 20MB
sandbox:
  images:
    python: python:3.12-slim
  memory: 512m
  cpus: 1.5
  timeout: 30s
runner:
  max_attempts: 3
  oracle_timeout: 45s
  strict_extraction: true
provider:
  name: gemini
  model: gemini-2.0-pro
  gemini:
    api_key: secret
log:
  level: debug
  format: json
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, []string{"https://fix.example.com"}, cfg.Server.CORSOrigins)
	assert.Equal(t, "/var/lib/autofix", cfg.Data.Dir)
	assert.Equal(t, ByteSize(20<<20), cfg.Data.MaxUploadSize)
	assert.Equal(t, "python:3.12-slim", cfg.Sandbox.Images["python"])
	assert.Equal(t, "java-runner", cfg.Sandbox.Images["java"], "unset images keep their defaults")
	assert.Equal(t, 30*time.Second, cfg.Sandbox.Timeout)
	assert.Equal(t, 3, cfg.Runner.MaxAttempts)
	assert.Equal(t, "gemini", cfg.Provider.Name)
	assert.Equal(t, "json", cfg.Log.Format)

	dc := cfg.Sandbox.DockerConfig()
	assert.Equal(t, "python:3.12-slim", dc.Images[sandbox.LanguagePython])
	assert.Equal(t, int64(512<<20), dc.Limits.MemoryBytes)
	assert.Equal(t, int64(1_500_000_000), dc.Limits.NanoCPUs)

	rc := cfg.RunnerConfig()
	assert.Equal(t, 3, rc.MaxAttempts)
	assert.Equal(t, 45*time.Second, rc.OracleTimeout)
	assert.Equal(t, "gemini-2.0-pro", rc.Model)
	assert.Equal(t, extract.Strict, rc.Extractor)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	isolate(t)
	path := writeTemp(t, "autofix.yaml", "runner:\n  max_atempts: 3\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_atempts")
}

func TestLoadEmptyFile(t *testing.T) {
	isolate(t)
	cfg, err := Load(writeTemp(t, "autofix.yaml", ""))
	require.NoError(t, err)
	assert.Equal(t, Defaults().Server.Addr, cfg.Server.Addr)
}

func TestEnvOverrides(t *testing.T) {
	isolate(t)
	t.Setenv("AUTOFIX_ADDR", ":7000")
	t.Setenv("AUTOFIX_CORS_ORIGINS", "http://a.test, http://b.test,")
	t.Setenv("AUTOFIX_MAX_ATTEMPTS", "5")
	t.Setenv("AUTOFIX_ORACLE_TIMEOUT", "10s")
	t.Setenv("AUTOFIX_SANDBOX_MEMORY", "1g")
	t.Setenv("AUTOFIX_JAVA_IMAGE", "eclipse-temurin:21")
	t.Setenv("AUTOFIX_PROVIDER", "gemini")
	t.Setenv("GEMINI_API_KEY", "from-env")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":7000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.CORSOrigins)
	assert.Equal(t, 5, cfg.Runner.MaxAttempts)
	assert.Equal(t, 10*time.Second, cfg.Runner.OracleTimeout)
	assert.Equal(t, ByteSize(1<<30), cfg.Sandbox.Memory)
	assert.Equal(t, "eclipse-temurin:21", cfg.Sandbox.Images["java"])
	assert.Equal(t, "from-env", cfg.Provider.Gemini.APIKey)
}

func TestEnvOverridesInvalid(t *testing.T) {
	isolate(t)
	t.Setenv("AUTOFIX_MAX_ATTEMPTS", "many")
	t.Setenv("AUTOFIX_SANDBOX_TIMEOUT", "soon")

	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTOFIX_MAX_ATTEMPTS")
	assert.Contains(t, err.Error(), "AUTOFIX_SANDBOX_TIMEOUT")
}

func TestDotEnv(t *testing.T) {
	isolate(t)
	require.NoError(t, os.WriteFile(".env", []byte("AUTOFIX_LOG_LEVEL=debug\nAUTOFIX_ADDR=:1111\n"), 0o644))
	t.Setenv("AUTOFIX_ADDR", ":2222")
	// Registered so the value loaded from .env is cleared after the test.
	t.Setenv("AUTOFIX_LOG_LEVEL", "")
	require.NoError(t, os.Unsetenv("AUTOFIX_LOG_LEVEL"))

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, ":2222", cfg.Server.Addr, "process environment wins over .env")
}

func TestDiscoverConfigFile(t *testing.T) {
	isolate(t)
	assert.Equal(t, "", discoverConfigFile(""))

	require.NoError(t, os.WriteFile("autofix.yaml", []byte("log:\n  level: warn\n"), 0o644))
	assert.Equal(t, "autofix.yaml", discoverConfigFile(""))

	t.Setenv("AUTOFIX_CONFIG", "/etc/autofix.yaml")
	assert.Equal(t, "/etc/autofix.yaml", discoverConfigFile(""))
	assert.Equal(t, "explicit.yaml", discoverConfigFile("explicit.yaml"))
}

func TestFileReferences(t *testing.T) {
	isolate(t)
	keyFile := writeTemp(t, "key", "  file-secret\n")
	path := writeTemp(t, "autofix.yaml", "provider:\n  name: gemini\n  gemini:\n    api_key_file: "+keyFile+"\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "file-secret", cfg.Provider.Gemini.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "zero attempts", mutate: func(c *Config) { c.Runner.MaxAttempts = 0 }, want: "runner.max_attempts"},
		{name: "unknown provider", mutate: func(c *Config) { c.Provider.Name = "openai" }, want: "provider.name"},
		{name: "gemini without key", mutate: func(c *Config) { c.Provider.Name = "gemini" }, want: "provider.gemini.api_key"},
		{name: "unknown image language", mutate: func(c *Config) { c.Sandbox.Images["rust"] = "rust" }, want: "sandbox.images"},
		{name: "archive without bucket", mutate: func(c *Config) {
			c.Archive.Enabled = true
			c.Archive.Endpoint = "localhost:9000"
		}, want: "archive.bucket"},
		{name: "bad log level", mutate: func(c *Config) { c.Log.Level = "loud" }, want: "log.level"},
		{name: "bad log format", mutate: func(c *Config) { c.Log.Format = "xml" }, want: "log.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestByteSize(t *testing.T) {
	var v struct {
		A ByteSize `yaml:"a"`
		B ByteSize `yaml:"b"`
		C ByteSize `yaml:"c"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 1024\nb: 256m\nc: 1.5GiB\n"), &v))
	assert.Equal(t, ByteSize(1024), v.A)
	assert.Equal(t, ByteSize(256<<20), v.B)
	assert.Equal(t, ByteSize(3<<29), v.C)

	assert.Error(t, yaml.Unmarshal([]byte("a: lots\n"), &v))
	assert.Equal(t, "256MiB", ByteSize(256<<20).String())
}

func TestSlogLevel(t *testing.T) {
	l, err := LogConfig{Level: "trace"}.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, LevelTrace, l)

	l, err = LogConfig{Level: "warn"}.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, "WARN", l.String())
}
