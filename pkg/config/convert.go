package config

import (
	"github.com/nstogner/autofix/pkg/extract"
	"github.com/nstogner/autofix/pkg/models/ollama"
	"github.com/nstogner/autofix/pkg/runner"
	"github.com/nstogner/autofix/pkg/sandbox"
	"github.com/nstogner/autofix/pkg/sandbox/docker"
	"github.com/nstogner/autofix/pkg/store/objstore"
)

// DockerConfig builds the container runtime configuration.
func (c SandboxConfig) DockerConfig() docker.Config {
	images := make(map[sandbox.Language]string, len(c.Images))
	for lang, image := range c.Images {
		if l, err := sandbox.ParseLanguage(lang); err == nil {
			images[l] = image
		}
	}
	return docker.Config{
		Images:  images,
		WorkDir: c.WorkDir,
		User:    c.User,
		Limits: sandbox.Limits{
			MemoryBytes:    int64(c.Memory),
			NanoCPUs:       int64(c.CPUs * 1e9),
			CPUShares:      c.CPUShares,
			PidsLimit:      c.PidsLimit,
			Timeout:        c.Timeout,
			MaxOutputBytes: int(c.MaxOutput),
		},
	}
}

// RunnerConfig builds the repair loop configuration.
func (c *Config) RunnerConfig() runner.Config {
	rc := runner.DefaultConfig()
	rc.MaxAttempts = c.Runner.MaxAttempts
	rc.OracleTimeout = c.Runner.OracleTimeout
	rc.Model = c.Provider.Model
	if c.Runner.StrictExtraction {
		rc.Extractor = extract.Strict
	}
	return rc
}

// OllamaConfig builds the Ollama client configuration.
func (c ProviderConfig) OllamaConfig() ollama.Config {
	return ollama.Config{
		URL:     c.Ollama.URL,
		Model:   c.Model,
		NumGPU:  c.Ollama.NumGPU,
		NumCtx:  c.Ollama.NumCtx,
		Timeout: c.Ollama.Timeout,
	}
}

// ObjstoreConfig builds the archive configuration.
func (c ArchiveConfig) ObjstoreConfig() objstore.Config {
	return objstore.Config{
		Endpoint:  c.Endpoint,
		Region:    c.Region,
		AccessKey: c.AccessKey,
		SecretKey: c.SecretKey,
		Bucket:    c.Bucket,
		UseSSL:    c.UseSSL,
		Prefix:    c.Prefix,
	}
}
