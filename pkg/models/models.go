package models

import (
	"context"
)

// Format hints at the shape of the response the caller expects.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// GenerateOptions tune a single Generate call.
type GenerateOptions struct {
	// Model overrides the provider's default model when set.
	Model string
	// Format asks the provider to constrain its output, where supported.
	Format Format
}

// Provider represents a service that provides LLMs (e.g. Gemini, Ollama).
// It is used as an opaque text-in, text-out oracle.
type Provider interface {
	// List returns the names of available models.
	List(ctx context.Context) ([]string, error)

	// Generate sends a prompt and returns the full response text.
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
}
