// Package ollama talks to a local Ollama server over its REST API.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nstogner/autofix/pkg/models"
)

const (
	DefaultURL   = "http://localhost:11434"
	DefaultModel = "codellama:7b-instruct"
)

// Config describes an Ollama endpoint.
type Config struct {
	URL   string
	Model string
	// NumGPU and NumCtx are passed through as generation options.
	NumGPU  int
	NumCtx  int
	Timeout time.Duration
}

// DefaultConfig runs the default model CPU-only with a small context.
func DefaultConfig() Config {
	return Config{
		URL:     DefaultURL,
		Model:   DefaultModel,
		NumGPU:  0,
		NumCtx:  2048,
		Timeout: 5 * time.Minute,
	}
}

// Client implements models.Provider against an Ollama server.
type Client struct {
	cfg  Config
	http *http.Client
}

// Verify interface compliance.
var _ models.Provider = (*Client)(nil)

func New(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	cfg.URL = strings.TrimRight(cfg.URL, "/")
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type generateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Format  string         `json:"format,omitempty"`
	Options map[string]int `json:"options"`
}

type generateResponse struct {
	Response string `json:"response"`
	Error    string `json:"error"`
}

// Generate calls /api/generate without streaming. An "error" field in the
// body is returned as an error even on a 200 response. An empty reply is
// returned as is.
func (c *Client) Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (string, error) {
	model := opts.Model
	if model == "" {
		model = c.cfg.Model
	}
	req := generateRequest{
		Model:  model,
		Prompt: prompt,
		Options: map[string]int{
			"num_gpu": c.cfg.NumGPU,
			"num_ctx": c.cfg.NumCtx,
		},
	}
	if opts.Format == models.FormatJSON {
		req.Format = "json"
	}

	var out generateResponse
	if err := c.do(ctx, http.MethodPost, "/api/generate", req, &out); err != nil {
		return "", err
	}
	if out.Error != "" {
		return "", fmt.Errorf("ollama API error: %s", out.Error)
	}
	slog.Debug("Ollama response received", "model", model, "len", len(out.Response))
	if strings.TrimSpace(out.Response) == "" {
		slog.Warn("Ollama returned an empty response", "model", model)
	}
	return out.Response, nil
}

// List returns the locally pulled models from /api/tags.
func (c *Client) List(ctx context.Context) ([]string, error) {
	var out struct {
		Models []struct {
			Name string `json:"name"`
		} `json:"models"`
		Error string `json:"error"`
	}
	if err := c.do(ctx, http.MethodGet, "/api/tags", nil, &out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, fmt.Errorf("ollama API error: %s", out.Error)
	}
	names := make([]string, 0, len(out.Models))
	for _, m := range out.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encoding ollama request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.URL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("calling ollama %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading ollama response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("ollama API error: %s (%s)", apiErr.Error, resp.Status)
		}
		return fmt.Errorf("ollama %s returned %s", path, resp.Status)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding ollama response: %w", err)
	}
	return nil
}
