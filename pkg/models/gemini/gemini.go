package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"slices"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/nstogner/autofix/pkg/models"
)

const (
	// LevelTrace is a custom log level for detailed HTTP traffic.
	LevelTrace = slog.Level(-8)

	// DefaultModel is used when neither the provider nor the call names one.
	DefaultModel = "gemini-2.0-flash"
)

// GeminiModel implements models.Provider using the Google Gemini API.
type GeminiModel struct {
	client       *genai.Client
	defaultModel string
}

// Verify interface compliance.
var _ models.Provider = (*GeminiModel)(nil)

// New creates a new GeminiModel. An empty model selects DefaultModel.
func New(ctx context.Context, apiKey, model string) (*GeminiModel, error) {
	httpClient := &http.Client{
		Transport: &traceTransport{
			base:   http.DefaultTransport,
			apiKey: apiKey,
		},
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey), option.WithHTTPClient(httpClient))
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	if model == "" {
		model = DefaultModel
	}
	return &GeminiModel{client: client, defaultModel: model}, nil
}

// traceTransport injects the API key and, at LevelTrace, logs every
// request and response with the key redacted.
type traceTransport struct {
	base   http.RoundTripper
	apiKey string
}

func (t *traceTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// A custom http.Client bypasses the library's own key injection.
	if t.apiKey != "" && req.Header.Get("x-goog-api-key") == "" && req.URL.Query().Get("key") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("x-goog-api-key", t.apiKey)
	}

	ctx := req.Context()
	if !slog.Default().Enabled(ctx, LevelTrace) {
		return t.base.RoundTrip(req)
	}

	if dump, err := httputil.DumpRequestOut(req, true); err == nil {
		slog.Log(ctx, LevelTrace, "Gemini request", "url", t.redact(req.URL.String()), "dump", t.redact(string(dump)))
	}

	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		slog.Log(ctx, LevelTrace, "Gemini request failed", "error", err, "elapsed", time.Since(start))
		return nil, err
	}

	// Streamed bodies are left unread.
	stream := strings.Contains(resp.Header.Get("Content-Type"), "text/event-stream") ||
		req.URL.Query().Get("alt") == "sse"
	if dump, err := httputil.DumpResponse(resp, !stream); err == nil {
		slog.Log(ctx, LevelTrace, "Gemini response", "status", resp.StatusCode, "stream", stream,
			"elapsed", time.Since(start), "dump", t.redact(string(dump)))
	}
	return resp, nil
}

func (t *traceTransport) redact(s string) string {
	if t.apiKey == "" {
		return s
	}
	return strings.ReplaceAll(s, t.apiKey, "REDACTED")
}

// Close releases resources.
func (m *GeminiModel) Close() {
	m.client.Close()
}

// List returns the models that can generate content, without the
// "models/" prefix so the names can be passed back to Generate.
func (m *GeminiModel) List(ctx context.Context) ([]string, error) {
	it := m.client.ListModels(ctx)
	var infos []*genai.ModelInfo
	for {
		info, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("listing gemini models: %w", err)
		}
		infos = append(infos, info)
	}
	return generationModels(infos), nil
}

func generationModels(infos []*genai.ModelInfo) []string {
	var names []string
	for _, info := range infos {
		if !slices.Contains(info.SupportedGenerationMethods, "generateContent") {
			continue
		}
		names = append(names, strings.TrimPrefix(info.Name, "models/"))
	}
	slog.Debug("Listed Gemini models", "total", len(infos), "usable", len(names))
	return names
}

// Generate streams a single-turn completion and returns the joined text.
// A blocked prompt is an error; a reply without text is returned empty.
func (m *GeminiModel) Generate(ctx context.Context, prompt string, opts models.GenerateOptions) (string, error) {
	modelName := opts.Model
	if modelName == "" {
		modelName = m.defaultModel
	}
	slog.Debug("Gemini.Generate: Request Parameters", "model", modelName, "promptLen", len(prompt), "format", opts.Format)

	gm := m.client.GenerativeModel(modelName)
	if opts.Format == models.FormatJSON {
		gm.ResponseMIMEType = "application/json"
	}

	iter := gm.GenerateContentStream(ctx, genai.Text(prompt))
	return collect(iter)
}

type responseIterator interface {
	Next() (*genai.GenerateContentResponse, error)
}

func collect(iter responseIterator) (string, error) {
	var fullText strings.Builder
	for {
		resp, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return "", fmt.Errorf("gemini generate: %w", err)
		}
		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != genai.BlockReasonUnspecified {
			return "", fmt.Errorf("gemini blocked the prompt: %s", fb.BlockReason)
		}
		for _, cand := range resp.Candidates {
			if cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if txt, ok := part.(genai.Text); ok {
					fullText.WriteString(string(txt))
				}
			}
		}
	}
	if fullText.Len() == 0 {
		slog.Warn("Gemini returned no text")
	}
	return fullText.String(), nil
}
