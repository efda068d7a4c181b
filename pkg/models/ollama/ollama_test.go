package ollama

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nstogner/autofix/pkg/models"
)

func TestGenerate(t *testing.T) {
	var got generateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/generate", r.URL.Path)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"response": "print(1)", "done": true})
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL + "/", NumCtx: 2048})
	resp, err := c.Generate(context.Background(), "fix it", models.GenerateOptions{Format: models.FormatJSON})
	require.NoError(t, err)
	assert.Equal(t, "print(1)", resp)

	assert.Equal(t, DefaultModel, got.Model)
	assert.Equal(t, "fix it", got.Prompt)
	assert.False(t, got.Stream)
	assert.Equal(t, "json", got.Format)
	assert.Equal(t, map[string]int{"num_gpu": 0, "num_ctx": 2048}, got.Options)
}

func TestGenerate_ErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model 'codellama:7b-instruct' not found"}`))
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL}).Generate(context.Background(), "x", models.GenerateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestGenerate_StatusWithoutErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"response":"print(1)"}`))
	}))
	defer srv.Close()

	_, err := New(Config{URL: srv.URL}).Generate(context.Background(), "x", models.GenerateOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")

	_, err = New(Config{URL: srv.URL}).List(context.Background())
	assert.Error(t, err)
}

func TestGenerate_EmptyAndUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"response":"","done":true}`))
	}))
	resp, err := New(Config{URL: srv.URL}).Generate(context.Background(), "x", models.GenerateOptions{})
	require.NoError(t, err)
	assert.Empty(t, resp)
	srv.Close()

	_, err = New(Config{URL: srv.URL}).Generate(context.Background(), "x", models.GenerateOptions{})
	assert.Error(t, err)
}

func TestList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/tags", r.URL.Path)
		_, _ = w.Write([]byte(`{"models":[{"name":"codellama:7b-instruct"},{"name":"llama3:8b"}]}`))
	}))
	defer srv.Close()

	names, err := New(Config{URL: srv.URL}).List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"codellama:7b-instruct", "llama3:8b"}, names)
}
