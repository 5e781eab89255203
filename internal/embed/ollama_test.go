package embed

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markerlab/ragserve/internal/ragerr"
)

// fakeOllama serves /api/tags and /api/embed the way Ollama does,
// returning a fixed-dimension vector per input text.
type fakeOllama struct {
	models     []string
	dims       int
	embedCalls atomic.Int64
	failFirst  int64
}

func (f *fakeOllama) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/tags", func(w http.ResponseWriter, r *http.Request) {
		models := make([]map[string]string, 0, len(f.models))
		for _, m := range f.models {
			models = append(models, map[string]string{"name": m})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"models": models})
	})
	mux.HandleFunc("/api/embed", func(w http.ResponseWriter, r *http.Request) {
		call := f.embedCalls.Add(1)
		if call <= f.failFirst {
			http.Error(w, "model is loading", http.StatusInternalServerError)
			return
		}
		var req struct {
			Model string `json:"model"`
			Input any    `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var texts []string
		switch in := req.Input.(type) {
		case string:
			texts = []string{in}
		case []any:
			for _, t := range in {
				texts = append(texts, t.(string))
			}
		}
		embeddings := make([][]float64, len(texts))
		for i := range texts {
			vec := make([]float64, f.dims)
			vec[i%f.dims] = 1
			embeddings[i] = vec
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model":      req.Model,
			"embeddings": embeddings,
		})
	})
	return mux
}

func newFakeOllama(t *testing.T, f *fakeOllama) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(f.handler())
	t.Cleanup(srv.Close)
	return srv
}

func TestOllamaEmbedder_DetectsDimensions(t *testing.T) {
	srv := newFakeOllama(t, &fakeOllama{models: []string{"nomic-embed-text:latest"}, dims: 8})

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "nomic-embed-text",
	}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, 8, e.Dimensions())
	assert.Equal(t, "nomic-embed-text:latest", e.ModelName())
	assert.True(t, e.Available(context.Background()))
}

func TestOllamaEmbedder_FallsBackWhenModelMissing(t *testing.T) {
	srv := newFakeOllama(t, &fakeOllama{models: []string{"all-minilm:latest"}, dims: 4})

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "nomic-embed-text",
	}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	assert.Equal(t, "all-minilm:latest", e.ModelName())
}

func TestOllamaEmbedder_NoModelAvailable(t *testing.T) {
	srv := newFakeOllama(t, &fakeOllama{models: []string{"llama3:8b"}, dims: 4})

	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  srv.URL,
		Model: "nomic-embed-text",
	}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ragerr.ErrModelMissing))
}

func TestOllamaEmbedder_BackendDown(t *testing.T) {
	_, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:  "http://127.0.0.1:1",
		Model: "nomic-embed-text",
	}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ragerr.ErrBackendUnavailable))
}

func TestOllamaEmbedder_EmbedNormalizes(t *testing.T) {
	srv := newFakeOllama(t, &fakeOllama{models: []string{"nomic-embed-text"}, dims: 4})

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, vec, 4)
	assert.InDelta(t, 1.0, vectorNorm(vec), 1e-5)
}

func TestOllamaEmbedder_EmptyTextSkipsBackend(t *testing.T) {
	fake := &fakeOllama{models: []string{"nomic-embed-text"}, dims: 4}
	srv := newFakeOllama(t, fake)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	calls := fake.embedCalls.Load()
	vec, err := e.Embed(context.Background(), "   ")
	require.NoError(t, err)
	assert.Equal(t, make([]float32, 4), vec)
	assert.Equal(t, calls, fake.embedCalls.Load())
}

func TestOllamaEmbedder_BatchAlignsWithInput(t *testing.T) {
	srv := newFakeOllama(t, &fakeOllama{models: []string{"nomic-embed-text"}, dims: 4})

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:      srv.URL,
		BatchSize: 2,
	}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "", "b", "c"})
	require.NoError(t, err)
	require.Len(t, vecs, 4)
	assert.Equal(t, make([]float32, 4), vecs[1])
	for i, v := range vecs {
		require.Len(t, v, 4, "vector %d", i)
	}
}

func TestOllamaEmbedder_RetriesServerFailures(t *testing.T) {
	fake := &fakeOllama{models: []string{"nomic-embed-text"}, dims: 4, failFirst: 2}
	srv := newFakeOllama(t, fake)

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{
		Host:       srv.URL,
		Dimensions: 4,
		MaxRetries: 3,
	}, nil)
	require.NoError(t, err)
	defer func() { _ = e.Close() }()

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, vec, 4)
	assert.GreaterOrEqual(t, fake.embedCalls.Load(), int64(3))
}

func TestOllamaEmbedder_ClosedRejectsCalls(t *testing.T) {
	srv := newFakeOllama(t, &fakeOllama{models: []string{"nomic-embed-text"}, dims: 4})

	e, err := NewOllamaEmbedder(context.Background(), OllamaConfig{Host: srv.URL}, nil)
	require.NoError(t, err)
	require.NoError(t, e.Close())

	_, err = e.Embed(context.Background(), "text")
	assert.Error(t, err)
	assert.False(t, e.Available(context.Background()))
}
