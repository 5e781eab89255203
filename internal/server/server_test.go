package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markerlab/ragserve/internal/config"
	"github.com/markerlab/ragserve/internal/embed"
	"github.com/markerlab/ragserve/internal/generate"
	"github.com/markerlab/ragserve/internal/rag"
	"github.com/markerlab/ragserve/internal/store"
)

type stubGenerator struct {
	calls int
	reply string
}

func (g *stubGenerator) Generate(context.Context, string, generate.Params) (*generate.Completion, error) {
	g.calls++
	return &generate.Completion{Text: g.reply, TokensGenerated: 5}, nil
}
func (g *stubGenerator) ModelID() string              { return "stub-model" }
func (g *stubGenerator) Healthy(context.Context) bool { return true }

type testEnv struct {
	server *Server
	gen    *stubGenerator
	cfg    *config.Store
	dir    string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	embedder := embed.NewStaticEmbedder()
	dir := t.TempDir()
	collection, err := store.Open(store.Options{
		Dir:        filepath.Join(dir, "vectordb"),
		Dimensions: embedder.Dimensions(),
		Model:      embedder.ModelName(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = collection.Close() })

	snap := config.Default()
	snap.VectorDBPath = filepath.Join(dir, "vectordb")
	snap.SimilarityThreshold = 0
	cfg, err := config.NewStore(snap, nil)
	require.NoError(t, err)

	gen := &stubGenerator{reply: "RAG reduces hallucinations."}
	svc := rag.New(cfg, embedder, collection, gen, nil)
	return &testEnv{server: New(svc, nil), gen: gen, cfg: cfg, dir: dir}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func (e *testEnv) writeDoc(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const sampleDoc = `# Overview

Retrieval augmented generation reduces hallucinations.

## Details

It grounds the model in retrieved context before generating.
`

func TestServer_Health(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/rag/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	body := decode[map[string]any](t, w)
	assert.Equal(t, true, body["rag_enabled"])
	assert.Equal(t, true, body["embeddings_model_available"])
	assert.Equal(t, true, body["vector_store_ready"])
	assert.Equal(t, true, body["generator_available"])
}

func TestServer_IndexAndQuery(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeDoc(t, "doc.md", sampleDoc)

	w := env.do(t, http.MethodPost, "/api/rag/index", map[string]any{"file_path": path})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	idx := decode[map[string]any](t, w)
	assert.Equal(t, "success", idx["status"])
	assert.Equal(t, "doc.md", idx["filename"])
	assert.Greater(t, idx["chunks_created"].(float64), float64(0))

	w = env.do(t, http.MethodPost, "/api/rag/query", map[string]any{
		"query": "What does RAG reduce?",
		"top_k": 2,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	result := decode[rag.QueryResult](t, w)
	assert.Equal(t, "RAG reduces hallucinations.", result.Answer)
	assert.Equal(t, "stub-model", result.ModelID)
	assert.NotEmpty(t, result.Sources)
	assert.Greater(t, result.Confidence, float32(0))
	assert.Nil(t, result.RetrievedChunks)
	assert.Equal(t, 1, env.gen.calls)
}

func TestServer_QueryIncludeChunks(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeDoc(t, "doc.md", sampleDoc)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/rag/index", map[string]any{"file_path": path}).Code)

	w := env.do(t, http.MethodPost, "/api/rag/query", map[string]any{
		"query":          "grounding",
		"include_chunks": true,
	})
	require.Equal(t, http.StatusOK, w.Code)
	result := decode[rag.QueryResult](t, w)
	assert.NotEmpty(t, result.RetrievedChunks)
	assert.NotEmpty(t, result.RetrievedChunks[0].Text)
}

func TestServer_QueryRefusalOnEmptyStore(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/rag/query", map[string]any{"query": "population of Mars"})
	require.Equal(t, http.StatusOK, w.Code)
	result := decode[rag.QueryResult](t, w)
	assert.Equal(t, rag.RefusalAnswer, result.Answer)
	assert.Empty(t, result.Sources)
	assert.Zero(t, result.Confidence)
	assert.Zero(t, env.gen.calls)
}

func TestServer_QueryValidation(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name string
		body map[string]any
	}{
		{"empty query", map[string]any{"query": "  "}},
		{"top_k too large", map[string]any{"query": "x", "top_k": 25}},
		{"top_k negative", map[string]any{"query": "x", "top_k": -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, "/api/rag/query", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			body := decode[map[string]any](t, w)
			assert.NotEmpty(t, body["detail"])
		})
	}
}

func TestServer_IndexErrors(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodPost, "/api/rag/index", map[string]any{"file_path": "/no/such/file.md"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	pdf := env.writeDoc(t, "doc.pdf", "binary")
	w = env.do(t, http.MethodPost, "/api/rag/index", map[string]any{"file_path": pdf})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, http.MethodPost, "/api/rag/index", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	empty := env.writeDoc(t, "empty.md", "   ")
	w = env.do(t, http.MethodPost, "/api/rag/index", map[string]any{"file_path": empty})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_ConfigRoundTrip(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/rag/config", nil)
	require.Equal(t, http.StatusOK, w.Code)
	got := decode[map[string]any](t, w)
	assert.EqualValues(t, config.Default().TopK, got["top_k"])

	w = env.do(t, http.MethodPut, "/api/rag/config", map[string]any{"top_k": 7, "temperature": 0.5})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	after := decode[map[string]any](t, w)
	assert.EqualValues(t, 7, after["top_k"])
	assert.EqualValues(t, 0.5, after["temperature"])

	// The update was persisted next to the vector store.
	_, err := os.Stat(filepath.Join(env.dir, "vectordb", config.ConfigFileName))
	assert.NoError(t, err)
}

func TestServer_ConfigRejections(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name  string
		patch map[string]any
	}{
		{"immutable field", map[string]any{"embedding_model": "other"}},
		{"unknown field", map[string]any{"no_such_field": 1}},
		{"out of range", map[string]any{"chunk_size": 10}},
		{"overlap exceeds size", map[string]any{"chunk_size": 1000, "chunk_overlap": 1500}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := env.cfg.Get()
			w := env.do(t, http.MethodPut, "/api/rag/config", tt.patch)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
			assert.Same(t, before, env.cfg.Get(), "rejected patch must not change the snapshot")
		})
	}
}

func TestServer_Clear(t *testing.T) {
	env := newTestEnv(t)
	path := env.writeDoc(t, "doc.md", sampleDoc)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/rag/index", map[string]any{"file_path": path}).Code)

	w := env.do(t, http.MethodPost, "/api/rag/clear", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = env.do(t, http.MethodGet, "/api/rag/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[rag.StatsReport](t, w)
	assert.Zero(t, stats.VectorStore.DocumentCount)

	// Queries refuse again after the wipe.
	w = env.do(t, http.MethodPost, "/api/rag/query", map[string]any{"query": "What does RAG reduce?"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, rag.RefusalAnswer, decode[rag.QueryResult](t, w).Answer)
}

func TestServer_Stats(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(t, http.MethodGet, "/api/rag/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stats := decode[rag.StatsReport](t, w)
	assert.Equal(t, "cpu", stats.EmbeddingModel.Device)
	assert.Equal(t, embed.StaticDimensions, stats.EmbeddingModel.EmbeddingDimension)
	assert.Equal(t, rag.PromptVersion, stats.PromptVersion)
	assert.NotNil(t, stats.Config)
}

func TestServer_DisabledReturns503(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.cfg.Update(map[string]any{"enabled": false})
	require.NoError(t, err)

	path := env.writeDoc(t, "doc.md", sampleDoc)
	w := env.do(t, http.MethodPost, "/api/rag/index", map[string]any{"file_path": path})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	w = env.do(t, http.MethodPost, "/api/rag/query", map[string]any{"query": "anything"})
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	// Health and config stay reachable.
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/rag/health", nil).Code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/rag/config", nil).Code)
}
