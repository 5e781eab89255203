package config

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markerlab/ragserve/internal/ragerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(Default(), nil)
	require.NoError(t, err)
	return s
}

func TestDefault_IsValid(t *testing.T) {
	snap := Default()
	require.NoError(t, snap.Validate())
	assert.True(t, snap.Enabled)
	assert.Equal(t, 800, snap.ChunkSize)
	assert.Equal(t, 6400, snap.MaxChunkBytes())
}

func TestUpdate_AppliesMutableFields(t *testing.T) {
	store := newTestStore(t)

	// When: patching several mutable fields at once
	snap, err := store.Update(map[string]any{
		"chunk_size":           float64(1000),
		"top_k":                float64(3),
		"similarity_threshold": 0.5,
		"generator_model":      "llama3.2",
		"enabled":              false,
	})

	require.NoError(t, err)
	assert.Equal(t, 1000, snap.ChunkSize)
	assert.Equal(t, 3, snap.TopK)
	assert.InDelta(t, 0.5, snap.SimilarityThreshold, 1e-9)
	assert.Equal(t, "llama3.2", snap.GeneratorModel)
	assert.False(t, snap.Enabled)

	// Then: the published snapshot is the new one
	assert.Equal(t, snap, store.Get())
}

func TestUpdate_RejectsImmutableFields(t *testing.T) {
	store := newTestStore(t)
	before := store.Get()

	for _, field := range []string{"embedding_model", "embedding_dimension", "vector_db_path", "collection_name"} {
		_, err := store.Update(map[string]any{field: "other"})
		require.Error(t, err, field)
		assert.True(t, errors.Is(err, ragerr.ErrImmutableField), field)
	}

	// Then: nothing changed
	assert.Equal(t, before, store.Get())
}

func TestUpdate_RejectsUnknownField(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Update(map[string]any{"chunk_sizee": float64(500)})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ragerr.ErrValidation))
	assert.Contains(t, err.Error(), "chunk_sizee")
}

func TestUpdate_RejectedPatchLeavesSnapshotUntouched(t *testing.T) {
	store := newTestStore(t)
	before := store.Get()

	// When: a patch where one field is valid and one violates a range
	_, err := store.Update(map[string]any{
		"chunk_size":    float64(1000),
		"chunk_overlap": float64(1500),
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, ragerr.ErrValidation))
	assert.Same(t, before, store.Get())
}

func TestUpdate_RangeViolations(t *testing.T) {
	tests := []struct {
		name  string
		patch map[string]any
	}{
		{"chunk_size too small", map[string]any{"chunk_size": float64(100)}},
		{"chunk_size too large", map[string]any{"chunk_size": float64(5000)}},
		{"overlap equals chunk size", map[string]any{"chunk_size": float64(500), "chunk_overlap": float64(500)}},
		{"top_k zero", map[string]any{"top_k": float64(0)}},
		{"top_k too large", map[string]any{"top_k": float64(50)}},
		{"threshold above one", map[string]any{"similarity_threshold": 1.5}},
		{"temperature negative", map[string]any{"temperature": -0.1}},
		{"max_tokens zero", map[string]any{"max_tokens": float64(0)}},
		{"non-integer int field", map[string]any{"top_k": 2.5}},
		{"wrong type", map[string]any{"enabled": "yes"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t)
			_, err := store.Update(tt.patch)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ragerr.ErrValidation))
		})
	}
}

func TestSetDimension_WritesDerivedField(t *testing.T) {
	store := newTestStore(t)
	snap := store.SetDimension(768)
	assert.Equal(t, 768, snap.EmbeddingDimension)
	assert.Equal(t, 768, store.Get().EmbeddingDimension)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t)
	_, err := store.Update(map[string]any{"top_k": float64(7), "temperature": 0.9})
	require.NoError(t, err)

	require.NoError(t, store.Save(dir))

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, *store.Get(), loaded)
}

func TestLoad_MissingFileHasDistinctCode(t *testing.T) {
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ragerr.CodeConfigNotFound, ragerr.GetCode(err))

	snap, err := LoadOrDefault(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, Default(), snap)
}

func TestLoad_RejectsInvalidPersistedValues(t *testing.T) {
	dir := t.TempDir()
	bad := Default()
	bad.TopK = 99
	data, err := json.Marshal(bad)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), data, 0o644))

	_, err = Load(dir)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ragerr.ErrValidation))
}

func TestWatcher_ReloadsMutableFieldsOnly(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t)
	require.NoError(t, store.Save(dir))

	w := NewWatcher(store, dir, nil)
	w.debounce = 20 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	// When: config.json is edited externally, including a frozen field
	edited := Default()
	edited.TopK = 9
	edited.EmbeddingModel = "sneaky-swap"
	data, err := json.Marshal(edited)
	require.NoError(t, err)
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), data, 0o644))

	// Then: the mutable change lands, the frozen field does not
	require.Eventually(t, func() bool {
		return store.Get().TopK == 9
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, Default().EmbeddingModel, store.Get().EmbeddingModel)

	cancel()
	<-done
}

func TestServerConfig_EnvOverrides(t *testing.T) {
	t.Setenv("RAGSERVE_LISTEN_ADDR", "127.0.0.1:9999")
	t.Setenv("RAGSERVE_EMBEDDER", "static")

	cfg, err := LoadServerConfig("")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.ListenAddr)
	assert.Equal(t, "static", cfg.EmbedderBackend)
}

func TestServerConfig_YAMLOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragserve.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\ndata_dir: /tmp/rs\n"), 0o644))

	cfg, err := LoadServerConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "/tmp/rs", cfg.DataDir)
	// Untouched fields keep their defaults.
	assert.Equal(t, NewServerConfig().OllamaHost, cfg.OllamaHost)
}

func TestServerConfig_RejectsBadBackend(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ragserve.yaml")
	require.NoError(t, os.WriteFile(path, []byte("embedder_backend: gpu9000\n"), 0o644))

	_, err := LoadServerConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedder_backend")
}
