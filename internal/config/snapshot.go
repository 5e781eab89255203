// Package config holds the runtime configuration of the RAG pipeline.
//
// Configuration is exposed as immutable snapshots: readers call Store.Get
// and keep the returned pointer for the duration of one operation, writers
// build a validated copy and swap it atomically. A request never observes
// a half-applied update.
package config

import (
	"fmt"
	"math"

	"github.com/markerlab/ragserve/internal/ragerr"
)

// Snapshot is one immutable configuration state.
// Field names match the JSON wire format of /api/rag/config.
type Snapshot struct {
	// Enabled is the master switch; when false, /index and /query return 503.
	Enabled bool `json:"enabled"`

	// Chunking settings.
	ChunkSize    int `json:"chunk_size"`
	ChunkOverlap int `json:"chunk_overlap"`
	MinChunkSize int `json:"min_chunk_size"`

	// Embedding settings. EmbeddingModel and EmbeddingDimension are frozen
	// once a collection exists; changing them requires a full rebuild.
	EmbedBatchSize     int    `json:"embed_batch_size"`
	EmbedMaxInflight   int    `json:"embed_max_inflight"`
	EmbeddingModel     string `json:"embedding_model"`
	EmbeddingDimension int    `json:"embedding_dimension"`

	// Storage settings, frozen at runtime.
	VectorDBPath   string `json:"vector_db_path"`
	CollectionName string `json:"collection_name"`

	// Retrieval settings.
	TopK                int     `json:"top_k"`
	SimilarityThreshold float64 `json:"similarity_threshold"`

	// Generator settings.
	GeneratorEndpoint string  `json:"generator_endpoint"`
	GeneratorModel    string  `json:"generator_model"`
	Temperature       float64 `json:"temperature"`
	MaxTokens         int     `json:"max_tokens"`
	ContextWindow     int     `json:"context_window"`
	ContextChunkChars int     `json:"context_chunk_chars"`
}

// Default returns the baseline snapshot.
// EmbeddingDimension 0 means "derive from the embedder at startup".
func Default() Snapshot {
	return Snapshot{
		Enabled:             true,
		ChunkSize:           800,
		ChunkOverlap:        100,
		MinChunkSize:        100,
		EmbedBatchSize:      32,
		EmbedMaxInflight:    2,
		EmbeddingModel:      "nomic-embed-text",
		EmbeddingDimension:  0,
		VectorDBPath:        "./data/ragserve",
		CollectionName:      "documents",
		TopK:                5,
		SimilarityThreshold: 0.3,
		GeneratorEndpoint:   "http://localhost:11434",
		GeneratorModel:      "gemma2:2b",
		Temperature:         0.3,
		MaxTokens:           512,
		ContextWindow:       2048,
		ContextChunkChars:   2000,
	}
}

// MaxChunkBytes is the hard byte ceiling per chunk, guarding against
// text where the token estimate degenerates.
func (s *Snapshot) MaxChunkBytes() int {
	return 8 * s.ChunkSize
}

// immutableFields cannot be modified through Update. EmbeddingDimension is
// derived from the embedder, the rest select storage that already exists.
var immutableFields = map[string]bool{
	"embedding_model":     true,
	"embedding_dimension": true,
	"vector_db_path":      true,
	"collection_name":     true,
}

// Validate checks all range invariants. It is called on every load and
// before every snapshot swap, so an invalid snapshot is never published.
func (s *Snapshot) Validate() error {
	if s.ChunkSize < 200 || s.ChunkSize > 2000 {
		return ragerr.Validationf("chunk_size must be in [200, 2000], got %d", s.ChunkSize)
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap > 500 {
		return ragerr.Validationf("chunk_overlap must be in [0, 500], got %d", s.ChunkOverlap)
	}
	if s.ChunkOverlap >= s.ChunkSize {
		return ragerr.Validationf("chunk_overlap (%d) must be smaller than chunk_size (%d)", s.ChunkOverlap, s.ChunkSize)
	}
	if s.MinChunkSize < 50 {
		return ragerr.Validationf("min_chunk_size must be at least 50, got %d", s.MinChunkSize)
	}
	if s.MinChunkSize > s.ChunkSize {
		return ragerr.Validationf("min_chunk_size (%d) must not exceed chunk_size (%d)", s.MinChunkSize, s.ChunkSize)
	}
	if s.EmbedBatchSize < 1 || s.EmbedBatchSize > 256 {
		return ragerr.Validationf("embed_batch_size must be in [1, 256], got %d", s.EmbedBatchSize)
	}
	if s.EmbedMaxInflight < 1 {
		return ragerr.Validationf("embed_max_inflight must be at least 1, got %d", s.EmbedMaxInflight)
	}
	if s.TopK < 1 || s.TopK > 20 {
		return ragerr.Validationf("top_k must be in [1, 20], got %d", s.TopK)
	}
	if s.SimilarityThreshold < 0 || s.SimilarityThreshold > 1 {
		return ragerr.Validationf("similarity_threshold must be in [0, 1], got %g", s.SimilarityThreshold)
	}
	if s.Temperature < 0 || s.Temperature > 1 {
		return ragerr.Validationf("temperature must be in [0, 1], got %g", s.Temperature)
	}
	if s.MaxTokens < 1 || s.MaxTokens > 8192 {
		return ragerr.Validationf("max_tokens must be in [1, 8192], got %d", s.MaxTokens)
	}
	if s.ContextWindow < 512 || s.ContextWindow > 32768 {
		return ragerr.Validationf("context_window must be in [512, 32768], got %d", s.ContextWindow)
	}
	if s.ContextChunkChars < 200 || s.ContextChunkChars > 8000 {
		return ragerr.Validationf("context_chunk_chars must be in [200, 8000], got %d", s.ContextChunkChars)
	}
	if s.VectorDBPath == "" {
		return ragerr.Validation("vector_db_path must not be empty")
	}
	if s.CollectionName == "" {
		return ragerr.Validation("collection_name must not be empty")
	}
	if s.GeneratorEndpoint == "" {
		return ragerr.Validation("generator_endpoint must not be empty")
	}
	return nil
}

// apply sets one field from a JSON patch value. JSON numbers arrive as
// float64 regardless of the target type.
func (s *Snapshot) apply(field string, value any) error {
	switch field {
	case "enabled":
		return setBool(&s.Enabled, field, value)
	case "chunk_size":
		return setInt(&s.ChunkSize, field, value)
	case "chunk_overlap":
		return setInt(&s.ChunkOverlap, field, value)
	case "min_chunk_size":
		return setInt(&s.MinChunkSize, field, value)
	case "embed_batch_size":
		return setInt(&s.EmbedBatchSize, field, value)
	case "embed_max_inflight":
		return setInt(&s.EmbedMaxInflight, field, value)
	case "top_k":
		return setInt(&s.TopK, field, value)
	case "similarity_threshold":
		return setFloat(&s.SimilarityThreshold, field, value)
	case "generator_endpoint":
		return setString(&s.GeneratorEndpoint, field, value)
	case "generator_model":
		return setString(&s.GeneratorModel, field, value)
	case "temperature":
		return setFloat(&s.Temperature, field, value)
	case "max_tokens":
		return setInt(&s.MaxTokens, field, value)
	case "context_window":
		return setInt(&s.ContextWindow, field, value)
	case "context_chunk_chars":
		return setInt(&s.ContextChunkChars, field, value)
	default:
		if immutableFields[field] {
			return ragerr.Immutable(field)
		}
		return ragerr.Validationf("unknown config field %q", field)
	}
}

func setBool(dst *bool, field string, value any) error {
	v, ok := value.(bool)
	if !ok {
		return ragerr.Validationf("field %q expects a boolean, got %T", field, value)
	}
	*dst = v
	return nil
}

func setInt(dst *int, field string, value any) error {
	switch v := value.(type) {
	case int:
		*dst = v
	case float64:
		if v != math.Trunc(v) {
			return ragerr.Validationf("field %q expects an integer, got %v", field, v)
		}
		*dst = int(v)
	default:
		return ragerr.Validationf("field %q expects an integer, got %T", field, value)
	}
	return nil
}

func setFloat(dst *float64, field string, value any) error {
	switch v := value.(type) {
	case float64:
		*dst = v
	case int:
		*dst = float64(v)
	default:
		return ragerr.Validationf("field %q expects a number, got %T", field, value)
	}
	return nil
}

func setString(dst *string, field string, value any) error {
	v, ok := value.(string)
	if !ok {
		return ragerr.Validationf("field %q expects a string, got %T", field, value)
	}
	if v == "" {
		return ragerr.Validationf("field %q must not be empty", field)
	}
	*dst = v
	return nil
}

// String renders a short identity for logs.
func (s *Snapshot) String() string {
	return fmt.Sprintf("config{collection=%s model=%s dim=%d chunk=%d/%d}",
		s.CollectionName, s.EmbeddingModel, s.EmbeddingDimension, s.ChunkSize, s.ChunkOverlap)
}
