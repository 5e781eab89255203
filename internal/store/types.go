package store

import (
	"log/slog"

	"github.com/markerlab/ragserve/internal/chunk"
)

// On-disk layout inside the collection directory.
const (
	VectorsFileName  = "vectors.hnsw"
	MetaFileName     = "vectors.hnsw.meta"
	ChunksDBFileName = "chunks.db"
	LockFileName     = ".collection.lock"
)

// HNSW graph parameter defaults.
const (
	defaultM        = 16
	defaultEfSearch = 20
)

// Options configures a Collection.
type Options struct {
	// Dir is the collection directory; created if missing.
	Dir string
	// Dimensions is the embedding dimension all vectors must match.
	Dimensions int
	// Model records which embedding model produced the vectors.
	Model string
	// Name identifies the collection in logs and stats.
	Name string

	M        int
	EfSearch int

	Logger *slog.Logger
}

// Hit is one search result with its hydrated chunk.
type Hit struct {
	Chunk      chunk.Chunk
	Similarity float32
}

// Stats summarizes collection contents.
type Stats struct {
	Chunks     int
	Documents  int
	Dimensions int
	Model      string
}
