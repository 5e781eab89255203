package embed

import (
	"context"
	"math"

	"github.com/markerlab/ragserve/internal/ragerr"
)

// Embedder turns text into dense vectors suitable for cosine similarity.
// Implementations must return unit-length vectors.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts. The result is
	// positionally aligned with the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Available reports whether the backend is reachable and the model loaded.
	Available(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

const (
	// DefaultOllamaHost is the standard local Ollama endpoint.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultOllamaModel is the preferred embedding model.
	DefaultOllamaModel = "nomic-embed-text"

	// DefaultDimensions is used when auto-detection is skipped.
	DefaultDimensions = 768

	// StaticDimensions is the dimension of the offline hash embedder.
	StaticDimensions = 384

	// DefaultBatchSize is the number of texts per /api/embed request.
	DefaultBatchSize = 32

	// DefaultMaxRetries bounds retry attempts per batch.
	DefaultMaxRetries = 3
)

// FallbackOllamaModels are tried in order when the configured model is
// not installed.
var FallbackOllamaModels = []string{
	"nomic-embed-text",
	"mxbai-embed-large",
	"all-minilm",
}

func errClosed() error {
	return ragerr.Internal("embedder is closed", nil)
}

// normalizeVector scales v to unit length. Zero vectors pass through
// unchanged so empty inputs stay representable.
func normalizeVector(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	norm := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= norm
	}
	return v
}
