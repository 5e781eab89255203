package retrieve

import (
	"context"
	"log/slog"
	"strings"

	"github.com/markerlab/ragserve/internal/config"
	"github.com/markerlab/ragserve/internal/embed"
	"github.com/markerlab/ragserve/internal/ragerr"
	"github.com/markerlab/ragserve/internal/store"
)

// Retriever embeds queries and searches the collection, applying the
// similarity threshold from the current config snapshot.
type Retriever struct {
	collection *store.Collection
	embedder   embed.Embedder
	cfg        *config.Store
	logger     *slog.Logger
}

// New creates a retriever.
func New(collection *store.Collection, embedder embed.Embedder, cfg *config.Store, logger *slog.Logger) *Retriever {
	if logger == nil {
		logger = slog.Default()
	}
	return &Retriever{
		collection: collection,
		embedder:   embedder,
		cfg:        cfg,
		logger:     logger,
	}
}

// Retrieve returns up to topK chunks relevant to the query, ordered by
// descending similarity. topK <= 0 uses the configured default.
//
// The search over-fetches twice the requested amount, then keeps only
// hits at or above similarity_threshold. When nothing clears the
// threshold the result is empty; the caller turns that into a refusal
// rather than generating from weak context.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]store.Hit, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ragerr.New(ragerr.CodeQueryEmpty, "query must not be empty", nil)
	}
	snap := r.cfg.Get()
	if topK <= 0 {
		topK = snap.TopK
	}

	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := r.collection.Search(ctx, vector, topK*2)
	if err != nil {
		return nil, err
	}
	hits = dedupe(hits)

	threshold := float32(snap.SimilarityThreshold)
	kept := make([]store.Hit, 0, len(hits))
	for _, h := range hits {
		if h.Similarity >= threshold {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 && len(hits) > 0 {
		r.logger.Debug("no hits met the similarity threshold",
			"threshold", threshold, "best", hits[0].Similarity)
	}

	if len(kept) > topK {
		kept = kept[:topK]
	}
	return kept, nil
}

// dedupe drops repeated chunk IDs, keeping the first (highest) hit.
func dedupe(hits []store.Hit) []store.Hit {
	seen := make(map[string]struct{}, len(hits))
	out := hits[:0]
	for _, h := range hits {
		if _, dup := seen[h.Chunk.ID]; dup {
			continue
		}
		seen[h.Chunk.ID] = struct{}{}
		out = append(out, h)
	}
	return out
}
