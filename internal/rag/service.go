package rag

import (
	"context"
	"log/slog"

	"github.com/markerlab/ragserve/internal/chunk"
	"github.com/markerlab/ragserve/internal/config"
	"github.com/markerlab/ragserve/internal/embed"
	"github.com/markerlab/ragserve/internal/generate"
	"github.com/markerlab/ragserve/internal/index"
	"github.com/markerlab/ragserve/internal/retrieve"
	"github.com/markerlab/ragserve/internal/store"
)

// Service wires the pipeline together and exposes the operations both
// the HTTP surface and the CLI sit on.
type Service struct {
	cfg        *config.Store
	embedder   embed.Embedder
	collection *store.Collection
	generator  generate.Generator
	indexer    *index.Indexer
	retriever  *retrieve.Retriever
	logger     *slog.Logger
}

// New assembles a service from its parts.
func New(cfg *config.Store, embedder embed.Embedder, collection *store.Collection, generator generate.Generator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:        cfg,
		embedder:   embedder,
		collection: collection,
		generator:  generator,
		indexer:    index.New(collection, embedder, cfg, logger),
		retriever:  retrieve.New(collection, embedder, cfg, logger),
		logger:     logger,
	}
}

// Config returns the live config store.
func (s *Service) Config() *config.Store { return s.cfg }

// Index chunks, embeds and stores one document.
func (s *Service) Index(ctx context.Context, docID, content string, kind chunk.Kind, clearExisting bool) (*index.Report, error) {
	return s.indexer.IndexDocument(ctx, docID, content, kind, clearExisting)
}

// Answer retrieves context for the query and generates a grounded
// answer. With no usable context it refuses deterministically and the
// generator is never called.
func (s *Service) Answer(ctx context.Context, query string, opts Options) (*QueryResult, error) {
	snap := s.cfg.Get()

	hits, err := s.retriever.Retrieve(ctx, query, opts.TopK)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		s.logger.Info("query refused for lack of context", "query", query)
		return &QueryResult{
			Query:      query,
			Answer:     RefusalAnswer,
			Sources:    []Source{},
			ModelID:    s.generator.ModelID(),
			Confidence: 0,
		}, nil
	}

	prompt := BuildPrompt(query, hits, snap)
	completion, err := s.generator.Generate(ctx, prompt, generate.Params{
		Temperature: snap.Temperature,
		MaxTokens:   snap.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	result := &QueryResult{
		Query:           query,
		Answer:          completion.Text,
		Sources:         make([]Source, 0, len(hits)),
		ModelID:         s.generator.ModelID(),
		TokensGenerated: completion.TokensGenerated,
		Confidence:      confidence(hits),
	}
	for _, h := range hits {
		result.Sources = append(result.Sources, Source{
			DocID:      h.Chunk.DocID,
			ChunkIndex: h.Chunk.Index,
			Heading:    h.Chunk.Heading,
			Similarity: h.Similarity,
			Excerpt:    truncateRunes(h.Chunk.Text, 200),
		})
	}
	if opts.IncludeChunks {
		result.RetrievedChunks = make([]RetrievedChunk, 0, len(hits))
		for _, h := range hits {
			result.RetrievedChunks = append(result.RetrievedChunks, RetrievedChunk{
				ChunkID:     h.Chunk.ID,
				DocID:       h.Chunk.DocID,
				ChunkIndex:  h.Chunk.Index,
				Text:        h.Chunk.Text,
				Heading:     h.Chunk.Heading,
				SectionPath: h.Chunk.SectionPath,
				PageNumber:  h.Chunk.PageNumber,
				Similarity:  h.Similarity,
			})
		}
	}
	return result, nil
}

// confidence is the best similarity among hits, clamped to [0,1].
func confidence(hits []store.Hit) float32 {
	var best float32
	for _, h := range hits {
		if h.Similarity > best {
			best = h.Similarity
		}
	}
	if best > 1 {
		best = 1
	}
	if best < 0 {
		best = 0
	}
	return best
}

// Clear wipes the collection.
func (s *Service) Clear(ctx context.Context) error {
	return s.collection.Clear(ctx)
}

// Stats reports store and model statistics plus the config snapshot.
func (s *Service) Stats(ctx context.Context) (*StatsReport, error) {
	snap := s.cfg.Get()
	stats, err := s.collection.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsReport{
		VectorStore: VectorStoreStats{
			CollectionName: snap.CollectionName,
			DocumentCount:  stats.Documents,
			DBPath:         snap.VectorDBPath,
		},
		EmbeddingModel: EmbeddingModelStats{
			ModelName:          s.embedder.ModelName(),
			EmbeddingDimension: s.embedder.Dimensions(),
			Device:             "cpu",
		},
		Config:        snap,
		PromptVersion: PromptVersion,
	}, nil
}

// Health runs synchronous readiness checks against every dependency.
func (s *Service) Health(ctx context.Context) *HealthReport {
	snap := s.cfg.Get()
	report := &HealthReport{
		RagEnabled:               snap.Enabled,
		EmbeddingsModelAvailable: s.embedder.Dimensions() > 0 && s.embedder.Available(ctx),
		GeneratorAvailable:       s.generator.Healthy(ctx),
	}
	_, err := s.collection.Stats(ctx)
	report.VectorStoreReady = err == nil

	switch {
	case !report.RagEnabled:
		report.Message = "rag is disabled by configuration"
	case report.EmbeddingsModelAvailable && report.VectorStoreReady && report.GeneratorAvailable:
		report.Message = "all systems operational"
	default:
		report.Message = "one or more backends unavailable"
	}
	return report
}
