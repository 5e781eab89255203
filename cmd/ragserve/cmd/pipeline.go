package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/markerlab/ragserve/internal/config"
	"github.com/markerlab/ragserve/internal/embed"
	"github.com/markerlab/ragserve/internal/generate"
	"github.com/markerlab/ragserve/internal/logging"
	"github.com/markerlab/ragserve/internal/rag"
	"github.com/markerlab/ragserve/internal/store"
)

// pipelineOptions tune how much of the stack a command needs.
type pipelineOptions struct {
	// offline forces static hash embeddings regardless of the
	// configured backend.
	offline bool
	// checkGenerator verifies at startup that the generation model is
	// installed. Commands that never generate leave it off.
	checkGenerator bool
}

// pipeline is the assembled service stack shared by the CLI commands.
type pipeline struct {
	serverCfg *config.ServerConfig
	cfg       *config.Store
	svc       *rag.Service
	logger    *slog.Logger

	cleanups []func()
}

// close releases resources in reverse construction order.
func (p *pipeline) close() {
	for i := len(p.cleanups) - 1; i >= 0; i-- {
		p.cleanups[i]()
	}
}

// buildPipeline loads configuration, sets up logging and assembles the
// embedder, vector store, generator and service. The runtime snapshot is
// loaded from the data directory; its frozen fields are pinned to what
// the process actually runs with.
func buildPipeline(ctx context.Context, configPath string, opts pipelineOptions) (*pipeline, error) {
	serverCfg, err := config.LoadServerConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger, logCleanup, err := logging.Setup(logging.Config{
		Level:         serverCfg.LogLevel,
		FilePath:      serverCfg.LogFile,
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	})
	if err != nil {
		return nil, err
	}

	p := &pipeline{serverCfg: serverCfg, logger: logger}
	p.cleanups = append(p.cleanups, logCleanup)

	snap, err := config.LoadOrDefault(serverCfg.DataDir)
	if err != nil {
		p.close()
		return nil, err
	}
	// The snapshot lives next to the vector store; both are rooted at
	// the bootstrap data directory.
	snap.VectorDBPath = serverCfg.DataDir

	embedder, err := buildEmbedder(ctx, serverCfg, &snap, opts.offline, logger)
	if err != nil {
		p.close()
		return nil, err
	}
	p.cleanups = append(p.cleanups, func() { _ = embedder.Close() })

	snap.EmbeddingModel = embedder.ModelName()
	cfg, err := config.NewStore(snap, logger)
	if err != nil {
		p.close()
		return nil, err
	}
	cfg.SetDimension(embedder.Dimensions())
	p.cfg = cfg

	collection, err := store.Open(store.Options{
		Dir:        snap.VectorDBPath,
		Dimensions: embedder.Dimensions(),
		Model:      embedder.ModelName(),
		Name:       snap.CollectionName,
		Logger:     logger,
	})
	if err != nil {
		p.close()
		return nil, err
	}
	p.cleanups = append(p.cleanups, func() { _ = collection.Close() })

	gen, err := generate.NewOllamaGenerator(ctx, cfg, generate.OllamaConfig{
		CheckModel: opts.checkGenerator,
	}, logger)
	if err != nil {
		p.close()
		return nil, err
	}

	p.svc = rag.New(cfg, embedder, collection, gen, logger)
	return p, nil
}

func buildEmbedder(ctx context.Context, serverCfg *config.ServerConfig, snap *config.Snapshot, offline bool, logger *slog.Logger) (embed.Embedder, error) {
	backend := serverCfg.EmbedderBackend
	if offline {
		backend = "static"
	}

	var embedder embed.Embedder
	switch strings.ToLower(backend) {
	case "static":
		embedder = embed.NewStaticEmbedder()
	case "ollama":
		oe, err := embed.NewOllamaEmbedder(ctx, embed.OllamaConfig{
			Host:       serverCfg.OllamaHost,
			Model:      snap.EmbeddingModel,
			BatchSize:  snap.EmbedBatchSize,
			Dimensions: snap.EmbeddingDimension,
		}, logger)
		if err != nil {
			return nil, err
		}
		embedder = oe
	default:
		return nil, fmt.Errorf("unknown embedder backend %q", backend)
	}

	if serverCfg.EmbedCacheSize > 0 {
		embedder = embed.NewCachedEmbedder(embedder, serverCfg.EmbedCacheSize)
	}
	return embedder, nil
}
