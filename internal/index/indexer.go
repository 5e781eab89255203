package index

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markerlab/ragserve/internal/chunk"
	"github.com/markerlab/ragserve/internal/config"
	"github.com/markerlab/ragserve/internal/embed"
	"github.com/markerlab/ragserve/internal/store"
)

// Report summarizes one indexing run.
type Report struct {
	DocID         string `json:"doc_id"`
	ChunksCreated int    `json:"chunks_created"`
	BytesIn       int    `json:"bytes_in"`
	ElapsedMS     int64  `json:"elapsed_ms"`
	Cleared       bool   `json:"cleared,omitempty"`
}

// Indexer turns documents into embedded chunks and stores them. Writes
// to the same document are serialized by a per-document mutex; different
// documents index concurrently, with embedding concurrency capped by the
// config snapshot's embed_max_inflight.
type Indexer struct {
	collection *store.Collection
	embedder   embed.Embedder
	cfg        *config.Store
	logger     *slog.Logger

	docLocks keyedMutex
}

// New creates an indexer.
func New(collection *store.Collection, embedder embed.Embedder, cfg *config.Store, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{
		collection: collection,
		embedder:   embedder,
		cfg:        cfg,
		logger:     logger,
	}
}

// IndexDocument chunks, embeds and stores a document. When the document
// is already indexed its chunks are replaced wholesale. clearExisting
// wipes the entire collection first.
func (ix *Indexer) IndexDocument(ctx context.Context, docID, content string, kind chunk.Kind, clearExisting bool) (*Report, error) {
	start := time.Now()
	snap := ix.cfg.Get()

	unlock := ix.docLocks.lock(docID)
	defer unlock()

	if clearExisting {
		if err := ix.collection.Clear(ctx); err != nil {
			return nil, err
		}
	}

	chunker := chunk.New(chunk.Options{
		ChunkSize:    snap.ChunkSize,
		ChunkOverlap: snap.ChunkOverlap,
		MinChunkSize: snap.MinChunkSize,
	}, ix.logger)
	chunks, err := chunker.Chunk(docID, content, kind)
	if err != nil {
		return nil, err
	}

	vectors, err := ix.embedChunks(ctx, chunks, snap.EmbedBatchSize, snap.EmbedMaxInflight)
	if err != nil {
		return nil, err
	}

	// Replace-on-reindex: drop the previous version only after the new
	// one embedded cleanly, so failures leave the old chunks queryable.
	if !clearExisting {
		if _, err := ix.collection.DeleteDoc(ctx, docID); err != nil {
			return nil, err
		}
	}
	if err := ix.collection.Upsert(ctx, chunks, vectors); err != nil {
		return nil, err
	}

	report := &Report{
		DocID:         docID,
		ChunksCreated: len(chunks),
		BytesIn:       len(content),
		ElapsedMS:     time.Since(start).Milliseconds(),
		Cleared:       clearExisting,
	}
	ix.logger.Info("document indexed",
		"doc_id", docID,
		"chunks", report.ChunksCreated,
		"bytes", report.BytesIn,
		"elapsed_ms", report.ElapsedMS)
	return report, nil
}

// embedChunks embeds all chunks in API-sized batches. Batches run
// concurrently up to maxInflight; results land at their batch offset so
// chunk order is preserved.
func (ix *Indexer) embedChunks(ctx context.Context, chunks []chunk.Chunk, batchSize, maxInflight int) ([][]float32, error) {
	if batchSize <= 0 {
		batchSize = embed.DefaultBatchSize
	}
	if maxInflight <= 0 {
		maxInflight = 1
	}

	vectors := make([][]float32, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxInflight)

	for start := 0; start < len(chunks); start += batchSize {
		start := start
		end := min(start+batchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, end-start)
			for i := start; i < end; i++ {
				texts[i-start] = chunks[i].Text
			}
			batch, err := ix.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				return err
			}
			copy(vectors[start:end], batch)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return vectors, nil
}

// keyedMutex serializes work per key. Entries are retained for the
// process lifetime; the key space is document IDs, which stays small.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
