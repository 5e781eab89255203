package store

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/gob"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"

	"github.com/coder/hnsw"
	"github.com/gofrs/flock"

	"github.com/markerlab/ragserve/internal/chunk"
	"github.com/markerlab/ragserve/internal/ragerr"
)

// Collection is a persistent vector collection: an HNSW graph for
// similarity search plus a SQLite table holding chunk text and metadata.
// Vectors and rows are keyed by chunk ID and kept in step by Upsert,
// DeleteDoc and Clear. Safe for concurrent use.
type Collection struct {
	mu   sync.RWMutex
	dir  string
	name string
	dims int

	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64
	keyMap  map[uint64]string
	nextKey uint64

	db     *sql.DB
	lock   *flock.Flock
	logger *slog.Logger
	opts   Options
	closed bool
}

// graphMeta persists the string-to-key mappings alongside the graph.
type graphMeta struct {
	IDMap      map[string]uint64
	NextKey    uint64
	Dimensions int
	Model      string
}

// Open opens or creates the collection under opts.Dir. A file lock
// guards the directory against concurrent processes; Open fails fast
// when another process holds it.
func Open(opts Options) (*Collection, error) {
	if opts.Dir == "" {
		return nil, ragerr.Validation("collection directory is required")
	}
	if opts.Dimensions <= 0 {
		return nil, ragerr.Validation("collection dimensions must be positive")
	}
	if opts.M == 0 {
		opts.M = defaultM
	}
	if opts.EfSearch == 0 {
		opts.EfSearch = defaultEfSearch
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}

	lock := flock.New(filepath.Join(opts.Dir, LockFileName))
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	if !acquired {
		return nil, ragerr.New(ragerr.CodeStoreFailed,
			"collection is locked by another process", nil).
			WithDetail("dir", opts.Dir).
			WithSuggestion("stop the other ragserve instance or use a different vector_db_path")
	}

	db, err := openChunkDB(filepath.Join(opts.Dir, ChunksDBFileName))
	if err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	c := &Collection{
		dir:    opts.Dir,
		name:   opts.Name,
		dims:   opts.Dimensions,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
		db:     db,
		lock:   lock,
		logger: opts.Logger,
		opts:   opts,
	}
	c.graph = c.newGraph()

	if err := c.loadOrReset(); err != nil {
		_ = db.Close()
		_ = lock.Unlock()
		return nil, err
	}

	ctx := context.Background()
	if err := setMeta(ctx, db, "dimensions", strconv.Itoa(c.dims)); err == nil {
		_ = setMeta(ctx, db, "model", opts.Model)
	}
	return c, nil
}

func (c *Collection) newGraph() *hnsw.Graph[uint64] {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = c.opts.M
	g.EfSearch = c.opts.EfSearch
	g.Ml = 0.25
	return g
}

// loadOrReset loads the persisted graph and mappings. A corrupt or
// mismatched index is cleared rather than refused; the documents need
// reindexing either way and an empty collection keeps the service up.
func (c *Collection) loadOrReset() error {
	metaPath := filepath.Join(c.dir, MetaFileName)
	vectorsPath := filepath.Join(c.dir, VectorsFileName)

	if _, err := os.Stat(metaPath); os.IsNotExist(err) {
		return nil
	}

	err := c.loadGraph(vectorsPath, metaPath)
	if err == nil {
		return nil
	}
	c.logger.Warn("vector index unreadable, starting empty",
		"dir", c.dir, "error", err)

	_ = os.Remove(vectorsPath)
	_ = os.Remove(metaPath)
	c.graph = c.newGraph()
	c.idMap = make(map[string]uint64)
	c.keyMap = make(map[uint64]string)
	c.nextKey = 0
	if _, dbErr := c.db.ExecContext(context.Background(), `DELETE FROM chunks`); dbErr != nil {
		return ragerr.Wrap(ragerr.CodeStoreFailed, dbErr)
	}
	return nil
}

func (c *Collection) loadGraph(vectorsPath, metaPath string) error {
	metaFile, err := os.Open(metaPath)
	if err != nil {
		return ragerr.Wrap(ragerr.CodeCorruptIndex, err)
	}
	defer func() { _ = metaFile.Close() }()

	var meta graphMeta
	if err := gob.NewDecoder(metaFile).Decode(&meta); err != nil {
		return ragerr.Wrap(ragerr.CodeCorruptIndex, err)
	}
	if meta.Dimensions != c.dims {
		return ragerr.DimensionMismatch(c.dims, meta.Dimensions).
			WithDetail("dir", c.dir)
	}

	file, err := os.Open(vectorsPath)
	if err != nil {
		return ragerr.Wrap(ragerr.CodeCorruptIndex, err)
	}
	defer func() { _ = file.Close() }()

	graph := c.newGraph()
	// Import needs an io.ByteReader.
	if err := graph.Import(bufio.NewReader(file)); err != nil {
		return ragerr.Wrap(ragerr.CodeCorruptIndex, err)
	}

	c.graph = graph
	c.idMap = meta.IDMap
	c.nextKey = meta.NextKey
	c.keyMap = make(map[uint64]string, len(meta.IDMap))
	for id, key := range meta.IDMap {
		c.keyMap[key] = id
	}
	return nil
}

// Upsert stores chunks with their vectors. Existing chunk IDs are
// replaced: the old graph node is lazily orphaned and the SQLite row
// overwritten, so re-upserting the same batch is a no-op in effect.
func (c *Collection) Upsert(ctx context.Context, chunks []chunk.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return ragerr.Validationf("chunks and vectors length mismatch: %d vs %d",
			len(chunks), len(vectors))
	}
	if len(chunks) == 0 {
		return nil
	}
	for _, v := range vectors {
		if len(v) != c.dims {
			return ragerr.DimensionMismatch(c.dims, len(v))
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errStoreClosed()
	}

	if err := upsertChunks(ctx, c.db, chunks); err != nil {
		return err
	}

	for i, ch := range chunks {
		// Lazy deletion: orphan the old key instead of removing the node.
		if oldKey, exists := c.idMap[ch.ID]; exists {
			delete(c.keyMap, oldKey)
			delete(c.idMap, ch.ID)
		}
		key := c.nextKey
		c.nextKey++

		vec := make([]float32, len(vectors[i]))
		copy(vec, vectors[i])
		c.graph.Add(hnsw.MakeNode(key, vec))

		c.idMap[ch.ID] = key
		c.keyMap[key] = ch.ID
	}

	return c.persistLocked()
}

// Search returns up to k hits ordered by descending similarity, where
// similarity is 1 - cosineDistance/2. Orphaned graph nodes are skipped.
// Equal similarities are ordered by (doc_id, chunk_index) so results
// are stable across runs and re-opens.
func (c *Collection) Search(ctx context.Context, query []float32, k int) ([]Hit, error) {
	if len(query) != c.dims {
		return nil, ragerr.DimensionMismatch(c.dims, len(query))
	}
	if k <= 0 {
		return nil, ragerr.Validation("search k must be positive")
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, errStoreClosed()
	}
	if c.graph.Len() == 0 {
		return []Hit{}, nil
	}

	// Over-fetch to compensate for orphans filtered below.
	nodes := c.graph.Search(query, k+len(c.keyMap)/4+1)

	hits := make([]Hit, 0, len(nodes))
	for _, node := range nodes {
		id, live := c.keyMap[node.Key]
		if !live {
			continue
		}
		ch, err := loadChunk(ctx, c.db, id)
		if err != nil {
			return nil, err
		}
		distance := c.graph.Distance(query, node.Value)
		hits = append(hits, Hit{Chunk: ch, Similarity: 1 - distance/2})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		if hits[i].Chunk.DocID != hits[j].Chunk.DocID {
			return hits[i].Chunk.DocID < hits[j].Chunk.DocID
		}
		return hits[i].Chunk.Index < hits[j].Chunk.Index
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// HasDoc reports whether any chunks for docID are stored.
func (c *Collection) HasDoc(ctx context.Context, docID string) (bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false, errStoreClosed()
	}
	ids, err := chunkIDsForDoc(ctx, c.db, docID)
	if err != nil {
		return false, err
	}
	return len(ids) > 0, nil
}

// DeleteDoc removes all chunks of a document. Vector nodes are lazily
// orphaned; rows are deleted.
func (c *Collection) DeleteDoc(ctx context.Context, docID string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, errStoreClosed()
	}

	ids, err := chunkIDsForDoc(ctx, c.db, docID)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	if err := deleteDocRows(ctx, c.db, docID); err != nil {
		return 0, err
	}
	for _, id := range ids {
		if key, exists := c.idMap[id]; exists {
			delete(c.keyMap, key)
			delete(c.idMap, id)
		}
	}
	if err := c.persistLocked(); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Clear wipes the collection: all rows deleted, a fresh empty graph.
func (c *Collection) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errStoreClosed()
	}

	if _, err := c.db.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	c.graph = c.newGraph()
	c.idMap = make(map[string]uint64)
	c.keyMap = make(map[uint64]string)
	c.nextKey = 0
	return c.persistLocked()
}

// Count returns the number of live chunks.
func (c *Collection) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return 0
	}
	return len(c.idMap)
}

// Stats reports collection contents for the stats endpoint.
func (c *Collection) Stats(ctx context.Context) (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return Stats{}, errStoreClosed()
	}
	docs, err := countDocuments(ctx, c.db)
	if err != nil {
		return Stats{}, err
	}
	model, _ := getMeta(ctx, c.db, "model")
	return Stats{
		Chunks:     len(c.idMap),
		Documents:  docs,
		Dimensions: c.dims,
		Model:      model,
	}, nil
}

// Dimensions returns the collection's embedding dimension.
func (c *Collection) Dimensions() int { return c.dims }

// Name returns the collection name.
func (c *Collection) Name() string { return c.name }

// persistLocked writes the graph and its mappings with temp+rename.
// Caller holds the write lock.
func (c *Collection) persistLocked() error {
	vectorsPath := filepath.Join(c.dir, VectorsFileName)
	tmpPath := vectorsPath + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	if err := c.graph.Export(file); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	if err := os.Rename(tmpPath, vectorsPath); err != nil {
		_ = os.Remove(tmpPath)
		return ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	return c.saveMetaLocked()
}

func (c *Collection) saveMetaLocked() error {
	metaPath := filepath.Join(c.dir, MetaFileName)
	tmpPath := metaPath + ".tmp"

	file, err := os.Create(tmpPath)
	if err != nil {
		return ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	meta := graphMeta{
		IDMap:      c.idMap,
		NextKey:    c.nextKey,
		Dimensions: c.dims,
		Model:      c.opts.Model,
	}
	if err := gob.NewEncoder(file).Encode(meta); err != nil {
		_ = file.Close()
		_ = os.Remove(tmpPath)
		return ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	if err := file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	if err := os.Rename(tmpPath, metaPath); err != nil {
		_ = os.Remove(tmpPath)
		return ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	return nil
}

// Close persists pending state, releases the process lock and closes
// the database. The collection is unusable afterwards.
func (c *Collection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var firstErr error
	if err := c.db.Close(); err != nil && firstErr == nil {
		firstErr = ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	if err := c.lock.Unlock(); err != nil && firstErr == nil {
		firstErr = ragerr.Wrap(ragerr.CodeStoreFailed, err)
	}
	c.graph = nil
	return firstErr
}

func errStoreClosed() error {
	return ragerr.New(ragerr.CodeStoreFailed, "collection is closed", nil)
}
