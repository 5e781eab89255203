// Package chunk splits documents into retrievable units.
//
// The chunker is heading-aware: heading levels are tracked in a stack so
// every chunk knows its enclosing section, and chunk boundaries prefer to
// fall on headings. Output is deterministic: identical input and options
// produce bit-identical chunks and IDs.
package chunk

// Kind selects the input parser.
type Kind string

const (
	// KindMarkdown is plain markdown text.
	KindMarkdown Kind = "markdown"
	// KindJSONBlocks is pre-segmented blocks with optional heading and
	// page number, as emitted by document converters.
	KindJSONBlocks Kind = "json-blocks"
)

// Chunk is one retrievable unit of a document.
type Chunk struct {
	// ID is derived from (doc_id, index, content hash); stable across runs.
	ID string `json:"chunk_id"`
	// DocID identifies the source document, usually its filename.
	DocID string `json:"doc_id"`
	// Index is the zero-based position within the document.
	Index int `json:"chunk_index"`
	// Text is the chunk content including any overlap prefix.
	Text string `json:"text"`
	// Heading is the nearest enclosing heading at the chunk's start.
	Heading string `json:"heading,omitempty"`
	// SectionPath lists ancestor headings from the document root.
	SectionPath []string `json:"section_path,omitempty"`
	// PageNumber is the earliest page seen in the chunk; 0 when unknown.
	PageNumber int `json:"page_number,omitempty"`
	// TotalChunks is the document's chunk count, filled after processing.
	TotalChunks int `json:"total_chunks"`
	// TokenEstimate counts whitespace/punctuation-delimited units.
	TokenEstimate int `json:"token_estimate"`
}

// Block is a pre-segmented input unit for KindJSONBlocks.
type Block struct {
	Text       string `json:"text"`
	Heading    string `json:"heading,omitempty"`
	PageNumber int    `json:"page_number,omitempty"`
}

// Options bounds chunk sizes. All counts are token estimates.
type Options struct {
	// ChunkSize is the target ceiling per chunk.
	ChunkSize int
	// ChunkOverlap is the tail carried forward into the next chunk.
	ChunkOverlap int
	// MinChunkSize is the floor; an undersized trailing chunk is merged
	// into its predecessor.
	MinChunkSize int
}

// DefaultOptions mirrors the config defaults.
func DefaultOptions() Options {
	return Options{
		ChunkSize:    800,
		ChunkOverlap: 100,
		MinChunkSize: 100,
	}
}

// MaxChunkBytes is the hard byte ceiling, guarding against text where
// the token estimate degenerates (no letters or digits).
func (o Options) MaxChunkBytes() int {
	return 8 * o.ChunkSize
}

// headingWindow is how close (in tokens) a heading must be to the fill
// limit for the chunker to cut early so the heading opens the next chunk.
func (o Options) headingWindow() int {
	return o.ChunkSize / 5
}
