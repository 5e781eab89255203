package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/markerlab/ragserve/internal/ragerr"
)

// Chunker splits documents into chunks according to Options.
// It is stateless and safe for concurrent use.
type Chunker struct {
	opts   Options
	logger *slog.Logger
}

// New creates a chunker. Zero size fields fall back to defaults; a zero
// overlap is honored as "no overlap".
func New(opts Options, logger *slog.Logger) *Chunker {
	def := DefaultOptions()
	if opts.ChunkSize == 0 {
		opts.ChunkSize = def.ChunkSize
	}
	if opts.MinChunkSize == 0 {
		opts.MinChunkSize = def.MinChunkSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Chunker{opts: opts, logger: logger}
}

// Chunk splits a document. For KindJSONBlocks the text must be the JSON
// payload; for KindMarkdown it is the raw markdown.
func (c *Chunker) Chunk(docID string, text string, kind Kind) ([]Chunk, error) {
	switch kind {
	case KindMarkdown:
		return c.pack(docID, scanMarkdown(text))
	case KindJSONBlocks:
		input, err := ParseBlocks([]byte(text))
		if err != nil {
			return nil, err
		}
		return c.ChunkBlocks(docID, input)
	default:
		return nil, ragerr.Validationf("unknown document kind %q", kind)
	}
}

// ChunkBlocks applies packing directly to pre-segmented blocks.
func (c *Chunker) ChunkBlocks(docID string, input []Block) ([]Chunk, error) {
	return c.pack(docID, blocksFromInput(input))
}

func (c *Chunker) pack(docID string, blocks []block) ([]Chunk, error) {
	p := &packer{opts: c.opts, docID: docID}

	for _, b := range blocks {
		// Prefer to cut at a heading when the chunk is nearly full, so the
		// heading opens the next chunk instead of dangling at a tail.
		if b.kind == blockHeading &&
			p.curTokens >= c.opts.MinChunkSize &&
			p.curTokens >= c.opts.ChunkSize-c.opts.headingWindow() {
			p.flush()
		}

		for _, piece := range c.splitBlock(docID, b) {
			t := EstimateTokens(piece)
			overBudget := p.curTokens+t > c.opts.ChunkSize ||
				p.curBytes+len(piece)+2 > c.opts.MaxChunkBytes()
			if p.curTokens >= c.opts.MinChunkSize && overBudget {
				p.flush()
			}
			p.add(piece, b, t)
		}
	}
	p.finish()

	if len(p.chunks) == 0 {
		return nil, ragerr.EmptyDocument(docID)
	}
	total := 0
	for i := range p.chunks {
		total += p.chunks[i].TokenEstimate
	}
	if total == 0 {
		return nil, ragerr.EmptyDocument(docID)
	}

	for i := range p.chunks {
		p.chunks[i].TotalChunks = len(p.chunks)
		p.chunks[i].ID = chunkID(docID, i, p.chunks[i].Text)
	}
	return p.chunks, nil
}

// splitBlock cuts an oversized block into pieces that fit the budget.
// Prose splits at sentence boundaries, then whitespace; atomic blocks
// (fences, tables) split at line boundaries to stay well-formed.
func (c *Chunker) splitBlock(docID string, b block) []string {
	maxBytes := c.opts.MaxChunkBytes()
	if EstimateTokens(b.text) <= c.opts.ChunkSize && len(b.text) <= maxBytes {
		return []string{b.text}
	}

	var units []string
	if b.atomic() {
		units = c.splitLines(b.text)
	} else {
		for _, s := range splitSentences(b.text) {
			if EstimateTokens(s) > c.opts.ChunkSize {
				units = append(units, splitWhitespace(s, c.opts.ChunkSize)...)
			} else {
				units = append(units, s)
			}
		}
	}

	// Regroup units up to the token budget, then enforce the byte cap.
	var pieces []string
	var cur []string
	curTokens := 0
	emit := func() {
		if len(cur) == 0 {
			return
		}
		piece := strings.Join(cur, " ")
		if len(piece) > maxBytes {
			c.logger.Warn("chunk piece truncated at byte cap",
				"doc_id", docID, "bytes", len(piece), "cap", maxBytes)
			piece = truncateBytes(piece, maxBytes)
		}
		pieces = append(pieces, piece)
		cur = cur[:0]
		curTokens = 0
	}
	for _, u := range units {
		t := EstimateTokens(u)
		if curTokens > 0 && curTokens+t > c.opts.ChunkSize {
			emit()
		}
		cur = append(cur, u)
		curTokens += t
	}
	emit()
	return pieces
}

// splitLines groups lines of an atomic block into token-budget pieces.
func (c *Chunker) splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	var parts []string
	var cur []string
	curTokens := 0
	for _, line := range lines {
		t := EstimateTokens(line)
		if curTokens > 0 && curTokens+t > c.opts.ChunkSize {
			parts = append(parts, strings.Join(cur, "\n"))
			cur = cur[:0]
			curTokens = 0
		}
		cur = append(cur, line)
		curTokens += t
	}
	if len(cur) > 0 {
		parts = append(parts, strings.Join(cur, "\n"))
	}
	return parts
}

// packer accumulates pieces into chunks, carrying overlap forward.
type packer struct {
	opts  Options
	docID string

	chunks []Chunk

	parts        []string
	overlapParts int
	curTokens    int
	curBytes     int
	page         int

	startSet     bool
	startHeading string
	startPath    []string

	tailHeading string
	tailPath    []string
}

func (p *packer) add(piece string, b block, tokens int) {
	if !p.startSet {
		p.startHeading = b.heading
		p.startPath = b.sectionPath
		p.startSet = true
	}
	p.parts = append(p.parts, piece)
	p.curTokens += tokens
	p.curBytes += len(piece) + 2
	if p.page == 0 && b.pageNumber > 0 {
		p.page = b.pageNumber
	}
	p.tailHeading = b.heading
	p.tailPath = b.sectionPath
}

// flush emits the accumulated chunk and seeds the next one with the
// overlap tail. The overlap region keeps the emitted chunk's tail
// heading and section path, not the next block's.
func (p *packer) flush() {
	if len(p.parts) == 0 {
		return
	}
	text := strings.Join(p.parts, "\n\n")
	p.chunks = append(p.chunks, Chunk{
		DocID:         p.docID,
		Index:         len(p.chunks),
		Text:          text,
		Heading:       p.startHeading,
		SectionPath:   p.startPath,
		PageNumber:    p.page,
		TokenEstimate: EstimateTokens(text),
	})

	p.parts = nil
	p.overlapParts = 0
	p.curTokens = 0
	p.curBytes = 0
	p.page = 0
	p.startSet = false

	if p.opts.ChunkOverlap > 0 {
		if ov := tailTokens(text, p.opts.ChunkOverlap); ov != "" {
			p.parts = append(p.parts, ov)
			p.overlapParts = 1
			p.curTokens = EstimateTokens(ov)
			p.curBytes = len(ov) + 2
			p.startHeading = p.tailHeading
			p.startPath = p.tailPath
			p.startSet = true
		}
	}
}

// finish flushes the trailing chunk, merging it into its predecessor
// when the fresh content (excluding the overlap seed) is below the floor.
func (p *packer) finish() {
	if len(p.parts) == 0 {
		return
	}
	rest := p.parts[p.overlapParts:]
	restText := strings.Join(rest, "\n\n")
	if len(p.chunks) > 0 && EstimateTokens(restText) < p.opts.MinChunkSize {
		if restText != "" {
			last := &p.chunks[len(p.chunks)-1]
			last.Text = last.Text + "\n\n" + restText
			last.TokenEstimate = EstimateTokens(last.Text)
			if last.PageNumber == 0 {
				last.PageNumber = p.page
			}
		}
		p.parts = nil
		return
	}
	p.flush()
	// Discard any overlap seeded past the last chunk.
	p.parts = nil
}

// chunkID derives a stable chunk identity from the document, position,
// and content, in that order of significance.
func chunkID(docID string, index int, text string) string {
	content := sha256.Sum256([]byte(text))
	contentHash := hex.EncodeToString(content[:])[:16]
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", docID, index, contentHash)))
	return hex.EncodeToString(sum[:])[:16]
}
