package rag

// RefusalAnswer is returned verbatim when retrieval produces no usable
// context. Clients and tests match it exactly.
const RefusalAnswer = "The provided documents do not contain information about this topic."

// PromptVersion tags the prompt template so stored answers can be traced
// to the template that produced them.
const PromptVersion = "v1"

// Options controls one Answer call.
type Options struct {
	TopK          int
	IncludeChunks bool
}

// Source is a retrieval hit projected for the response payload.
type Source struct {
	DocID      string  `json:"doc_id"`
	ChunkIndex int     `json:"chunk_index"`
	Heading    string  `json:"heading,omitempty"`
	Similarity float32 `json:"similarity"`
	Excerpt    string  `json:"excerpt"`
}

// RetrievedChunk carries the full chunk payload when a caller asks for
// it with include_chunks.
type RetrievedChunk struct {
	ChunkID     string   `json:"chunk_id"`
	DocID       string   `json:"doc_id"`
	ChunkIndex  int      `json:"chunk_index"`
	Text        string   `json:"text"`
	Heading     string   `json:"heading,omitempty"`
	SectionPath []string `json:"section_path,omitempty"`
	PageNumber  int      `json:"page_number,omitempty"`
	Similarity  float32  `json:"similarity"`
}

// QueryResult is the full answer payload.
type QueryResult struct {
	Query           string           `json:"query"`
	Answer          string           `json:"answer"`
	Sources         []Source         `json:"sources"`
	ModelID         string           `json:"model_id"`
	TokensGenerated int              `json:"tokens_generated"`
	Confidence      float32          `json:"confidence"`
	RetrievedChunks []RetrievedChunk `json:"retrieved_chunks,omitempty"`
}

// HealthReport mirrors the /health response body.
type HealthReport struct {
	RagEnabled               bool   `json:"rag_enabled"`
	EmbeddingsModelAvailable bool   `json:"embeddings_model_available"`
	VectorStoreReady         bool   `json:"vector_store_ready"`
	GeneratorAvailable       bool   `json:"generator_available"`
	Message                  string `json:"message"`
}

// StatsReport mirrors the /stats response body.
type StatsReport struct {
	VectorStore    VectorStoreStats    `json:"vector_store"`
	EmbeddingModel EmbeddingModelStats `json:"embedding_model"`
	Config         any                 `json:"config"`
	PromptVersion  string              `json:"prompt_version"`
}

type VectorStoreStats struct {
	CollectionName string `json:"collection_name"`
	DocumentCount  int    `json:"document_count"`
	DBPath         string `json:"db_path"`
}

type EmbeddingModelStats struct {
	ModelName          string `json:"model_name"`
	EmbeddingDimension int    `json:"embedding_dimension"`
	Device             string `json:"device"`
}
