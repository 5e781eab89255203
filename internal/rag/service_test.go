package rag

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/markerlab/ragserve/internal/chunk"
	"github.com/markerlab/ragserve/internal/config"
	"github.com/markerlab/ragserve/internal/embed"
	"github.com/markerlab/ragserve/internal/generate"
	"github.com/markerlab/ragserve/internal/store"
)

// mockGenerator records calls and returns a canned completion.
type mockGenerator struct {
	calls      int
	lastPrompt string
	lastParams generate.Params
	reply      string
	err        error
}

func (m *mockGenerator) Generate(_ context.Context, prompt string, params generate.Params) (*generate.Completion, error) {
	m.calls++
	m.lastPrompt = prompt
	m.lastParams = params
	if m.err != nil {
		return nil, m.err
	}
	return &generate.Completion{Text: m.reply, TokensGenerated: 7}, nil
}

func (m *mockGenerator) ModelID() string              { return "mock-model" }
func (m *mockGenerator) Healthy(context.Context) bool { return true }

func newTestService(t *testing.T, threshold float64) (*Service, *mockGenerator) {
	t.Helper()

	embedder := embed.NewStaticEmbedder()
	collection, err := store.Open(store.Options{
		Dir:        t.TempDir(),
		Dimensions: embedder.Dimensions(),
		Model:      embedder.ModelName(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = collection.Close() })

	snap := config.Default()
	snap.SimilarityThreshold = threshold
	cfg, err := config.NewStore(snap, nil)
	require.NoError(t, err)

	gen := &mockGenerator{reply: "RAG reduces hallucinations by grounding answers."}
	return New(cfg, embedder, collection, gen, nil), gen
}

const sampleDoc = `# Overview

Retrieval augmented generation reduces hallucinations by grounding the
model in retrieved document context.

## Details

The retriever filters chunks by similarity threshold before the
generator sees them.
`

func TestService_AnswerGroundsInSources(t *testing.T) {
	svc, gen := newTestService(t, 0)
	ctx := context.Background()

	_, err := svc.Index(ctx, "doc.md", sampleDoc, chunk.KindMarkdown, false)
	require.NoError(t, err)

	result, err := svc.Answer(ctx, "What does RAG reduce?", Options{TopK: 3})
	require.NoError(t, err)

	assert.Equal(t, 1, gen.calls)
	assert.Contains(t, gen.lastPrompt, "[Source 1]:")
	assert.Contains(t, gen.lastPrompt, "Question: What does RAG reduce?")
	assert.True(t, strings.HasSuffix(gen.lastPrompt, "Answer:"))

	assert.Equal(t, "RAG reduces hallucinations by grounding answers.", result.Answer)
	assert.Equal(t, "mock-model", result.ModelID)
	assert.Equal(t, 7, result.TokensGenerated)
	require.NotEmpty(t, result.Sources)
	assert.Greater(t, result.Confidence, float32(0))

	// Confidence is the best similarity among the returned sources.
	var best float32
	for _, s := range result.Sources {
		if s.Similarity > best {
			best = s.Similarity
		}
	}
	assert.Equal(t, best, result.Confidence)
}

func TestService_AnswerUsesConfiguredGeneration(t *testing.T) {
	svc, gen := newTestService(t, 0)
	ctx := context.Background()

	_, err := svc.Config().Update(map[string]any{"temperature": 0.7, "max_tokens": 64})
	require.NoError(t, err)

	_, err = svc.Index(ctx, "doc.md", sampleDoc, chunk.KindMarkdown, false)
	require.NoError(t, err)
	_, err = svc.Answer(ctx, "What filters chunks?", Options{})
	require.NoError(t, err)

	assert.InDelta(t, 0.7, gen.lastParams.Temperature, 1e-9)
	assert.Equal(t, 64, gen.lastParams.MaxTokens)
}

func TestService_AnswerRefusesBelowThreshold(t *testing.T) {
	svc, gen := newTestService(t, 0.95)
	ctx := context.Background()

	_, err := svc.Index(ctx, "doc.md", sampleDoc, chunk.KindMarkdown, false)
	require.NoError(t, err)

	// The store has content, but nothing similar enough to the query.
	result, err := svc.Answer(ctx, "What is the population of Mars?", Options{TopK: 3})
	require.NoError(t, err)

	assert.Equal(t, RefusalAnswer, result.Answer)
	assert.Empty(t, result.Sources)
	assert.Zero(t, result.Confidence)
	assert.Zero(t, gen.calls, "generator must not run when no hit clears the threshold")
}

func TestService_AnswerRefusesWithoutContext(t *testing.T) {
	svc, gen := newTestService(t, 0)

	result, err := svc.Answer(context.Background(), "What is the population of Mars?", Options{TopK: 3})
	require.NoError(t, err)

	assert.Equal(t, RefusalAnswer, result.Answer)
	assert.Empty(t, result.Sources)
	assert.Zero(t, result.Confidence)
	assert.Zero(t, gen.calls, "generator must not run on refusal")
}

func TestService_AnswerIncludeChunks(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	_, err := svc.Index(ctx, "doc.md", sampleDoc, chunk.KindMarkdown, false)
	require.NoError(t, err)

	withChunks, err := svc.Answer(ctx, "What does the retriever do?", Options{IncludeChunks: true})
	require.NoError(t, err)
	require.NotEmpty(t, withChunks.RetrievedChunks)
	assert.Equal(t, "doc.md", withChunks.RetrievedChunks[0].DocID)
	assert.NotEmpty(t, withChunks.RetrievedChunks[0].Text)

	without, err := svc.Answer(ctx, "What does the retriever do?", Options{})
	require.NoError(t, err)
	assert.Nil(t, without.RetrievedChunks)
}

func TestService_SourceExcerptCapped(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	var b strings.Builder
	b.WriteString("# Long\n\n")
	for i := 0; i < 120; i++ {
		fmt.Fprintf(&b, "sentence number %d keeps the paragraph going. ", i)
	}
	_, err := svc.Index(ctx, "long.md", b.String(), chunk.KindMarkdown, false)
	require.NoError(t, err)

	result, err := svc.Answer(ctx, "sentence number", Options{TopK: 1})
	require.NoError(t, err)
	require.NotEmpty(t, result.Sources)
	assert.LessOrEqual(t, len([]rune(result.Sources[0].Excerpt)), 200)
}

func TestService_ClearAndStats(t *testing.T) {
	svc, _ := newTestService(t, 0)
	ctx := context.Background()

	_, err := svc.Index(ctx, "doc.md", sampleDoc, chunk.KindMarkdown, false)
	require.NoError(t, err)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.VectorStore.DocumentCount)
	assert.Equal(t, "cpu", stats.EmbeddingModel.Device)
	assert.Equal(t, embed.StaticDimensions, stats.EmbeddingModel.EmbeddingDimension)
	assert.Equal(t, PromptVersion, stats.PromptVersion)

	require.NoError(t, svc.Clear(ctx))
	stats, err = svc.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.VectorStore.DocumentCount)

	// After clearing, queries refuse.
	result, err := svc.Answer(ctx, "What does RAG reduce?", Options{})
	require.NoError(t, err)
	assert.Equal(t, RefusalAnswer, result.Answer)
}

func TestService_Health(t *testing.T) {
	svc, _ := newTestService(t, 0)

	report := svc.Health(context.Background())
	assert.True(t, report.RagEnabled)
	assert.True(t, report.EmbeddingsModelAvailable)
	assert.True(t, report.VectorStoreReady)
	assert.True(t, report.GeneratorAvailable)
	assert.Equal(t, "all systems operational", report.Message)

	_, err := svc.Config().Update(map[string]any{"enabled": false})
	require.NoError(t, err)
	report = svc.Health(context.Background())
	assert.False(t, report.RagEnabled)
	assert.Equal(t, "rag is disabled by configuration", report.Message)
}

func TestBuildPrompt_TruncatesPerChunk(t *testing.T) {
	snap := config.Default()
	snap.ContextChunkChars = 200

	hits := []store.Hit{{
		Chunk: chunk.Chunk{Text: strings.Repeat("x", 5000)},
	}}
	prompt := BuildPrompt("q", hits, &snap)
	assert.Contains(t, prompt, "[Source 1]: "+strings.Repeat("x", 200)+"\n")
	assert.NotContains(t, prompt, strings.Repeat("x", 201))
}

func TestBuildPrompt_IsPure(t *testing.T) {
	snap := config.Default()
	hits := []store.Hit{
		{Chunk: chunk.Chunk{Text: "first source"}},
		{Chunk: chunk.Chunk{Text: "second source"}},
	}
	a := BuildPrompt("why", hits, &snap)
	b := BuildPrompt("why", hits, &snap)
	assert.Equal(t, a, b)
	assert.Contains(t, a, "[Source 1]: first source")
	assert.Contains(t, a, "[Source 2]: second source")
}
