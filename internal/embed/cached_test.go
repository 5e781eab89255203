package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder counts calls that reach the inner embedder.
type countingEmbedder struct {
	*StaticEmbedder
	embedCalls int
	batchTexts int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.embedCalls++
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.batchTexts += len(texts)
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_HitSkipsInner(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 16)

	first, err := c.Embed(context.Background(), "repeated query")
	require.NoError(t, err)
	second, err := c.Embed(context.Background(), "repeated query")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.embedCalls)
	assert.Equal(t, 1, c.Len())
}

func TestCachedEmbedder_BatchOnlyEmbedsMisses(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 16)

	_, err := c.Embed(context.Background(), "warm")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"warm", "cold one", "cold two"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	assert.Equal(t, 2, inner.batchTexts)

	// A second pass is fully served from cache.
	_, err = c.EmbedBatch(context.Background(), []string{"warm", "cold one", "cold two"})
	require.NoError(t, err)
	assert.Equal(t, 2, inner.batchTexts)
}

func TestCachedEmbedder_EvictsAtCapacity(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 2)

	for _, text := range []string{"a", "b", "c"} {
		_, err := c.Embed(context.Background(), text)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, c.Len())

	// "a" was evicted, so it reaches the inner embedder again.
	_, err := c.Embed(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, 4, inner.embedCalls)
}

func TestCachedEmbedder_Passthroughs(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 0)

	assert.Equal(t, StaticDimensions, c.Dimensions())
	assert.Equal(t, inner.ModelName(), c.ModelName())
	assert.True(t, c.Available(context.Background()))
	require.NoError(t, c.Close())
	assert.False(t, c.Available(context.Background()))
}
