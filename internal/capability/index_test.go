package capability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIndexOrdersByScoreThenInsertion(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Upsert("a", []float32{1, 0}, map[string]string{"category": "shoes"})
	idx.Upsert("b", []float32{0, 1}, map[string]string{"category": "shoes"})
	idx.Upsert("c", []float32{1, 0}, map[string]string{"category": "shirts"})
	idx.Upsert("d", []float32{1, 1}, map[string]string{"category": "shoes"})

	got, err := idx.SimilaritySearch(context.Background(), []float32{1, 0}, 3, nil)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
	assert.Equal(t, "d", got[2].ID)
	assert.InDelta(t, 1.0, got[0].Score, 1e-9)
	assert.Equal(t, got[0].Score, got[1].Score)
}

func TestMemoryIndexFilterAndReplace(t *testing.T) {
	idx := NewMemoryIndex()
	idx.Upsert("a", []float32{1, 0}, map[string]string{"category": "shoes"})
	idx.Upsert("b", []float32{0.9, 0.1}, map[string]string{"category": "shoes"})
	idx.Upsert("c", []float32{1, 0}, map[string]string{"category": "shirts"})

	got, err := idx.SimilaritySearch(context.Background(), []float32{1, 0}, 10, Filter{"category": "shoes"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)

	idx.Upsert("a", []float32{0, 1}, map[string]string{"category": "shoes"})
	got, err = idx.SimilaritySearch(context.Background(), []float32{1, 0}, 1, Filter{"category": "shoes"})
	require.NoError(t, err)
	assert.Equal(t, "b", got[0].ID)

	assert.True(t, idx.Remove("b"))
	assert.False(t, idx.Remove("b"))
	assert.Equal(t, 2, idx.Size())
}

func TestMemoryIndexRejectsBadQuery(t *testing.T) {
	idx := NewMemoryIndex()
	_, err := idx.SimilaritySearch(context.Background(), nil, 3, nil)
	assert.ErrorIs(t, err, ErrValidation)
	_, err = idx.SimilaritySearch(context.Background(), []float32{1}, 0, nil)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestCachedEmbedder(t *testing.T) {
	inner := &fixedEmbedder{dims: 3}
	c, err := NewCachedEmbedder(inner, 2)
	require.NoError(t, err)

	ctx := context.Background()
	_, err = c.Embed(ctx, "Blue Shirt", 3)
	require.NoError(t, err)
	_, err = c.Embed(ctx, "  blue shirt ", 3)
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls)

	_, _ = c.Embed(ctx, "red shoes", 3)
	_, _ = c.Embed(ctx, "green hat", 3)
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int32(3), inner.calls)
}
