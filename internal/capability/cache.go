package capability

import (
	"context"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedEmbedder memoizes embeddings of normalized text.
type CachedEmbedder struct {
	inner Embedder
	cache *lru.Cache[string, []float32]
}

func NewCachedEmbedder(inner Embedder, size int) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &CachedEmbedder{inner: inner, cache: cache}, nil
}

func cacheKey(text string, dimensions int) string {
	return strconv.Itoa(dimensions) + ":" + strings.ToLower(strings.TrimSpace(text))
}

func (c *CachedEmbedder) Embed(ctx context.Context, text string, dimensions int) ([]float32, error) {
	key := cacheKey(text, dimensions)
	if v, ok := c.cache.Get(key); ok {
		return append([]float32(nil), v...), nil
	}
	v, err := c.inner.Embed(ctx, text, dimensions)
	if err != nil {
		return nil, err
	}
	c.cache.Add(key, append([]float32(nil), v...))
	return v, nil
}

// Len returns the number of cached embeddings.
func (c *CachedEmbedder) Len() int { return c.cache.Len() }
