package capability

import (
	"context"
	"math"
	"sort"
	"sync"
)

type indexEntry struct {
	id       string
	vector   []float32
	norm     float64
	metadata map[string]string
	seq      int
}

// MemoryIndex is an in-process cosine similarity index. Results are ordered
// by score descending; equal scores keep insertion order.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]*indexEntry
	seq     int
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{entries: make(map[string]*indexEntry)}
}

// Upsert adds or replaces an entry. A replaced entry keeps its position.
func (idx *MemoryIndex) Upsert(id string, vector []float32, metadata map[string]string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	md := make(map[string]string, len(metadata))
	for k, v := range metadata {
		md[k] = v
	}
	e := &indexEntry{
		id:       id,
		vector:   append([]float32(nil), vector...),
		norm:     norm(vector),
		metadata: md,
	}
	if old, ok := idx.entries[id]; ok {
		e.seq = old.seq
	} else {
		idx.seq++
		e.seq = idx.seq
	}
	idx.entries[id] = e
}

// Remove deletes an entry and reports whether it existed.
func (idx *MemoryIndex) Remove(id string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, ok := idx.entries[id]
	delete(idx.entries, id)
	return ok
}

func (idx *MemoryIndex) Size() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries)
}

func (idx *MemoryIndex) SimilaritySearch(ctx context.Context, vector []float32, topK int, filter Filter) ([]Match, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(vector) == 0 || topK <= 0 {
		return nil, Validationf("search needs a vector and positive topK")
	}
	qn := norm(vector)

	idx.mu.RLock()
	type scored struct {
		e     *indexEntry
		score float64
	}
	candidates := make([]scored, 0, len(idx.entries))
	for _, e := range idx.entries {
		if len(e.vector) != len(vector) || !filter.Matches(e.metadata) {
			continue
		}
		candidates = append(candidates, scored{e: e, score: cosine(vector, qn, e.vector, e.norm)})
	}
	idx.mu.RUnlock()

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].e.seq < candidates[j].e.seq
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	out := make([]Match, len(candidates))
	for i, c := range candidates {
		md := make(map[string]string, len(c.e.metadata))
		for k, v := range c.e.metadata {
			md[k] = v
		}
		out[i] = Match{ID: c.e.id, Score: c.score, Metadata: md}
	}
	return out, nil
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

func cosine(a []float32, an float64, b []float32, bn float64) float64 {
	if an == 0 || bn == 0 {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return dot / (an * bn)
}
