package docstore

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"
)

// memoryCollection keeps records in process memory and answers queries by
// brute-force cosine distance. It is safe for concurrent use.
type memoryCollection struct {
	mu      sync.RWMutex
	records map[string]Record
}

func NewMemoryIndex() *Index {
	return newIndex(&memoryCollection{records: make(map[string]Record)})
}

func (m *match) matches(meta Metadata) bool {
	if m == nil {
		return true
	}

	if meta.Document != m.document {
		return false
	}

	if m.fromChunk != nil && meta.Chunk < *m.fromChunk {
		return false
	}

	return m.chunk == nil || *m.chunk == meta.Chunk
}

func (c *memoryCollection) Upsert(ctx context.Context, records []Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, r := range records {
		r.Embedding = slices.Clone(r.Embedding)
		c.records[r.ID] = r
	}

	return nil
}

func (c *memoryCollection) Query(ctx context.Context, vector []float32, k int, where *match) ([]Hit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := make([]Hit, 0, len(c.records))
	for _, r := range c.records {
		if !where.matches(r.Meta) {
			continue
		}

		hits = append(hits, Hit{
			ID:       r.ID,
			Text:     r.Text,
			Meta:     r.Meta,
			Distance: cosineDistance(vector, r.Embedding),
		})
	}

	slices.SortFunc(hits, func(a, b Hit) int {
		return cmp.Or(cmp.Compare(a.Distance, b.Distance), cmp.Compare(a.ID, b.ID))
	})

	if len(hits) > k {
		hits = hits[:k]
	}

	return hits, nil
}

func (c *memoryCollection) Get(ctx context.Context, where *match) ([]Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var res []Record
	for _, r := range c.records {
		if where.matches(r.Meta) {
			res = append(res, r)
		}
	}

	slices.SortFunc(res, func(a, b Record) int {
		return cmp.Or(cmp.Compare(a.Meta.Document, b.Meta.Document), cmp.Compare(a.Meta.Chunk, b.Meta.Chunk))
	})

	return res, nil
}

func (c *memoryCollection) Delete(ctx context.Context, where match) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, r := range c.records {
		if where.matches(r.Meta) {
			delete(c.records, id)
		}
	}

	return nil
}

func (c *memoryCollection) Count(ctx context.Context) (int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.records), nil
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) {
		return 2
	}

	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}

	if na == 0 || nb == 0 {
		return 1
	}

	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
