// Package docstore persists embedded chunks and answers nearest-neighbor
// queries. Every backend failure surfaces as an apperr.Database error.
package docstore

import (
	"cmp"
	"context"
	"slices"

	"github.com/gamma-omg/rag-search/apperr"
)

// match selects records by document and, optionally, an exact chunk number
// or every chunk from a number on.
type match struct {
	document  string
	chunk     *int
	fromChunk *int
}

type collection interface {
	Upsert(ctx context.Context, records []Record) error
	Query(ctx context.Context, vector []float32, k int, where *match) ([]Hit, error)
	Get(ctx context.Context, where *match) ([]Record, error)
	Delete(ctx context.Context, where match) error
	Count(ctx context.Context) (int, error)
}

// Index stores records with upsert semantics: adding a record whose id
// already exists overwrites it.
type Index struct {
	col collection
}

func newIndex(col collection) *Index {
	return &Index{col: col}
}

func (ix *Index) Add(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	dim := len(records[0].Embedding)
	seen := make(map[string]struct{}, len(records))
	for i, r := range records {
		if r.ID == "" {
			return apperr.Databasef(nil, "record %d has no id", i)
		}
		if _, ok := seen[r.ID]; ok {
			return apperr.Databasef(nil, "duplicate record id %q in batch", r.ID)
		}
		seen[r.ID] = struct{}{}

		if dim == 0 || len(r.Embedding) != dim {
			return apperr.Databasef(nil, "record %q has embedding dimension %d, expected %d", r.ID, len(r.Embedding), dim)
		}
	}

	if err := ix.col.Upsert(ctx, records); err != nil {
		return apperr.Databasef(err, "failed to add %d records", len(records))
	}

	return nil
}

// AddChunks is Add over parallel slices. The batch is rejected unless all
// slices have the same length.
func (ix *Index) AddChunks(ctx context.Context, ids, texts []string, vectors [][]float32, metas []Metadata) error {
	n := len(ids)
	if len(texts) != n || len(vectors) != n || len(metas) != n {
		return apperr.Databasef(nil, "mismatched batch: %d ids, %d texts, %d embeddings, %d metadata",
			len(ids), len(texts), len(vectors), len(metas))
	}

	records := make([]Record, 0, n)
	for i := range ids {
		records = append(records, Record{
			ID:        ids[i],
			Text:      texts[i],
			Embedding: vectors[i],
			Meta:      metas[i],
		})
	}

	return ix.Add(ctx, records)
}

// Query returns at most k hits ordered by ascending cosine distance.
func (ix *Index) Query(ctx context.Context, vector []float32, k int, filter *Filter) ([]Hit, error) {
	if k < 1 {
		return nil, apperr.Databasef(nil, "invalid number of results: %d", k)
	}

	var where *match
	if filter != nil && filter.Document != "" {
		where = &match{document: filter.Document}
	}

	hits, err := ix.col.Query(ctx, vector, k, where)
	if err != nil {
		return nil, apperr.Databasef(err, "failed to query index")
	}

	slices.SortStableFunc(hits, func(a, b Hit) int {
		return cmp.Compare(a.Distance, b.Distance)
	})

	if len(hits) > k {
		hits = hits[:k]
	}

	return hits, nil
}

// Chunk looks up one chunk of a document. It returns nil when the chunk does
// not exist.
func (ix *Index) Chunk(ctx context.Context, document string, chunk int) (*Record, error) {
	recs, err := ix.col.Get(ctx, &match{document: document, chunk: &chunk})
	if err != nil {
		return nil, apperr.Databasef(err, "failed to get chunk %d of %s", chunk, document)
	}

	if len(recs) == 0 {
		return nil, nil
	}

	return &recs[0], nil
}

func (ix *Index) Documents(ctx context.Context) ([]DocumentInfo, error) {
	recs, err := ix.col.Get(ctx, nil)
	if err != nil {
		return nil, apperr.Databasef(err, "failed to list documents")
	}

	docs := make(map[string]*DocumentInfo)
	pages := make(map[string]map[int]struct{})
	for _, r := range recs {
		d, ok := docs[r.Meta.Document]
		if !ok {
			d = &DocumentInfo{Name: r.Meta.Document, Checksum: r.Meta.Checksum}
			docs[r.Meta.Document] = d
			pages[r.Meta.Document] = make(map[int]struct{})
		}

		d.Chunks++
		pages[r.Meta.Document][r.Meta.Page] = struct{}{}
	}

	res := make([]DocumentInfo, 0, len(docs))
	for name, d := range docs {
		d.Pages = len(pages[name])
		res = append(res, *d)
	}

	slices.SortFunc(res, func(a, b DocumentInfo) int {
		return cmp.Compare(a.Name, b.Name)
	})

	return res, nil
}

func (ix *Index) ListDocuments(ctx context.Context) ([]string, error) {
	docs, err := ix.Documents(ctx)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(docs))
	for _, d := range docs {
		names = append(names, d.Name)
	}

	return names, nil
}

func (ix *Index) DeleteDocument(ctx context.Context, name string) error {
	if err := ix.col.Delete(ctx, match{document: name}); err != nil {
		return apperr.Databasef(err, "failed to delete document %s", name)
	}

	return nil
}

// DeleteChunksFrom removes the chunks of a document numbered from or above.
func (ix *Index) DeleteChunksFrom(ctx context.Context, name string, from int) error {
	if err := ix.col.Delete(ctx, match{document: name, fromChunk: &from}); err != nil {
		return apperr.Databasef(err, "failed to delete chunks of %s from %d", name, from)
	}

	return nil
}

func (ix *Index) HasDocuments(ctx context.Context) (bool, error) {
	n, err := ix.col.Count(ctx)
	if err != nil {
		return false, apperr.Databasef(err, "failed to count records")
	}

	return n > 0, nil
}
