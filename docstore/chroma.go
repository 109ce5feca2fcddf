package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	chroma "github.com/amikos-tech/chroma-go/pkg/api/v2"
	"github.com/amikos-tech/chroma-go/pkg/embeddings"
)

type ChromaConfig struct {
	BaseURL    string
	Collection string
	// EmbeddingFunc is registered with the collection. Vectors are always
	// computed by the caller but chroma-go substitutes its onnx default for
	// a nil function.
	EmbeddingFunc embeddings.EmbeddingFunction
	Reset         bool
}

type chromaCollection struct {
	col chroma.Collection
}

func NewChromaIndex(ctx context.Context, cfg ChromaConfig) (*Index, error) {
	if cfg.EmbeddingFunc == nil {
		return nil, errors.New("chroma collection requires an embedding function")
	}

	client, err := chroma.NewHTTPClient(chroma.WithBaseURL(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to create chroma client: %w", err)
	}

	if cfg.Reset {
		// a missing collection is fine here
		_ = client.DeleteCollection(ctx, cfg.Collection)
	}

	opts := []chroma.CreateCollectionOption{
		chroma.WithHNSWSpaceCreate(embeddings.COSINE),
		chroma.WithEmbeddingFunctionCreate(cfg.EmbeddingFunc),
	}

	col, err := client.GetOrCreateCollection(ctx, cfg.Collection, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to open collection %s: %w", cfg.Collection, err)
	}

	return newIndex(&chromaCollection{col: col}), nil
}

func (m *match) clause() chroma.WhereClause {
	doc := chroma.EqString(KeyDocument, m.document)
	switch {
	case m.chunk != nil:
		return chroma.And(doc, chroma.EqInt(KeyChunk, *m.chunk))
	case m.fromChunk != nil:
		return chroma.And(doc, chroma.GteInt(KeyChunk, *m.fromChunk))
	default:
		return doc
	}
}

func (c *chromaCollection) Upsert(ctx context.Context, records []Record) error {
	ids := make([]chroma.DocumentID, 0, len(records))
	texts := make([]string, 0, len(records))
	embs := make([]embeddings.Embedding, 0, len(records))
	metas := make([]chroma.DocumentMetadata, 0, len(records))

	for _, r := range records {
		ids = append(ids, chroma.DocumentID(r.ID))
		texts = append(texts, r.Text)
		embs = append(embs, embeddings.NewEmbeddingFromFloat32(r.Embedding))
		metas = append(metas, toChromaMetadata(r.Meta))
	}

	return c.col.Upsert(ctx,
		chroma.WithIDs(ids...),
		chroma.WithTexts(texts...),
		chroma.WithEmbeddings(embs...),
		chroma.WithMetadatas(metas...),
	)
}

func (c *chromaCollection) Query(ctx context.Context, vector []float32, k int, where *match) ([]Hit, error) {
	opts := []chroma.CollectionQueryOption{
		chroma.WithQueryEmbeddings(embeddings.NewEmbeddingFromFloat32(vector)),
		chroma.WithNResults(k),
	}
	if where != nil {
		opts = append(opts, chroma.WithWhereQuery(where.clause()))
	}

	r, err := c.col.Query(ctx, opts...)
	if err != nil {
		return nil, err
	}

	idGroups := r.GetIDGroups()
	if len(idGroups) == 0 {
		return nil, nil
	}

	ids := idGroups[0]
	docs := r.GetDocumentsGroups()[0]
	metadatas := r.GetMetadatasGroups()[0]
	distances := r.GetDistancesGroups()[0]

	res := make([]Hit, 0, len(ids))
	for i := range ids {
		res = append(res, Hit{
			ID:       string(ids[i]),
			Text:     docs[i].ContentString(),
			Meta:     fromChromaMetadata(metadatas[i]),
			Distance: float64(distances[i]),
		})
	}

	return res, nil
}

func (c *chromaCollection) Get(ctx context.Context, where *match) ([]Record, error) {
	var opts []chroma.CollectionGetOption
	if where != nil {
		opts = append(opts, chroma.WithWhereGet(where.clause()))
	}

	r, err := c.col.Get(ctx, opts...)
	if err != nil {
		return nil, err
	}

	ids := r.GetIDs()
	docs := r.GetDocuments()
	metadatas := r.GetMetadatas()

	res := make([]Record, 0, len(ids))
	for i := range ids {
		rec := Record{ID: string(ids[i])}
		if i < len(docs) {
			rec.Text = docs[i].ContentString()
		}
		if i < len(metadatas) {
			rec.Meta = fromChromaMetadata(metadatas[i])
		}
		res = append(res, rec)
	}

	return res, nil
}

func (c *chromaCollection) Delete(ctx context.Context, where match) error {
	return c.col.Delete(ctx, chroma.WithWhereDelete(where.clause()))
}

func (c *chromaCollection) Count(ctx context.Context) (int, error) {
	return c.col.Count(ctx)
}

func toChromaMetadata(m Metadata) chroma.DocumentMetadata {
	return chroma.NewDocumentMetadata(
		chroma.NewStringAttribute(KeyDocument, m.Document),
		chroma.NewIntAttribute(KeyPage, int64(m.Page)),
		chroma.NewIntAttribute(KeyChunk, int64(m.Chunk)),
		chroma.NewIntAttribute(KeyChecksum, int64(m.Checksum)),
		chroma.NewStringAttribute(KeyTimestamp, m.Timestamp.UTC().Format(time.RFC3339Nano)),
	)
}

func fromChromaMetadata(meta chroma.DocumentMetadata) Metadata {
	if meta == nil {
		return Metadata{}
	}

	doc, _ := meta.GetString(KeyDocument)
	ts, _ := meta.GetString(KeyTimestamp)
	parsed, _ := time.Parse(time.RFC3339Nano, ts)

	return Metadata{
		Document:  doc,
		Page:      int(intAttr(meta, KeyPage)),
		Chunk:     int(intAttr(meta, KeyChunk)),
		Checksum:  uint32(intAttr(meta, KeyChecksum)),
		Timestamp: parsed,
	}
}

// intAttr reads an integer attribute. Metadata decoded from JSON responses may
// carry numbers as floats.
func intAttr(meta chroma.DocumentMetadata, key string) int64 {
	if v, ok := meta.GetInt(key); ok {
		return v
	}

	if v, ok := meta.GetFloat(key); ok {
		return int64(v)
	}

	return 0
}
