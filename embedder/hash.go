package embedder

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/amikos-tech/chroma-go/pkg/embeddings"
)

const DefaultHashDimensions = 512

// HashProvider is an offline bag-of-words model: every lowercased token is
// hashed into one of a fixed number of buckets.
type HashProvider struct {
	dims int
}

func NewHashProvider(dims int) *HashProvider {
	if dims <= 0 {
		dims = DefaultHashDimensions
	}

	return &HashProvider{dims: dims}
}

func (p *HashProvider) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	res := make([][]float32, 0, len(texts))
	for _, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res = append(res, p.vector(t))
	}

	return res, nil
}

// EmbedDocuments lets the provider register with a chroma collection, which
// otherwise falls back to downloading its default onnx model.
func (p *HashProvider) EmbedDocuments(ctx context.Context, texts []string) ([]embeddings.Embedding, error) {
	vecs, err := p.Encode(ctx, texts)
	if err != nil {
		return nil, err
	}

	return embeddings.NewEmbeddingsFromFloat32(vecs)
}

func (p *HashProvider) EmbedQuery(ctx context.Context, text string) (embeddings.Embedding, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return embeddings.NewEmbeddingFromFloat32(p.vector(text)), nil
}

var _ embeddings.EmbeddingFunction = (*HashProvider)(nil)

func (p *HashProvider) vector(text string) []float32 {
	v := make([]float32, p.dims)
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	for _, tok := range tokens {
		h := fnv.New32a()
		h.Write([]byte(tok))
		v[h.Sum32()%uint32(p.dims)]++
	}

	// keeps empty or punctuation-only text encodable
	if len(tokens) == 0 {
		v[0] = 1
	}

	return v
}
