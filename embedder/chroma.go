package embedder

import (
	"context"
	"fmt"

	"github.com/amikos-tech/chroma-go/pkg/embeddings"
)

// ChromaProvider adapts a chroma-go embedding function (OpenAI, Gemini, ...).
type ChromaProvider struct {
	ef embeddings.EmbeddingFunction
}

func NewChromaProvider(ef embeddings.EmbeddingFunction) *ChromaProvider {
	return &ChromaProvider{ef: ef}
}

func (p *ChromaProvider) EmbeddingFunction() embeddings.EmbeddingFunction {
	return p.ef
}

func (p *ChromaProvider) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	embs, err := p.ef.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed documents: %w", err)
	}

	res := make([][]float32, 0, len(embs))
	for _, e := range embs {
		res = append(res, e.ContentAsFloat32())
	}

	return res, nil
}
