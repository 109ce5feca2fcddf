// Package embedder turns chunk text into unit-length vectors through an
// external embedding provider.
package embedder

import (
	"context"
	"fmt"
	"math"

	"github.com/gamma-omg/rag-search/apperr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Provider is the external model contract: one vector per input, same order.
type Provider interface {
	Encode(ctx context.Context, texts []string) ([][]float32, error)
}

type Config struct {
	BatchSize         int     `yaml:"batch_size" validate:"gte=1"`
	Parallelism       int     `yaml:"parallelism" validate:"gte=1"`
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		BatchSize:   32,
		Parallelism: 1,
	}
}

type Gateway struct {
	provider    Provider
	batchSize   int
	parallelism int
	limiter     *rate.Limiter
}

func NewGateway(provider Provider, cfg Config) *Gateway {
	g := &Gateway{
		provider:    provider,
		batchSize:   max(cfg.BatchSize, 1),
		parallelism: max(cfg.Parallelism, 1),
	}

	if cfg.RequestsPerSecond > 0 {
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return g
}

// Embed encodes texts in fixed-size batches. Any failure fails the whole call.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	res := make([][]float32, len(texts))
	if len(texts) == 0 {
		return res, nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.parallelism)

	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))
		eg.Go(func() error {
			return g.encodeBatch(ctx, texts[start:end], res[start:end])
		})
	}

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	dim := len(res[0])
	for i, v := range res {
		if len(v) != dim {
			return nil, apperr.Embeddingf(nil, "vector %d has dimension %d, expected %d", i, len(v), dim)
		}
	}

	return res, nil
}

func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	res, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}

	return res[0], nil
}

func (g *Gateway) encodeBatch(ctx context.Context, batch []string, out [][]float32) error {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return apperr.Embeddingf(err, "waiting for provider rate limit")
		}
	}

	vecs, err := g.provider.Encode(ctx, batch)
	if err != nil {
		return apperr.Embeddingf(err, "failed to encode batch of %d texts", len(batch))
	}

	if len(vecs) != len(batch) {
		return apperr.Embeddingf(nil, "provider returned %d vectors for %d texts", len(vecs), len(batch))
	}

	for i, v := range vecs {
		n, err := normalize(v)
		if err != nil {
			return apperr.Embeddingf(err, "invalid vector for text %d", i)
		}
		out[i] = n
	}

	return nil
}

func normalize(v []float32) ([]float32, error) {
	if len(v) == 0 {
		return nil, fmt.Errorf("empty vector")
	}

	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}

	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, fmt.Errorf("vector norm is %v", norm)
	}

	res := make([]float32, len(v))
	for i, x := range v {
		res[i] = float32(float64(x) / norm)
	}

	return res, nil
}
