package pipeline

import (
	"cmp"
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/gamma-omg/rag-search/docstore"
)

const (
	MessageNoDocuments = "no documents available to search"
	MessageNoResults   = "no relevant results found"
)

type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

type Index interface {
	Query(ctx context.Context, vector []float32, k int, filter *docstore.Filter) ([]docstore.Hit, error)
	Chunk(ctx context.Context, document string, chunk int) (*docstore.Record, error)
	HasDocuments(ctx context.Context) (bool, error)
}

type SearchRequest struct {
	Query    string
	TopK     int
	MinScore float64
	Document string
}

type SearchResult struct {
	Text     string  `json:"text"`
	Document string  `json:"document"`
	Page     int     `json:"page"`
	Chunk    int     `json:"chunk"`
	Score    float64 `json:"score"`
	Context  *string `json:"context"`
}

// SearchResponse carries the ranked results. Message explains an empty
// result.
type SearchResponse struct {
	Query   string
	Results []SearchResult
	Message string
	Elapsed time.Duration
}

type SearchConfig struct {
	TopK          int     `yaml:"top_k" validate:"gte=1"`
	MinScore      float64 `yaml:"min_score" validate:"gte=0,lte=1"`
	ContextLength int     `yaml:"context_length" validate:"gte=0"`
}

func DefaultSearchConfig() SearchConfig {
	return SearchConfig{TopK: 3, MinScore: 0.3, ContextLength: 100}
}

type Searcher struct {
	log       *slog.Logger
	embedder  QueryEmbedder
	index     Index
	validator Validator
	cfg       SearchConfig
	metrics   *Metrics
}

func NewSearcher(log *slog.Logger, emb QueryEmbedder, index Index, v Validator, cfg SearchConfig, m *Metrics) *Searcher {
	return &Searcher{
		log:       log,
		embedder:  emb,
		index:     index,
		validator: v,
		cfg:       cfg,
		metrics:   m,
	}
}

// Defaults returns a request for query using the configured top_k and
// min_score.
func (s *Searcher) Defaults(query string) SearchRequest {
	return SearchRequest{Query: query, TopK: s.cfg.TopK, MinScore: s.cfg.MinScore}
}

func (s *Searcher) Search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	start := time.Now()
	resp, err := s.search(ctx, req)
	if resp != nil {
		resp.Elapsed = time.Since(start)
	}

	n := 0
	if resp != nil {
		n = len(resp.Results)
	}
	s.metrics.observeSearch(err, n, time.Since(start))

	return resp, err
}

func (s *Searcher) search(ctx context.Context, req SearchRequest) (*SearchResponse, error) {
	if err := s.validator.Query(req.Query).Err(); err != nil {
		return nil, err
	}
	if err := s.validator.SearchParams(req.TopK, req.MinScore).Err(); err != nil {
		return nil, err
	}

	query := strings.TrimSpace(req.Query)
	resp := &SearchResponse{Query: query, Results: []SearchResult{}}

	ok, err := s.index.HasDocuments(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		resp.Message = MessageNoDocuments
		return resp, nil
	}

	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	var filter *docstore.Filter
	if req.Document != "" {
		filter = &docstore.Filter{Document: req.Document}
	}

	hits, err := s.index.Query(ctx, vec, req.TopK, filter)
	if err != nil {
		return nil, err
	}

	for _, h := range hits {
		score := min(1.0, 1-h.Distance)
		if score < req.MinScore {
			continue
		}

		resp.Results = append(resp.Results, SearchResult{
			Text:     h.Text,
			Document: h.Meta.Document,
			Page:     h.Meta.Page,
			Chunk:    h.Meta.Chunk,
			Score:    score,
			Context:  s.neighbors(ctx, h.Meta.Document, h.Meta.Chunk),
		})
	}

	slices.SortStableFunc(resp.Results, func(a, b SearchResult) int {
		return cmp.Or(
			cmp.Compare(b.Score, a.Score),
			cmp.Compare(a.Chunk, b.Chunk),
			cmp.Compare(a.Page, b.Page),
		)
	})

	if len(resp.Results) == 0 {
		resp.Message = MessageNoResults
	}

	s.log.Debug("search finished",
		slog.String("query", query),
		slog.Int("hits", len(hits)),
		slog.Int("results", len(resp.Results)))

	return resp, nil
}

// neighbors joins the tail of the previous chunk and the head of the next one.
// Lookup failures yield nil.
func (s *Searcher) neighbors(ctx context.Context, document string, chunk int) *string {
	var parts []string

	if chunk > 0 {
		prev, err := s.index.Chunk(ctx, document, chunk-1)
		if err != nil {
			s.log.Warn("failed to load context", slog.String("document", document), slog.Any("error", err))
			return nil
		}
		if prev != nil {
			parts = append(parts, tail(prev.Text, s.cfg.ContextLength))
		}
	}

	next, err := s.index.Chunk(ctx, document, chunk+1)
	if err != nil {
		s.log.Warn("failed to load context", slog.String("document", document), slog.Any("error", err))
		return nil
	}
	if next != nil {
		parts = append(parts, head(next.Text, s.cfg.ContextLength))
	}

	if len(parts) == 0 {
		return nil
	}

	res := strings.Join(parts, " ... ")
	return &res
}

func head(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n])
}

func tail(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[len(r)-n:])
}
