// Package report renders search results for programs and for people.
package report

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gamma-omg/rag-search/pipeline"
)

const (
	MessageNoResults       = "No relevant results found."
	MessageBelowThreshold  = "No sufficiently relevant results found."
	separatorWidth         = 80
	defaultPageSize        = 5
	defaultThreshold       = 0.3
	defaultMaxContextChars = 100
)

// Formatter applies its own score threshold on top of the one used by the
// search.
type Formatter struct {
	ShowScores        bool    `yaml:"show_scores"`
	MaxContextLength  int     `yaml:"max_context_length" validate:"gte=0"`
	MinScoreThreshold float64 `yaml:"min_score_threshold" validate:"gte=0,lte=1"`
	PageSize          int     `yaml:"page_size" validate:"gte=1"`
}

func DefaultFormatter() Formatter {
	return Formatter{
		ShowScores:        true,
		MaxContextLength:  defaultMaxContextChars,
		MinScoreThreshold: defaultThreshold,
		PageSize:          defaultPageSize,
	}
}

type Record struct {
	Query        string                  `json:"query"`
	Timestamp    time.Time               `json:"timestamp"`
	TotalResults int                     `json:"total_results"`
	Results      []pipeline.SearchResult `json:"results"`
}

func (f Formatter) filter(results []pipeline.SearchResult) []pipeline.SearchResult {
	res := make([]pipeline.SearchResult, 0, len(results))
	for _, r := range results {
		if r.Score < f.MinScoreThreshold {
			continue
		}

		r.Context = f.clip(r.Context)
		res = append(res, r)
	}

	return res
}

func (f Formatter) clip(ctx *string) *string {
	if ctx == nil || f.MaxContextLength <= 0 || utf8.RuneCountInString(*ctx) <= f.MaxContextLength {
		return ctx
	}

	c := string([]rune(*ctx)[:f.MaxContextLength])
	return &c
}

// Record builds the structured form of results.
func (f Formatter) Record(query string, results []pipeline.SearchResult, at time.Time) Record {
	kept := f.filter(results)
	return Record{
		Query:        query,
		Timestamp:    at,
		TotalResults: len(kept),
		Results:      kept,
	}
}

// Pages renders results as plain-text pages of at most PageSize results.
// The first page carries the summary header.
func (f Formatter) Pages(query string, results []pipeline.SearchResult) []string {
	if len(results) == 0 {
		return []string{MessageNoResults}
	}

	kept := f.filter(results)
	if len(kept) == 0 {
		return []string{MessageBelowThreshold}
	}

	size := f.PageSize
	if size < 1 {
		size = defaultPageSize
	}
	total := (len(kept) + size - 1) / size

	pages := make([]string, 0, total)
	for p := range total {
		var b strings.Builder
		if p == 0 {
			fmt.Fprintf(&b, "Results for: '%s'\n", query)
			fmt.Fprintf(&b, "Found: %d relevant passages\n", len(kept))
		}

		end := min((p+1)*size, len(kept))
		for i := p * size; i < end; i++ {
			f.writeResult(&b, kept[i], i)
		}

		if total > 1 {
			fmt.Fprintf(&b, "\nPage %d/%d\n", p+1, total)
		}
		pages = append(pages, b.String())
	}

	return pages
}

// Text renders all pages as one report.
func (f Formatter) Text(query string, results []pipeline.SearchResult) string {
	return strings.Join(f.Pages(query, results), "\n")
}

func (f Formatter) writeResult(b *strings.Builder, r pipeline.SearchResult, i int) {
	fmt.Fprintf(b, "\n%s\n", strings.Repeat("=", separatorWidth))
	fmt.Fprintf(b, "Result %d\n", i+1)
	fmt.Fprintf(b, "Document: %s (page %d)\n", r.Document, r.Page)
	if f.ShowScores {
		fmt.Fprintf(b, "Relevance: %.1f%%\n", r.Score*100)
	}
	fmt.Fprintf(b, "%s\n", strings.Repeat("-", separatorWidth))
	fmt.Fprintf(b, "%s\n", r.Text)

	if r.Context != nil && *r.Context != "" {
		fmt.Fprintf(b, "\nContext:\n...%s...\n", *r.Context)
	}
}
