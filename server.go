package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gamma-omg/rag-search/apperr"
	"github.com/gamma-omg/rag-search/docstore"
	"github.com/gamma-omg/rag-search/pipeline"
	"github.com/gamma-omg/rag-search/report"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type docSearcher interface {
	Search(ctx context.Context, req pipeline.SearchRequest) (*pipeline.SearchResponse, error)
	Defaults(query string) pipeline.SearchRequest
}

type docLister interface {
	Documents(ctx context.Context) ([]docstore.DocumentInfo, error)
}

func NewRagServer(searcher docSearcher, lister docLister, f report.Formatter) *server.MCPServer {
	search := mcp.NewTool("search_documents",
		mcp.WithDescription("Search user documents and return the most relevant passages for RAG"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Maximum number of passages to return"),
		),
		mcp.WithNumber("min_score",
			mcp.Description("Minimum similarity score between 0 and 1"),
		),
		mcp.WithString("document",
			mcp.Description("Restrict the search to one document"),
		))

	list := mcp.NewTool("list_documents",
		mcp.WithDescription("List the indexed documents"))

	srv := server.NewMCPServer("RAG", "0.1.0", server.WithToolCapabilities(false))
	srv.AddTool(search, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		req := searcher.Defaults(q)
		req.TopK = request.GetInt("top_k", req.TopK)
		req.MinScore = request.GetFloat("min_score", req.MinScore)
		req.Document = request.GetString("document", "")

		resp, err := searcher.Search(ctx, req)
		if err != nil {
			return mcp.NewToolResultError(apperr.Public(err)), nil
		}

		rec := f.Record(resp.Query, resp.Results, time.Now())
		if len(rec.Results) == 0 {
			msg := resp.Message
			if msg == "" {
				msg = report.MessageBelowThreshold
			}
			return mcp.NewToolResultText(msg), nil
		}

		var response strings.Builder
		for _, r := range rec.Results {
			raw, err := json.Marshal(struct {
				Score   float64 `json:"score"`
				File    string  `json:"file"`
				Page    int     `json:"page"`
				Text    string  `json:"text"`
				Context *string `json:"context,omitempty"`
			}{
				Score:   r.Score,
				File:    r.Document,
				Page:    r.Page,
				Text:    r.Text,
				Context: r.Context,
			})
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}

			fmt.Fprintf(&response, "%s\n", raw)
		}

		return mcp.NewToolResultText(response.String()), nil
	})

	srv.AddTool(list, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		docs, err := lister.Documents(ctx)
		if err != nil {
			return mcp.NewToolResultError(apperr.Public(err)), nil
		}

		var response strings.Builder
		for _, d := range docs {
			fmt.Fprintf(&response, "%s (%d pages, %d chunks)\n", d.Name, d.Pages, d.Chunks)
		}
		if response.Len() == 0 {
			return mcp.NewToolResultText("no documents indexed"), nil
		}

		return mcp.NewToolResultText(response.String()), nil
	})

	return srv
}
