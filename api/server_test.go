package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gamma-omg/rag-search/apperr"
	"github.com/gamma-omg/rag-search/chunker"
	"github.com/gamma-omg/rag-search/docstore"
	"github.com/gamma-omg/rag-search/embedder"
	"github.com/gamma-omg/rag-search/pipeline"
	"github.com/gamma-omg/rag-search/readers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const key = "secret"

type fixture struct {
	srv   *Server
	h     http.Handler
	index *docstore.Index
	dir   string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	log := slog.New(slog.DiscardHandler)
	ix := docstore.NewMemoryIndex()
	gw := embedder.NewGateway(embedder.NewHashProvider(embedder.DefaultHashDimensions), embedder.DefaultConfig())

	cc := chunker.DefaultConfig()
	cc.ChunkSize = 40
	cc.ChunkOverlap = 0
	cc.MinChunkSize = 10
	ch, err := chunker.New(cc)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := pipeline.NewMetrics(reg)
	v := pipeline.DefaultValidator()

	in := pipeline.NewIngester(log, ch, gw, ix, []readers.Reader{&readers.TxtFileReader{}},
		pipeline.WithValidator(v),
		pipeline.WithRetryConfig(pipeline.RetryConfig{Attempts: 1}),
		pipeline.WithIngestMetrics(m))
	s := pipeline.NewSearcher(log, gw, ix, v, pipeline.SearchConfig{TopK: 3, MinScore: 0, ContextLength: 100}, m)

	cfg := DefaultConfig()
	cfg.APIKeys = []string{"other", key}
	cfg.UploadDir = t.TempDir()
	cfg.MaxUploadSize = 1024

	srv := NewServer(log, cfg, in, s, ix, v, reg)
	srv.now = func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

	return &fixture{srv: srv, h: srv.Handler(), index: ix, dir: cfg.UploadDir}
}

func (f *fixture) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()

	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func uploadRequest(t *testing.T, name, content string) *http.Request {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set(APIKeyHeader, key)
	return req
}

func searchRequest(body string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/search", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(APIKeyHeader, key)
	return req
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

// stubSearcher answers every search with fixed results.
type stubSearcher struct {
	results []pipeline.SearchResult
	got     pipeline.SearchRequest
}

func (s *stubSearcher) Search(ctx context.Context, req pipeline.SearchRequest) (*pipeline.SearchResponse, error) {
	s.got = req
	return &pipeline.SearchResponse{Query: req.Query, Results: s.results}, nil
}

func (s *stubSearcher) Defaults(query string) pipeline.SearchRequest {
	return pipeline.SearchRequest{Query: query, TopK: 3, MinScore: 0.3}
}

func Test_Search_ReturnsPipelineResults(t *testing.T) {
	s := &stubSearcher{results: []pipeline.SearchResult{
		{Text: "weak match", Document: "doc.txt", Page: 1, Chunk: 0, Score: 0.1},
	}}
	cfg := DefaultConfig()
	cfg.APIKeys = []string{key}
	srv := NewServer(slog.New(slog.DiscardHandler), cfg, nil, s, docstore.NewMemoryIndex(), pipeline.DefaultValidator(), prometheus.NewRegistry())

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, searchRequest(`{"query":"anything","min_score":0}`))
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, 0.0, s.got.MinScore)
	reply := decode[searchReply](t, rec)
	assert.Equal(t, 1, reply.TotalResults)
	require.Len(t, reply.Results, 1)
	assert.Equal(t, "weak match", reply.Results[0].Text)
	assert.InDelta(t, 0.1, reply.Results[0].Score, 1e-9)
}

func Test_Auth(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		method string
		path   string
		key    string
		status int
	}{
		{method: http.MethodGet, path: "/documents", key: "", status: http.StatusUnauthorized},
		{method: http.MethodGet, path: "/documents", key: "wrong", status: http.StatusForbidden},
		{method: http.MethodPost, path: "/search", key: "wrong", status: http.StatusForbidden},
		{method: http.MethodPost, path: "/documents/upload", key: "", status: http.StatusUnauthorized},
		{method: http.MethodGet, path: "/documents", key: key, status: http.StatusOK},
		{method: http.MethodGet, path: "/health", key: "", status: http.StatusOK},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			req := httptest.NewRequest(c.method, c.path, nil)
			if c.key != "" {
				req.Header.Set(APIKeyHeader, c.key)
			}

			rec := f.do(t, req)
			assert.Equal(t, c.status, rec.Code)
			assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
		})
	}
}

func Test_UploadAndSearch(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, uploadRequest(t, "manual.txt", "Voltage is 230V. Frequency is 50Hz. "))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	up := decode[uploadReply](t, rec)
	assert.Equal(t, "manual.txt", up.Filename)
	assert.Equal(t, 1, up.Chunks)
	assert.Equal(t, 1, up.Pages)
	assert.FileExists(t, filepath.Join(f.dir, "manual.txt"))

	rec = f.do(t, searchRequest(`{"query": "What is the voltage?", "top_k": 1, "min_score": 0}`))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[searchReply](t, rec)
	assert.Equal(t, "What is the voltage?", res.Query)
	assert.Equal(t, 1, res.TotalResults)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "manual.txt", res.Results[0].Document)
	assert.Equal(t, 1, res.Results[0].Page)
	assert.Equal(t, 0, res.Results[0].Chunk)
	assert.GreaterOrEqual(t, res.ExecutionTimeMs, 0.0)

	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	req.Header.Set(APIKeyHeader, key)
	rec = f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	docs := decode[struct {
		Documents []documentReply `json:"documents"`
		Total     int             `json:"total"`
	}](t, rec)
	require.Equal(t, 1, docs.Total)
	assert.Equal(t, "manual.txt", docs.Documents[0].Name)
	assert.Equal(t, 1, docs.Documents[0].Chunks)
}

func Test_Search_EmptyIndex(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, searchRequest(`{"query": "anything"}`))
	require.Equal(t, http.StatusOK, rec.Code)

	res := decode[searchReply](t, rec)
	assert.Equal(t, 0, res.TotalResults)
	assert.Empty(t, res.Results)
	assert.Equal(t, pipeline.MessageNoDocuments, res.Message)
}

func Test_Search_BadRequests(t *testing.T) {
	f := newFixture(t)

	cases := []string{
		`{`,
		`{"query": ""}`,
		`{"query": "voltage", "top_k": 0}`,
		`{"query": "voltage", "top_k": 101}`,
		`{"query": "voltage", "min_score": 1.5}`,
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			rec := f.do(t, searchRequest(c))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode[errorReply](t, rec).Error)
		})
	}
}

func Test_Upload_Rejects(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name    string
		content string
		status  int
	}{
		{name: "run.exe", content: "MZ", status: http.StatusBadRequest},
		{name: "big.txt", content: strings.Repeat("a ", 600), status: http.StatusBadRequest},
		{name: "blank.txt", content: " \n\n ", status: http.StatusBadRequest},
		{name: ".hidden.txt", content: "Hidden text.", status: http.StatusBadRequest},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			rec := f.do(t, uploadRequest(t, c.name, c.content))
			assert.Equal(t, c.status, rec.Code, rec.Body.String())
		})
	}

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func Test_Upload_FailureKeepsStoredFile(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, uploadRequest(t, "manual.txt", "Voltage is 230V. Frequency is 50Hz. "))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = f.do(t, uploadRequest(t, "manual.txt", " \n "))
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

	entries, err := os.ReadDir(f.dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "manual.txt", entries[0].Name())

	data, err := os.ReadFile(filepath.Join(f.dir, "manual.txt"))
	require.NoError(t, err)
	assert.Equal(t, "Voltage is 230V. Frequency is 50Hz. ", string(data))
}

func Test_Upload_MissingFile(t *testing.T) {
	f := newFixture(t)

	req := httptest.NewRequest(http.MethodPost, "/documents/upload", strings.NewReader(""))
	req.Header.Set(APIKeyHeader, key)
	rec := f.do(t, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func Test_Delete(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, uploadRequest(t, "manual.txt", "Voltage is 230V. Frequency is 50Hz. "))
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodDelete, "/documents/manual.txt", nil)
	req.Header.Set(APIKeyHeader, key)
	rec = f.do(t, req)
	require.Equal(t, http.StatusOK, rec.Code)

	has, err := f.index.HasDocuments(t.Context())
	require.NoError(t, err)
	assert.False(t, has)
}

func Test_Metrics(t *testing.T) {
	f := newFixture(t)
	f.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))

	rec := f.do(t, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rag_http_requests_total")
}

func Test_statusFor(t *testing.T) {
	cases := []struct {
		err    error
		status int
	}{
		{err: apperr.Validationf("bad"), status: http.StatusBadRequest},
		{err: apperr.Extractionf(nil, "corrupt"), status: http.StatusUnprocessableEntity},
		{err: apperr.Embeddingf(nil, "down"), status: http.StatusServiceUnavailable},
		{err: apperr.Databasef(nil, "down"), status: http.StatusServiceUnavailable},
		{err: os.ErrPermission, status: http.StatusInternalServerError},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			assert.Equal(t, c.status, statusFor(c.err))
		})
	}
}

func Test_InternalErrorIsHidden(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/documents", nil)

	f.srv.fail(rec, req, fmt.Errorf("open /var/secret/db: %w", os.ErrPermission))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal server error", decode[errorReply](t, rec).Error)
}
