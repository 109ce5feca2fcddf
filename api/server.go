// Package api exposes ingestion and search over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gamma-omg/rag-search/docstore"
	"github.com/gamma-omg/rag-search/pipeline"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const APIKeyHeader = "X-API-Key"

type Ingester interface {
	IngestAs(ctx context.Context, path, name string) (*pipeline.IngestReport, error)
}

type Searcher interface {
	Search(ctx context.Context, req pipeline.SearchRequest) (*pipeline.SearchResponse, error)
	Defaults(query string) pipeline.SearchRequest
}

type Catalog interface {
	Documents(ctx context.Context) ([]docstore.DocumentInfo, error)
	DeleteDocument(ctx context.Context, name string) error
}

type Config struct {
	Addr          string   `yaml:"addr" validate:"required"`
	APIKeys       []string `yaml:"api_keys" validate:"required,min=1,dive,required"`
	UploadDir     string   `yaml:"upload_dir" validate:"required"`
	MaxUploadSize int64    `yaml:"max_upload_size" validate:"gte=1"`
}

func DefaultConfig() Config {
	return Config{
		Addr:          "127.0.0.1:8080",
		APIKeys:       []string{"test_key"},
		UploadDir:     "uploads",
		MaxUploadSize: 100 << 20,
	}
}

type Server struct {
	log      *slog.Logger
	cfg      Config
	ingester Ingester
	searcher Searcher
	catalog  Catalog
	files    pipeline.Validator
	validate *validator.Validate
	registry *prometheus.Registry
	requests *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	now      func() time.Time
}

func NewServer(log *slog.Logger, cfg Config, in Ingester, s Searcher, c Catalog, files pipeline.Validator, reg *prometheus.Registry) *Server {
	srv := &Server{
		log:      log,
		cfg:      cfg,
		ingester: in,
		searcher: s,
		catalog:  c,
		files:    files,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		registry: reg,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rag_http_requests_total",
			Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rag_http_request_duration_seconds",
			Help:    "HTTP request latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		now: time.Now,
	}

	reg.MustRegister(srv.requests, srv.latency)

	return srv
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	s.route(mux, "POST /documents/upload", true, s.handleUpload)
	s.route(mux, "POST /search", true, s.handleSearch)
	s.route(mux, "GET /documents", true, s.handleDocuments)
	s.route(mux, "DELETE /documents/{name}", true, s.handleDelete)
	s.route(mux, "GET /health", false, s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	return mux
}

func (s *Server) route(mux *http.ServeMux, pattern string, auth bool, h http.HandlerFunc) {
	var next http.Handler = h
	if auth {
		next = s.requireKey(next)
	}

	mux.Handle(pattern, s.observe(pattern, next))
}

// Serve runs the server until ctx is done.
func (s *Server) Serve(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.log.Info("http server starting", slog.String("addr", s.cfg.Addr))
	err := server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}

	return err
}
