package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	gemini "github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
	openai "github.com/amikos-tech/chroma-go/pkg/embeddings/openai"
	"github.com/gamma-omg/rag-search/chunker"
	"github.com/gamma-omg/rag-search/docstore"
	"github.com/gamma-omg/rag-search/embedder"
	"github.com/gamma-omg/rag-search/pipeline"
	"github.com/gamma-omg/rag-search/readers"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

type app struct {
	cfg      *Config
	log      *slog.Logger
	logFile  io.Closer
	index    *docstore.Index
	ingester *pipeline.Ingester
	searcher *pipeline.Searcher
	registry *prometheus.Registry
	readers  []readers.Reader
}

func createEmbeddingFunction(cfg *Config) (embeddings.EmbeddingFunction, error) {
	if cfg.OpenAI != nil {
		ef, err := openai.NewOpenAIEmbeddingFunction(
			cfg.OpenAI.ApiKey,
			openai.WithModel(openai.EmbeddingModel(cfg.OpenAI.Model)))
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI embedding function: %w", err)
		}

		return ef, nil
	}

	if cfg.Gemini != nil {
		ef, err := gemini.NewGeminiEmbeddingFunction(
			gemini.WithAPIKey(cfg.Gemini.ApiKey),
			gemini.WithDefaultModel(embeddings.EmbeddingModel(cfg.Gemini.Model)))
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
		}

		return ef, nil
	}

	return nil, errors.New("invalid embeddings provider configuration")
}

// createProvider returns the embedding provider and the embedding function to
// register with the collection.
func createProvider(cfg *Config) (embedder.Provider, embeddings.EmbeddingFunction, error) {
	if cfg.Hash != nil {
		dims := cfg.Hash.Dimensions
		if dims == 0 {
			dims = embedder.DefaultHashDimensions
		}
		hp := embedder.NewHashProvider(dims)
		return hp, hp, nil
	}

	ef, err := createEmbeddingFunction(cfg)
	if err != nil {
		return nil, nil, err
	}

	return embedder.NewChromaProvider(ef), ef, nil
}

func initIndex(cfg *Config, ef embeddings.EmbeddingFunction, reset bool) (*docstore.Index, error) {
	if cfg.Store.Backend == "memory" {
		return docstore.NewMemoryIndex(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	index, err := docstore.NewChromaIndex(ctx, docstore.ChromaConfig{
		BaseURL:       cfg.Store.ChromaAddr,
		Collection:    cfg.Store.Collection,
		EmbeddingFunc: ef,
		Reset:         reset,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Chroma doc store: %w", err)
	}

	return index, nil
}

func initLogger(cfg *Config) (*slog.Logger, io.Closer, error) {
	opts := &slog.HandlerOptions{Level: cfg.level()}
	if cfg.LogFile == "" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), io.NopCloser(nil), nil
	}

	logFile, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	return slog.New(slog.NewJSONHandler(logFile, opts)), logFile, nil
}

func newApp(cfgPath string, reset bool) (*app, error) {
	if err := loadEnv(".env"); err != nil {
		return nil, err
	}

	cfg, err := readConfig(cfgPath)
	if err != nil {
		return nil, err
	}

	logger, logFile, err := initLogger(cfg)
	if err != nil {
		return nil, err
	}

	provider, ef, err := createProvider(cfg)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	index, err := initIndex(cfg, ef, reset)
	if err != nil {
		logFile.Close()
		return nil, err
	}

	ch, err := chunker.New(cfg.Chunking)
	if err != nil {
		logFile.Close()
		return nil, fmt.Errorf("invalid chunking config: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := pipeline.NewMetrics(reg)

	gw := embedder.NewGateway(provider, cfg.Embedding)
	rs := []readers.Reader{&readers.TxtFileReader{}, &readers.PdfFileReader{}, &readers.UniversalFileReader{}}

	return &app{
		cfg:     cfg,
		log:     logger,
		logFile: logFile,
		index:   index,
		ingester: pipeline.NewIngester(logger, ch, gw, index, rs,
			pipeline.WithValidator(cfg.Limits),
			pipeline.WithRetryConfig(cfg.Retry),
			pipeline.WithIngestMetrics(metrics)),
		searcher: pipeline.NewSearcher(logger, gw, index, cfg.Limits, cfg.Search, metrics),
		registry: reg,
		readers:  rs,
	}, nil
}

func (a *app) Close() error {
	return a.logFile.Close()
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
