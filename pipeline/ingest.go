// Package pipeline orchestrates document ingestion and search over the
// chunker, the embedding gateway and the vector index.
package pipeline

import (
	"context"
	"fmt"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gamma-omg/rag-search/apperr"
	"github.com/gamma-omg/rag-search/chunker"
	"github.com/gamma-omg/rag-search/docstore"
	"github.com/gamma-omg/rag-search/readers"
)

type State int

const (
	StateValidating State = iota
	StateExtracting
	StateChunking
	StateEmbedding
	StateStoring
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateValidating:
		return "validating"
	case StateExtracting:
		return "extracting"
	case StateChunking:
		return "chunking"
	case StateEmbedding:
		return "embedding"
	case StateStoring:
		return "storing"
	case StateDone:
		return "done"
	default:
		return "failed"
	}
}

type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

type Store interface {
	Add(ctx context.Context, records []docstore.Record) error
	DeleteChunksFrom(ctx context.Context, name string, from int) error
}

// IngestReport describes one ingestion. Statistics are computed from the
// chunks produced by that run.
type IngestReport struct {
	Document     string
	Pages        int
	Chunks       int
	AvgWords     float64
	Checksum     uint32
	State        State
	FailedIn     State
	Duration     time.Duration
	StoreAttempt int
}

type Ingester struct {
	log       *slog.Logger
	chunker   *chunker.Chunker
	embedder  Embedder
	store     Store
	readers   []readers.Reader
	validator Validator
	retry     RetryConfig
	metrics   *Metrics
	locks     KeyedMutex
	now       func() time.Time
}

type IngesterOption func(*Ingester)

func WithValidator(v Validator) IngesterOption {
	return func(in *Ingester) { in.validator = v }
}

func WithRetryConfig(c RetryConfig) IngesterOption {
	return func(in *Ingester) { in.retry = c }
}

func WithIngestMetrics(m *Metrics) IngesterOption {
	return func(in *Ingester) { in.metrics = m }
}

func WithClock(now func() time.Time) IngesterOption {
	return func(in *Ingester) { in.now = now }
}

func NewIngester(log *slog.Logger, ch *chunker.Chunker, emb Embedder, store Store, rs []readers.Reader, opts ...IngesterOption) *Ingester {
	in := &Ingester{
		log:       log,
		chunker:   ch,
		embedder:  emb,
		store:     store,
		readers:   rs,
		validator: DefaultValidator(),
		retry:     DefaultRetryConfig(),
		now:       time.Now,
	}

	for _, o := range opts {
		o(in)
	}

	return in
}

// Ingest stores the file under its base name.
func (in *Ingester) Ingest(ctx context.Context, path string) (*IngestReport, error) {
	return in.IngestAs(ctx, path, filepath.Base(path))
}

// IngestAs replaces whatever the index holds for name with the chunks of the
// file at path. A failed ingestion leaves the previous version searchable.
// Ingestions of the same name are serialized.
func (in *Ingester) IngestAs(ctx context.Context, path, name string) (*IngestReport, error) {
	unlock := in.locks.Lock(name)
	defer unlock()

	start := time.Now()
	rep := &IngestReport{Document: name, State: StateValidating}
	log := in.log.With(slog.String("document", name))

	enter := func(s State) {
		rep.State = s
		log.Debug("ingestion state changed", slog.String("state", s.String()))
	}

	fail := func(err error) (*IngestReport, error) {
		rep.FailedIn = rep.State
		rep.State = StateFailed
		rep.Duration = time.Since(start)
		in.metrics.observeIngest(err, 0, rep.Duration)
		log.Error("ingestion failed",
			slog.String("state", rep.FailedIn.String()),
			slog.String("kind", apperr.KindOf(err).String()),
			slog.Any("error", err))
		return rep, err
	}

	if strings.TrimSpace(name) == "" {
		return fail(apperr.Validationf("document name must not be empty"))
	}
	if res := in.validator.File(path); !res.IsValid {
		return fail(res.Err())
	}

	reader := readers.Find(path, in.readers...)
	if reader == nil {
		return fail(apperr.Validationf("no reader for file type %q", filepath.Ext(path)))
	}

	enter(StateExtracting)
	crc, err := Checksum(path)
	if err != nil {
		return fail(apperr.Extractionf(err, "failed to read %s", name))
	}
	rep.Checksum = crc

	pages, err := reader.ReadPages(path)
	if err != nil {
		if apperr.KindOf(err) != apperr.Extraction {
			err = apperr.Extractionf(err, "failed to extract text from %s", name)
		}
		return fail(err)
	}

	enter(StateChunking)
	chunks := in.chunkPages(pages)
	if len(chunks) == 0 {
		return fail(apperr.Validationf("no usable text in %s", name))
	}
	in.fillStats(rep, chunks)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	ts := in.now().UTC()
	err = WithRetry(ctx, in.retry.Attempts, LinearBackoff(in.retry.BaseDelay), func(ctx context.Context, attempt int) error {
		rep.StoreAttempt = attempt
		if attempt > 1 {
			in.metrics.observeRetry()
		}

		err := in.embedAndStore(ctx, enter, name, crc, ts, chunks, texts)
		if err != nil && attempt < in.retry.Attempts && apperr.Retryable(err) {
			log.Warn("embed and store attempt failed",
				slog.Int("attempt", attempt),
				slog.Any("error", err))
		}
		return err
	})
	if err != nil {
		return fail(err)
	}

	enter(StateDone)
	rep.Duration = time.Since(start)
	in.metrics.observeIngest(nil, rep.Chunks, rep.Duration)
	log.Info("document ingested",
		slog.Int("pages", rep.Pages),
		slog.Int("chunks", rep.Chunks),
		slog.Float64("avg_words", rep.AvgWords),
		slog.Duration("duration", rep.Duration))

	return rep, nil
}

func (in *Ingester) embedAndStore(ctx context.Context, enter func(State), name string, crc uint32, ts time.Time, chunks []chunker.Chunk, texts []string) error {
	enter(StateEmbedding)
	vectors, err := in.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(chunks) {
		return apperr.Embeddingf(nil, "got %d embeddings for %d chunks", len(vectors), len(chunks))
	}

	enter(StateStoring)
	records := make([]docstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = docstore.Record{
			ID:        docstore.RecordID(name, c.ChunkNum),
			Text:      c.Text,
			Embedding: vectors[i],
			Meta: docstore.Metadata{
				Document:  name,
				Page:      c.PageNum,
				Chunk:     c.ChunkNum,
				Checksum:  crc,
				Timestamp: ts,
			},
		}
	}

	// ids are stable per chunk number, so the upsert overwrites the previous
	// version in place and only its surplus chunks need removing
	if err := in.store.Add(ctx, records); err != nil {
		return err
	}

	return in.store.DeleteChunksFrom(ctx, name, len(records))
}

// chunkPages chunks every page and numbers the chunks across the whole
// document.
func (in *Ingester) chunkPages(pages []readers.Page) []chunker.Chunk {
	var res []chunker.Chunk
	for _, p := range pages {
		for _, c := range in.chunker.Chunk(p.Text, p.Number) {
			c.ChunkNum = len(res)
			res = append(res, c)
		}
	}

	return res
}

func (in *Ingester) fillStats(rep *IngestReport, chunks []chunker.Chunk) {
	pages := make(map[int]struct{})
	words := 0
	for _, c := range chunks {
		pages[c.PageNum] = struct{}{}
		words += c.TokenCount
	}

	rep.Pages = len(pages)
	rep.Chunks = len(chunks)
	rep.AvgWords = float64(words) / float64(len(chunks))
}

// Checksum is the CRC-32 of the file at path, stored as file_crc metadata.
func Checksum(path string) (uint32, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	h := crc32.NewIEEE()
	if _, err := io.Copy(h, f); err != nil {
		return 0, fmt.Errorf("hashing file: %w", err)
	}

	return h.Sum32(), nil
}
