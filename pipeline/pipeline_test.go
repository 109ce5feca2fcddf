package pipeline

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/gamma-omg/rag-search/chunker"
	"github.com/gamma-omg/rag-search/embedder"
	"github.com/gamma-omg/rag-search/readers"
	"github.com/stretchr/testify/require"
)

var discard = slog.New(slog.DiscardHandler)

// fakeReader serves fixed pages for any file with its extension.
type fakeReader struct {
	ext   string
	pages []readers.Page
	err   error
	calls int
}

func (r *fakeReader) CanRead(path string) bool {
	return filepath.Ext(path) == r.ext
}

func (r *fakeReader) ReadPages(path string) ([]readers.Page, error) {
	r.calls++
	return r.pages, r.err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func newChunker(t *testing.T, size, overlap, minSize int) *chunker.Chunker {
	t.Helper()

	cfg := chunker.DefaultConfig()
	cfg.ChunkSize = size
	cfg.ChunkOverlap = overlap
	cfg.MinChunkSize = minSize
	ch, err := chunker.New(cfg)
	require.NoError(t, err)

	return ch
}

func hashGateway() *embedder.Gateway {
	return embedder.NewGateway(embedder.NewHashProvider(embedder.DefaultHashDimensions), embedder.DefaultConfig())
}

func noDelay() RetryConfig {
	return RetryConfig{Attempts: 3}
}

func ctx() context.Context {
	return context.Background()
}
