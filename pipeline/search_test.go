package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/gamma-omg/rag-search/apperr"
	"github.com/gamma-omg/rag-search/docstore"
	"github.com/gamma-omg/rag-search/readers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockIndex struct {
	mock.Mock
}

func (m *mockIndex) Query(ctx context.Context, vector []float32, k int, filter *docstore.Filter) ([]docstore.Hit, error) {
	args := m.Called(ctx, vector, k, filter)
	hits, _ := args.Get(0).([]docstore.Hit)
	return hits, args.Error(1)
}

func (m *mockIndex) Chunk(ctx context.Context, document string, chunk int) (*docstore.Record, error) {
	args := m.Called(ctx, document, chunk)
	rec, _ := args.Get(0).(*docstore.Record)
	return rec, args.Error(1)
}

func (m *mockIndex) HasDocuments(ctx context.Context) (bool, error) {
	args := m.Called(ctx)
	return args.Bool(0), args.Error(1)
}

type fixedEmbedder struct{}

func (fixedEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func hit(doc string, page, chunk int, distance float64) docstore.Hit {
	return docstore.Hit{
		ID:       docstore.RecordID(doc, chunk),
		Text:     fmt.Sprintf("chunk %d", chunk),
		Meta:     docstore.Metadata{Document: doc, Page: page, Chunk: chunk},
		Distance: distance,
	}
}

func newMockSearcher(ix *mockIndex) *Searcher {
	return NewSearcher(discard, fixedEmbedder{}, ix, DefaultValidator(), DefaultSearchConfig(), nil)
}

func Test_Search_ManualExample(t *testing.T) {
	ix := docstore.NewMemoryIndex()
	gw := hashGateway()
	r := &fakeReader{ext: ".pdf", pages: manualPages}
	in := NewIngester(discard, newChunker(t, 40, 0, 10), gw, ix, []readers.Reader{r}, WithRetryConfig(noDelay()))
	_, err := in.Ingest(ctx(), writeFile(t, "manual.pdf", "x"))
	require.NoError(t, err)

	s := NewSearcher(discard, gw, ix, DefaultValidator(), DefaultSearchConfig(), nil)
	resp, err := s.Search(ctx(), SearchRequest{Query: "What is the voltage?", TopK: 1, MinScore: 0})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)

	res := resp.Results[0]
	assert.Equal(t, "manual.pdf", res.Document)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 0, res.Chunk)
	assert.Greater(t, res.Score, 0.0)
	assert.LessOrEqual(t, res.Score, 1.0)
	assert.Nil(t, res.Context)
	assert.Empty(t, resp.Message)
}

func Test_Search_EmptyIndex(t *testing.T) {
	s := NewSearcher(discard, hashGateway(), docstore.NewMemoryIndex(), DefaultValidator(), DefaultSearchConfig(), nil)

	resp, err := s.Search(ctx(), SearchRequest{Query: "anything", TopK: 3})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.NotNil(t, resp.Results)
	assert.Equal(t, MessageNoDocuments, resp.Message)
}

func Test_Search_Validation(t *testing.T) {
	cases := []SearchRequest{
		{Query: "", TopK: 3},
		{Query: "   ", TopK: 3},
		{Query: "voltage", TopK: 0},
		{Query: "voltage", TopK: 3, MinScore: 2},
	}

	for i, c := range cases {
		t.Run(fmt.Sprintf("case_%d", i), func(t *testing.T) {
			ix := new(mockIndex)
			_, err := newMockSearcher(ix).Search(ctx(), c)
			assert.Equal(t, apperr.Validation, apperr.KindOf(err))
			ix.AssertNotCalled(t, "HasDocuments", mock.Anything)
		})
	}
}

func Test_Search_ThresholdAndOrder(t *testing.T) {
	ix := new(mockIndex)
	ix.On("HasDocuments", mock.Anything).Return(true, nil)
	ix.On("Query", mock.Anything, mock.Anything, 5, (*docstore.Filter)(nil)).Return([]docstore.Hit{
		hit("a", 1, 4, 0.2),
		hit("a", 2, 9, 0.1),
		hit("b", 1, 0, 0.9),
		hit("a", 1, 2, 0.2),
		hit("a", 1, 7, 1.5),
	}, nil)
	ix.On("Chunk", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	resp, err := newMockSearcher(ix).Search(ctx(), SearchRequest{Query: "voltage", TopK: 5, MinScore: 0.5})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	assert.Equal(t, 9, resp.Results[0].Chunk)
	assert.Equal(t, 2, resp.Results[1].Chunk)
	assert.Equal(t, 4, resp.Results[2].Chunk)
	assert.InDelta(t, 0.9, resp.Results[0].Score, 1e-9)
	assert.InDelta(t, 0.8, resp.Results[1].Score, 1e-9)

	for i, r := range resp.Results {
		assert.GreaterOrEqual(t, r.Score, 0.5)
		if i > 0 {
			assert.GreaterOrEqual(t, resp.Results[i-1].Score, r.Score)
		}
	}
}

func Test_Search_TieBreaksByPage(t *testing.T) {
	ix := new(mockIndex)
	ix.On("HasDocuments", mock.Anything).Return(true, nil)
	ix.On("Query", mock.Anything, mock.Anything, 3, mock.Anything).Return([]docstore.Hit{
		hit("b", 5, 1, 0.3),
		hit("a", 2, 1, 0.3),
	}, nil)
	ix.On("Chunk", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	resp, err := newMockSearcher(ix).Search(ctx(), SearchRequest{Query: "voltage", TopK: 3})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 2, resp.Results[0].Page)
	assert.Equal(t, 5, resp.Results[1].Page)
}

func Test_Search_ScoreClamped(t *testing.T) {
	ix := new(mockIndex)
	ix.On("HasDocuments", mock.Anything).Return(true, nil)
	ix.On("Query", mock.Anything, mock.Anything, 1, mock.Anything).Return([]docstore.Hit{hit("a", 1, 0, -1e-7)}, nil)
	ix.On("Chunk", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	resp, err := newMockSearcher(ix).Search(ctx(), SearchRequest{Query: "voltage", TopK: 1})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1.0, resp.Results[0].Score)
}

func Test_Search_NoRelevantResults(t *testing.T) {
	ix := new(mockIndex)
	ix.On("HasDocuments", mock.Anything).Return(true, nil)
	ix.On("Query", mock.Anything, mock.Anything, 3, mock.Anything).Return([]docstore.Hit{hit("a", 1, 0, 0.95)}, nil)

	resp, err := newMockSearcher(ix).Search(ctx(), SearchRequest{Query: "voltage", TopK: 3, MinScore: 0.3})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.Equal(t, MessageNoResults, resp.Message)
}

func Test_Search_DocumentFilter(t *testing.T) {
	ix := new(mockIndex)
	ix.On("HasDocuments", mock.Anything).Return(true, nil)
	ix.On("Query", mock.Anything, mock.Anything, 3, &docstore.Filter{Document: "manual.pdf"}).Return(nil, nil)

	_, err := newMockSearcher(ix).Search(ctx(), SearchRequest{Query: "voltage", TopK: 3, Document: "manual.pdf"})
	require.NoError(t, err)
	ix.AssertExpectations(t)
}

func Test_Search_Context(t *testing.T) {
	ix := new(mockIndex)
	ix.On("HasDocuments", mock.Anything).Return(true, nil)
	ix.On("Query", mock.Anything, mock.Anything, 3, mock.Anything).Return([]docstore.Hit{
		hit("a", 1, 1, 0.1),
		hit("a", 1, 0, 0.2),
		hit("a", 1, 5, 0.3),
	}, nil)
	ix.On("Chunk", mock.Anything, "a", 0).Return(&docstore.Record{Text: "0123456789abc"}, nil)
	ix.On("Chunk", mock.Anything, "a", 1).Return(&docstore.Record{Text: "middle"}, nil)
	ix.On("Chunk", mock.Anything, "a", 2).Return(&docstore.Record{Text: "zyxwvutsrq"}, nil)
	ix.On("Chunk", mock.Anything, "a", 4).Return(nil, errors.New("timeout"))

	s := NewSearcher(discard, fixedEmbedder{}, ix, DefaultValidator(), SearchConfig{TopK: 3, ContextLength: 4}, nil)
	resp, err := s.Search(ctx(), SearchRequest{Query: "voltage", TopK: 3})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	require.NotNil(t, resp.Results[0].Context)
	assert.Equal(t, "9abc ... zyxw", *resp.Results[0].Context)

	require.NotNil(t, resp.Results[1].Context)
	assert.Equal(t, "midd", *resp.Results[1].Context)

	assert.Nil(t, resp.Results[2].Context)
}

func Test_Search_IndexFailure(t *testing.T) {
	ix := new(mockIndex)
	ix.On("HasDocuments", mock.Anything).Return(false, apperr.Databasef(nil, "unreachable"))

	_, err := newMockSearcher(ix).Search(ctx(), SearchRequest{Query: "voltage", TopK: 3})
	assert.Equal(t, apperr.Database, apperr.KindOf(err))
}

func Test_head_tail(t *testing.T) {
	assert.Equal(t, "äb", head("äbc", 2))
	assert.Equal(t, "bc", tail("äbc", 2))
	assert.Equal(t, "ab", head("ab", 5))
	assert.Equal(t, "ab", tail("ab", 5))
}
