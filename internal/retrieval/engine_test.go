package retrieval

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/rerank"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/vectorstore"
)

const dim = 4

type axisEncoder struct{}

func (axisEncoder) Encode(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (axisEncoder) Dimension() int { return dim }

// reverseReranker prefers documents that appear later in the candidate list.
type reverseReranker struct{ calls int }

func (r *reverseReranker) Score(_ context.Context, _ string, docs []string) ([]float32, error) {
	r.calls++
	out := make([]float32, len(docs))
	for i := range docs {
		out[i] = float32(i)
	}
	return out, nil
}

type metadataFailBackend struct {
	vectorstore.Backend
	failed int
}

func (b *metadataFailBackend) Search(ctx context.Context, name string, req vectorstore.SearchRequest) ([]vectorstore.Hit, error) {
	if len(req.OutputFields) > 1 {
		b.failed++
		return nil, errors.New("field not loaded")
	}
	return b.Backend.Search(ctx, name, req)
}

func seed(t *testing.T, backend vectorstore.Backend, n int) *vectorstore.Manager {
	t.Helper()
	ctx := context.Background()
	m := vectorstore.NewManager(backend, vectorstore.Options{CreateDelay: time.Millisecond},
		vectorstore.WithLogger(zerolog.Nop()))
	coll, _, err := m.EnsureCollection(ctx, "docs", dim)
	require.NoError(t, err)

	recs := make([]map[string]any, n)
	for i := range recs {
		recs[i] = map[string]any{
			vectorstore.FieldID:         fmt.Sprintf("id-%d", i),
			vectorstore.FieldDocument:   fmt.Sprintf("chunk %d", i),
			vectorstore.FieldEmbedding:  []float32{1, float32(i) * 0.5, 0, 0},
			vectorstore.FieldChunkIndex: i,
			vectorstore.FieldRepoName:   "board",
			vectorstore.FieldFileName:   "a.md",
		}
	}
	_, err = m.Insert(ctx, coll, recs)
	require.NoError(t, err)
	return m
}

func newEngine(m *vectorstore.Manager, rr rerank.Reranker) *Engine {
	return NewEngine(m, axisEncoder{}, rr, WithLogger(zerolog.Nop()))
}

func TestSearchWithoutRerank(t *testing.T) {
	m := seed(t, vectorstore.NewMemoryBackend(), 5)
	rr := &reverseReranker{}
	resp, err := newEngine(m, rr).Search(context.Background(), Request{
		Query: "q", Collection: "docs", NResults: 3, IncludeMetadata: true,
	})
	require.NoError(t, err)

	assert.Zero(t, rr.calls)
	assert.Equal(t, []string{"chunk 0", "chunk 1", "chunk 2"}, resp.Documents[0])
	assert.Equal(t, 5, resp.TotalFound)
	assert.Equal(t, 3, resp.FilteredResults)
	require.Len(t, resp.Metadatas[0], 3)
	meta := resp.Metadatas[0][1]
	assert.Equal(t, "board", meta[vectorstore.FieldRepoName])
	assert.Equal(t, "a.md", meta[vectorstore.FieldFileName])
	assert.InDelta(t, 0.25, meta["distance"], 1e-6)
	assert.InDelta(t, 0.75, meta["score"], 1e-6)
	assert.NotContains(t, meta, vectorstore.FieldDocument)
}

func TestSearchRerankReordersOverFetchedCandidates(t *testing.T) {
	m := seed(t, vectorstore.NewMemoryBackend(), 5)
	rr := &reverseReranker{}
	resp, err := newEngine(m, rr).Search(context.Background(), Request{
		Query: "q", Collection: "docs", NResults: 3, IncludeMetadata: true, Rerank: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, rr.calls)
	assert.Equal(t, []string{"chunk 4", "chunk 3", "chunk 2"}, resp.Documents[0])
	assert.Equal(t, float32(4), resp.Metadatas[0][0]["score"])
	assert.Equal(t, 5, resp.TotalFound)
	assert.Equal(t, 3, resp.FilteredResults)
}

func TestSearchRerankSkippedWhenFewCandidates(t *testing.T) {
	m := seed(t, vectorstore.NewMemoryBackend(), 2)
	rr := &reverseReranker{}
	resp, err := newEngine(m, rr).Search(context.Background(), Request{
		Query: "q", Collection: "docs", NResults: 3, Rerank: true,
	})
	require.NoError(t, err)

	assert.Zero(t, rr.calls)
	assert.Equal(t, []string{"chunk 0", "chunk 1"}, resp.Documents[0])
}

func TestSearchRerankFailureFallsBackToSimilarity(t *testing.T) {
	m := seed(t, vectorstore.NewMemoryBackend(), 5)
	resp, err := newEngine(m, rerank.Unavailable{}).Search(context.Background(), Request{
		Query: "q", Collection: "docs", NResults: 2, Rerank: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk 0", "chunk 1"}, resp.Documents[0])
	assert.InDelta(t, 1.0, resp.Metadatas[0][0]["score"], 1e-6)
}

func TestSearchRetriesWithDocumentOnly(t *testing.T) {
	backend := &metadataFailBackend{Backend: vectorstore.NewMemoryBackend()}
	m := seed(t, backend, 3)
	resp, err := newEngine(m, nil).Search(context.Background(), Request{
		Query: "q", Collection: "docs", NResults: 2, IncludeMetadata: true,
	})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.failed)
	assert.Equal(t, []string{"chunk 0", "chunk 1"}, resp.Documents[0])
	assert.NotContains(t, resp.Metadatas[0][0], vectorstore.FieldRepoName)
}

func TestSearchEmptyCollection(t *testing.T) {
	m := seed(t, vectorstore.NewMemoryBackend(), 0)
	resp, err := newEngine(m, nil).Search(context.Background(), Request{Query: "q", Collection: "docs"})
	require.NoError(t, err)
	assert.Equal(t, [][]string{{}}, resp.Documents)
	assert.Equal(t, [][]float32{{}}, resp.Distances)
	assert.Zero(t, resp.TotalFound)
	assert.Zero(t, resp.FilteredResults)
}

func TestSearchMissingCollection(t *testing.T) {
	m := vectorstore.NewManager(vectorstore.NewMemoryBackend(), vectorstore.Options{}, vectorstore.WithLogger(zerolog.Nop()))
	_, err := newEngine(m, nil).Search(context.Background(), Request{Query: "q", Collection: "nope"})
	assert.ErrorIs(t, err, vectorstore.ErrCollectionNotFound)
}
