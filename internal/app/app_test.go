package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/config"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/jobs"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/rerank"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/retrieval"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/vectorstore"
)

type constEncoder struct{}

func (constEncoder) Encode(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (constEncoder) Dimension() int { return 3 }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.LoadConfig("")
	require.NoError(t, err)
	cfg.VectorStore.Backend = "memory"
	cfg.Rerank.Enabled = false
	cfg.Jobs.DBPath = filepath.Join(t.TempDir(), "jobs.db")
	return cfg
}

func TestBuildWithMemoryBackend(t *testing.T) {
	ctx := context.Background()
	a, err := Build(ctx, testConfig(t), zerolog.Nop(), WithEncoder(constEncoder{}))
	require.NoError(t, err)
	defer func() { require.NoError(t, a.Close(ctx)) }()

	assert.Equal(t, 3, a.Dim)
	assert.Equal(t, "memory", a.Store.Backend().Name())
	assert.Equal(t, vectorstore.MetricL2, a.Store.Metric())

	_, err = a.Service.Collection(ctx, "docs")
	require.NoError(t, err)
	assert.Equal(t, []string{"docs"}, a.Service.Status().Collections)

	resp, err := a.Engine.Search(ctx, retrieval.Request{Query: "q", Collection: "docs", NResults: 5, Rerank: true})
	require.NoError(t, err)
	assert.Zero(t, resp.TotalFound)
}

func TestBuildJobsSurviveRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	a, err := Build(ctx, cfg, zerolog.Nop(), WithEncoder(constEncoder{}), WithReranker(rerank.Unavailable{}))
	require.NoError(t, err)
	job := a.Tracker.Create(jobs.Spec{Kind: jobs.KindRepository, Collection: "docs", Trigger: jobs.TriggerCLI})
	require.NoError(t, a.Close(ctx))

	b, err := Build(ctx, cfg, zerolog.Nop(), WithEncoder(constEncoder{}), WithBackend(vectorstore.NewMemoryBackend()))
	require.NoError(t, err)
	defer b.Close(ctx)

	got, err := b.Tracker.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.InterruptedMessage, got.Message)
}

func TestBuildRejectsUnknownMetric(t *testing.T) {
	cfg := testConfig(t)
	cfg.VectorStore.Metric = "HAMMING"
	_, err := Build(context.Background(), cfg, zerolog.Nop(), WithEncoder(constEncoder{}))
	assert.Error(t, err)
}
