package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/analyzer"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/embedding"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/fetcher"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/jobs"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/types"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/vectorstore"
)

const testDim = 8

type hashEncoder struct{}

func (hashEncoder) Encode(_ context.Context, text string) ([]float32, error) {
	v := make([]float32, testDim)
	for i, w := range strings.Fields(text) {
		h := fnv.New32a()
		h.Write([]byte(w))
		v[(int(h.Sum32())+i)%testDim]++
	}
	return embedding.Normalize(v), nil
}

func (hashEncoder) Dimension() int { return testDim }

func paragraph(word string) string {
	return strings.TrimSpace(strings.Repeat(word+" lorem ipsum ", 50))
}

var repoFiles = map[string]string{
	"docs/a.md": strings.Join([]string{paragraph("alpha"), paragraph("bravo"), paragraph("charlie")}, "\n\n"),
	"b.txt":     strings.Join([]string{paragraph("delta"), paragraph("echo")}, "\n\n"),
	"tiny.md":   "too short",
}

func githubServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/board", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"full_name":"acme/board"}`)
	})
	mux.HandleFunc("/repos/acme/board/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tree":[
 {"path":"docs","type":"tree"},
 {"path":"docs/a.md","type":"blob","sha":"1","size":10},
 {"path":"b.txt","type":"blob","sha":"2","size":10},
 {"path":"tiny.md","type":"blob","sha":"3","size":9},
 {"path":"missing.md","type":"blob","sha":"4","size":9}
]}`)
	})
	mux.HandleFunc("/raw/acme/board/main/", func(w http.ResponseWriter, r *http.Request) {
		body, ok := repoFiles[strings.TrimPrefix(r.URL.Path, "/raw/acme/board/main/")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

type env struct {
	backend *vectorstore.MemoryBackend
	store   *vectorstore.Manager
	orch    *Orchestrator
}

func newEnv(t *testing.T) *env {
	t.Helper()
	srv := githubServer(t)
	logger := zerolog.Nop()

	an := analyzer.New(&logger)
	t.Cleanup(an.Close)

	backend := vectorstore.NewMemoryBackend()
	store := vectorstore.NewManager(backend, vectorstore.Options{}, vectorstore.WithLogger(logger))
	src := fetcher.NewClient(fetcher.WithBaseURLs(srv.URL, srv.URL+"/raw"), fetcher.WithLogger(logger))
	orch := NewOrchestrator(src, an, embedding.NewBatcher(hashEncoder{}, 0, &logger), store, WithLogger(logger))
	return &env{backend: backend, store: store, orch: orch}
}

func (e *env) collection(t *testing.T, name string) *vectorstore.Collection {
	t.Helper()
	coll, _, err := e.store.EnsureCollection(context.Background(), name, testDim)
	require.NoError(t, err)
	return coll
}

func TestIngestRepositoryEndToEnd(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	coll := e.collection(t, "docs")

	var states []types.State
	res := e.orch.IngestRepository(ctx, coll, Request{Collection: "docs", SourceURL: "https://github.com/acme/board"},
		func(s types.State, _ string) { states = append(states, s) })

	require.True(t, res.Success, res.Message)
	assert.False(t, res.Skipped)
	assert.Equal(t, []types.State{
		types.StateFetchingTree, types.StateProcessingFiles, types.StateEmbedding, types.StateStoring, types.StateDone,
	}, states)

	stats := res.Stats
	assert.Equal(t, 4, stats.FilesProcessed)
	assert.Equal(t, 5, stats.ChunksGenerated)
	assert.Equal(t, 1, stats.FilesSkipped)
	assert.Equal(t, 1, stats.FilesFailed)
	assert.Equal(t, 5, stats.RowsStored)
	assert.Zero(t, stats.PlaceholderEmbeddings)
	assert.GreaterOrEqual(t, stats.AvgQualityScore, 0.0)
	assert.LessOrEqual(t, stats.AvgQualityScore, 1.0)

	n, err := e.store.Count(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	rows, err := e.backend.Query(ctx, "docs", vectorstore.Filter{Field: vectorstore.FieldRepoName, Value: "board"},
		[]string{vectorstore.FieldID, vectorstore.FieldFilePath, vectorstore.FieldChunkIndex, vectorstore.FieldSourceLink, vectorstore.FieldGithubLink}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	ids := map[any]bool{}
	indexes := map[string][]int64{}
	for _, r := range rows {
		ids[r[vectorstore.FieldID]] = true
		path := r[vectorstore.FieldFilePath].(string)
		indexes[path] = append(indexes[path], r[vectorstore.FieldChunkIndex].(int64))
		assert.Equal(t, "https://github.com/acme/board", r[vectorstore.FieldGithubLink])
		assert.Equal(t, "https://github.com/acme/board/blob/main/"+path, r[vectorstore.FieldSourceLink])
	}
	assert.Len(t, ids, 5)
	assert.Equal(t, []int64{0, 1, 2}, indexes["docs/a.md"])
	assert.Equal(t, []int64{0, 1}, indexes["b.txt"])
}

func TestIngestRepositorySkipsDuplicates(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	coll := e.collection(t, "docs")
	req := Request{Collection: "docs", SourceURL: "https://github.com/acme/board"}

	first := e.orch.IngestRepository(ctx, coll, req, nil)
	require.True(t, first.Success)

	var states []types.State
	second := e.orch.IngestRepository(ctx, coll, req, func(s types.State, _ string) { states = append(states, s) })
	assert.True(t, second.Success)
	assert.True(t, second.Skipped)
	assert.Equal(t, "Skipped: repository 'acme/board' already ingested into 'docs'", second.Message)
	assert.Equal(t, []types.State{types.StateDone}, states)

	n, err := e.store.Count(ctx, coll)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
}

func TestIngestRepositoryTreeFailure(t *testing.T) {
	e := newEnv(t)
	coll := e.collection(t, "docs")

	res := e.orch.IngestRepository(context.Background(), coll,
		Request{Collection: "docs", SourceURL: "https://github.com/acme/missing"}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, types.StateFailed, res.State)
	assert.Contains(t, res.Message, "Failed to fetch repository tree")
}

func TestIngestRepositoryInvalidURL(t *testing.T) {
	e := newEnv(t)
	coll := e.collection(t, "docs")

	res := e.orch.IngestRepository(context.Background(), coll,
		Request{Collection: "docs", SourceURL: "https://gitlab.com/acme/board"}, nil)
	assert.False(t, res.Success)
	assert.Equal(t, types.StateFailed, res.State)
}

type failingEncoder struct{ hashEncoder }

func (failingEncoder) Encode(context.Context, string) ([]float32, error) {
	return nil, errors.New("model unavailable")
}

func TestIngestRepositoryPlaceholderEmbeddings(t *testing.T) {
	e := newEnv(t)
	logger := zerolog.Nop()
	e.orch.batcher = embedding.NewBatcher(failingEncoder{}, 0, &logger)
	coll := e.collection(t, "docs")

	res := e.orch.IngestRepository(context.Background(), coll,
		Request{Collection: "docs", SourceURL: "https://github.com/acme/board"}, nil)
	require.True(t, res.Success)
	assert.Equal(t, 5, res.Stats.PlaceholderEmbeddings)
	assert.NotEmpty(t, res.Stats.Degraded)
}

func TestMachineRejectsInvalidTransitions(t *testing.T) {
	m := newMachine(nil)
	require.NoError(t, m.to(types.StateFetchingTree, ""))
	assert.Error(t, m.to(types.StateStoring, ""))
	require.NoError(t, m.to(types.StateFailed, ""))
	assert.Error(t, m.to(types.StateDone, ""))
}

func TestSplitPosts(t *testing.T) {
	content := "Post #1 by alice: first post body\nPost #2 by bob:   \nPost #3 by carol: third"
	assert.Equal(t, []string{"first post body", "third"}, SplitPosts(content))
}

func TestIngestForum(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	coll := e.collection(t, "forum")

	threads, err := LoadThreads(strings.NewReader(`[
 {"url":"https://forum.beagleboard.org/t/1","thread_name":"Boot issues",
  "content":"Post #1 by alice: My BeagleBone Black does not boot from the SD card after flashing. Post #2 by bob: short Post #3 by carol: Hold the boot button while applying power so the board reads the SD card first."}
]`))
	require.NoError(t, err)

	res := e.orch.IngestForum(ctx, coll, threads, nil)
	require.True(t, res.Success, res.Message)
	assert.Equal(t, 2, res.Stats.ChunksGenerated)

	rows, err := e.backend.Query(ctx, "forum", vectorstore.Filter{Field: vectorstore.FieldFileType, Value: ".forum"},
		[]string{vectorstore.FieldFileName, vectorstore.FieldFilePath, vectorstore.FieldLanguage, vectorstore.FieldRepoName, vectorstore.FieldSourceLink}, 0)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "forum_post_0", rows[0][vectorstore.FieldFileName])
	assert.Equal(t, "forum_post_2", rows[1][vectorstore.FieldFileName])
	assert.Equal(t, "forum/Boot issues", rows[0][vectorstore.FieldFilePath])
	assert.Equal(t, "text", rows[0][vectorstore.FieldLanguage])
	assert.Equal(t, "beagleboard_forum", rows[0][vectorstore.FieldRepoName])
	assert.Equal(t, "https://forum.beagleboard.org/t/1", rows[0][vectorstore.FieldSourceLink])
}

func TestServiceTracksJobsAndCapsConcurrency(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	logger := zerolog.Nop()

	tracker, err := jobs.NewTracker(jobs.NewMemoryStore(), jobs.WithLogger(logger))
	require.NoError(t, err)
	svc := NewService(e.orch, e.store, tracker, ServiceConfig{Dim: testDim, MaxConcurrent: 1, Logger: &logger})

	req := Request{Collection: "docs", SourceURL: "https://github.com/acme/board"}
	var wg sync.WaitGroup
	results := make([]Result, 3)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], _ = svc.Ingest(ctx, req, jobs.TriggerAPI)
		}()
	}
	wg.Wait()

	skipped := 0
	for _, r := range results {
		require.True(t, r.Success, r.Message)
		if r.Skipped {
			skipped++
		}
	}
	// Runs are serialised, so exactly one ingests and the rest see it.
	assert.Equal(t, 2, skipped)

	n, err := e.store.Count(ctx, &vectorstore.Collection{Name: "docs"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	status := svc.Status()
	assert.Equal(t, 1, status.ActiveCollections)
	assert.Equal(t, []string{"docs"}, status.Collections)

	list := tracker.List()
	require.Len(t, list, 3)
	for _, j := range list {
		assert.Equal(t, types.StateDone, j.State)
		assert.Equal(t, jobs.TriggerAPI, j.Trigger)
	}
}

func TestServiceSubmit(t *testing.T) {
	e := newEnv(t)
	logger := zerolog.Nop()
	tracker, err := jobs.NewTracker(jobs.NewMemoryStore(), jobs.WithLogger(logger))
	require.NoError(t, err)
	svc := NewService(e.orch, e.store, tracker, ServiceConfig{Dim: testDim, Logger: &logger})

	job := svc.Submit(context.Background(), Request{Collection: "docs", SourceURL: "https://github.com/acme/board"}, jobs.TriggerStartup)
	svc.Wait()

	got, err := tracker.Get(job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateDone, got.State)
	assert.Equal(t, jobs.TriggerStartup, got.Trigger)
	require.NotNil(t, got.Stats)
	assert.Equal(t, 5, got.Stats.ChunksGenerated)
}
