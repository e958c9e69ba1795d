package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/ingest"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/jobs"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/retrieval"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/types"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/vectorstore"
)

type fakeIngester struct {
	tracker *jobs.Tracker
	result  ingest.Result
	calls   []ingest.Request
}

func (f *fakeIngester) Ingest(_ context.Context, req ingest.Request, trigger jobs.Trigger) (ingest.Result, jobs.Job) {
	f.calls = append(f.calls, req)
	job := f.tracker.Create(jobs.Spec{Kind: jobs.KindRepository, Collection: req.Collection, Source: req.SourceURL, Trigger: trigger})
	_ = f.tracker.Finish(job.ID, f.result.State, f.result.Message, f.result.Stats)
	job, _ = f.tracker.Get(job.ID)
	return f.result, job
}

func (f *fakeIngester) Status() ingest.Status {
	return ingest.Status{ActiveCollections: 1, Collections: []string{"docs"}}
}

type fakeSearcher struct {
	got  retrieval.Request
	resp *retrieval.Response
	err  error
}

func (f *fakeSearcher) Search(_ context.Context, req retrieval.Request) (*retrieval.Response, error) {
	f.got = req
	return f.resp, f.err
}

type fixture struct {
	ingester *fakeIngester
	searcher *fakeSearcher
	tracker  *jobs.Tracker
	handler  http.Handler
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	tracker, err := jobs.NewTracker(jobs.NewMemoryStore(), jobs.WithLogger(zerolog.Nop()))
	require.NoError(t, err)
	f := &fixture{
		ingester: &fakeIngester{tracker: tracker, result: ingest.Result{
			Success: true,
			State:   types.StateDone,
			Message: "Successfully ingested repository into collection 'docs'",
			Stats:   &types.Stats{FilesProcessed: 3, ChunksGenerated: 7},
		}},
		searcher: &fakeSearcher{resp: &retrieval.Response{
			Documents:       [][]string{{"hello"}},
			Metadatas:       [][]map[string]any{{{"score": 0.9}}},
			Distances:       [][]float32{{0.1}},
			TotalFound:      4,
			FilteredResults: 1,
		}},
		tracker: tracker,
	}
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	f.handler = NewServer(f.ingester, f.searcher, tracker, opts...).Routes()
	return f
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestIngestValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty collection", `{"collection_name":"  ","github_url":"https://github.com/a/b"}`},
		{"non github url", `{"collection_name":"docs","github_url":"https://gitlab.com/a/b"}`},
		{"plain http", `{"collection_name":"docs","github_url":"http://github.com/a/b"}`},
		{"malformed body", `{"collection_name":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(http.MethodPost, "/api/ingest-data", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.NotEmpty(t, decode(t, rec)["detail"])
			assert.Empty(t, f.ingester.calls)
		})
	}
}

func TestIngestSuccess(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/ingest-data",
		`{"collection_name":"docs","github_url":"https://github.com/acme/board","branch":"dev"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Contains(t, body["message"], "docs")
	stats := body["stats"].(map[string]any)
	assert.Equal(t, float64(7), stats["chunks_generated"])

	require.Len(t, f.ingester.calls, 1)
	assert.Equal(t, ingest.Request{Collection: "docs", SourceURL: "https://github.com/acme/board", Branch: "dev"}, f.ingester.calls[0])

	job, err := f.tracker.Get(body["job_id"].(string))
	require.NoError(t, err)
	assert.Equal(t, jobs.TriggerAPI, job.Trigger)
}

func TestIngestFailureReturns500(t *testing.T) {
	f := newFixture(t)
	f.ingester.result = ingest.Result{State: types.StateFailed, Message: "Failed to fetch repository tree"}
	rec := f.do(http.MethodPost, "/api/ingest-data", `{"collection_name":"docs","github_url":"https://github.com/a/b"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to fetch repository tree", decode(t, rec)["detail"])
}

func TestIngestStatus(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/api/ingest-data/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, float64(1), body["active_collections"])
}

func TestRetrieveDefaults(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodPost, "/api/retrieve", `{"query":"blink an led"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, retrieval.Request{
		Query:           "blink an led",
		Collection:      "beaglemind_col",
		NResults:        10,
		IncludeMetadata: true,
		Rerank:          true,
	}, f.searcher.got)

	body := decode(t, rec)
	assert.Equal(t, float64(4), body["total_found"])
	assert.Equal(t, float64(1), body["filtered_results"])
	assert.Equal(t, []any{[]any{"hello"}}, body["documents"])
}

func TestRetrieveExplicitOptions(t *testing.T) {
	f := newFixture(t, WithDefaultCollection("other"))
	rec := f.do(http.MethodPost, "/api/retrieve",
		`{"query":"q","n_results":3,"include_metadata":false,"rerank":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, retrieval.Request{Query: "q", Collection: "other", NResults: 3}, f.searcher.got)
}

func TestRetrieveErrors(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/retrieve", `{"query":""}`).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/retrieve", `{"query":"q","n_results":0}`).Code)

	f.searcher.err = fmt.Errorf("%w: nope", vectorstore.ErrCollectionNotFound)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodPost, "/api/retrieve", `{"query":"q"}`).Code)

	f.searcher.err = errors.New("boom")
	rec := f.do(http.MethodPost, "/api/retrieve", `{"query":"q"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decode(t, rec)["detail"], "boom")
}

func TestJobsEndpoints(t *testing.T) {
	f := newFixture(t)
	job := f.tracker.Create(jobs.Spec{Kind: jobs.KindRepository, Collection: "docs", Trigger: jobs.TriggerStartup})

	rec := f.do(http.MethodGet, "/api/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode(t, rec)["jobs"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, job.ID, list[0].(map[string]any)["id"])

	rec = f.do(http.MethodGet, "/api/jobs/"+job.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "startup", body["trigger"])
	assert.Equal(t, "PENDING", body["state"])

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/jobs/missing", "").Code)
}

func TestHealthAndRoot(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	rec = f.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rag-ingest", decode(t, rec)["service"])

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/nope", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, "/api/retrieve", "").Code)

	down := newFixture(t, WithPing(func(context.Context) error { return errors.New("unreachable") }))
	rec = down.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "unhealthy", decode(t, rec)["status"])
}
