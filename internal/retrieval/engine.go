// Package retrieval implements vector search with cross-encoder reranking.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/embedding"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/observability"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/rerank"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/vectorstore"
)

const (
	DefaultResults         = 10
	DefaultOverFetchFactor = 3
)

// MetadataFields are attached to results when requested and present in
// the collection schema.
var MetadataFields = []string{
	vectorstore.FieldFileName,
	vectorstore.FieldFilePath,
	vectorstore.FieldFileType,
	vectorstore.FieldSourceLink,
	vectorstore.FieldGithubLink,
	vectorstore.FieldChunkIndex,
	vectorstore.FieldLanguage,
	vectorstore.FieldHasCode,
	vectorstore.FieldRepoName,
	vectorstore.FieldContentQualityScore,
	vectorstore.FieldSemanticDensityScore,
	vectorstore.FieldInformationValueScore,
	vectorstore.FieldImageLinks,
}

// Request is one search.
type Request struct {
	Query           string
	Collection      string
	NResults        int
	IncludeMetadata bool
	Rerank          bool
}

// Response holds parallel arrays with one outer entry per query.
type Response struct {
	Documents       [][]string         `json:"documents"`
	Metadatas       [][]map[string]any `json:"metadatas"`
	Distances       [][]float32        `json:"distances"`
	TotalFound      int                `json:"total_found"`
	FilteredResults int                `json:"filtered_results"`
}

func emptyResponse() *Response {
	return &Response{
		Documents: [][]string{{}},
		Metadatas: [][]map[string]any{{}},
		Distances: [][]float32{{}},
	}
}

// Engine answers search requests.
type Engine struct {
	store     *vectorstore.Manager
	encoder   embedding.Encoder
	reranker  rerank.Reranker
	overFetch int
	logger    zerolog.Logger
}

// Option configures an Engine
type Option func(*Engine)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithOverFetchFactor sets how many candidates per result are fetched when reranking
func WithOverFetchFactor(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.overFetch = n
		}
	}
}

// NewEngine creates an Engine. A nil reranker behaves as unavailable.
func NewEngine(store *vectorstore.Manager, enc embedding.Encoder, rr rerank.Reranker, opts ...Option) *Engine {
	if rr == nil {
		rr = rerank.Unavailable{}
	}
	e := &Engine{
		store:     store,
		encoder:   enc,
		reranker:  rr,
		overFetch: DefaultOverFetchFactor,
		logger:    log.Logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type candidate struct {
	hit   vectorstore.Hit
	score float32
}

// Search encodes the query, over-fetches when reranking, reorders by
// reranker score (or 1 - distance when the reranker fails) and truncates to
// NResults.
func (e *Engine) Search(ctx context.Context, req Request) (*Response, error) {
	k := req.NResults
	if k <= 0 {
		k = DefaultResults
	}
	ctx, span := observability.StartSearchSpan(ctx, req.Collection, k, req.Rerank)
	defer span.End()
	logger := e.logger.With().Str("collection", req.Collection).Int("k", k).Logger()

	coll, err := e.store.Open(ctx, req.Collection)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}

	vec, err := e.encoder.Encode(ctx, req.Query)
	if err != nil {
		observability.RecordError(span, err)
		return nil, fmt.Errorf("encode query: %w", err)
	}

	fields := []string{vectorstore.FieldDocument}
	if req.IncludeMetadata {
		fields = append(fields, MetadataFields...)
	}
	limit := k
	if req.Rerank {
		limit = k * e.overFetch
	}

	hits, err := e.store.Search(ctx, coll, vec, limit, fields)
	if err != nil && !errors.Is(err, vectorstore.ErrSchemaMismatch) && len(fields) > 1 {
		logger.Warn().Err(err).Msg("Search with metadata fields failed, retrying with document only")
		hits, err = e.store.Search(ctx, coll, vec, limit, []string{vectorstore.FieldDocument})
	}
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	if len(hits) == 0 {
		return emptyResponse(), nil
	}

	cands := make([]candidate, len(hits))
	for i, h := range hits {
		cands[i] = candidate{hit: h, score: 1 - h.Distance}
	}

	if req.Rerank && len(cands) > k {
		e.rerank(ctx, req.Query, cands, logger)
		sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })
	}
	if len(cands) > k {
		cands = cands[:k]
	}

	total := len(hits)
	if n, err := e.store.Count(ctx, coll); err != nil {
		logger.Debug().Err(err).Msg("Count failed, reporting hit count")
	} else if int(n) > total {
		total = int(n)
	}

	resp := &Response{
		Documents:       [][]string{make([]string, 0, len(cands))},
		Metadatas:       [][]map[string]any{make([]map[string]any, 0, len(cands))},
		Distances:       [][]float32{make([]float32, 0, len(cands))},
		TotalFound:      total,
		FilteredResults: len(cands),
	}
	for _, c := range cands {
		doc, _ := c.hit.Fields[vectorstore.FieldDocument].(string)
		meta := map[string]any{
			"score":    c.score,
			"distance": c.hit.Distance,
		}
		for name, v := range c.hit.Fields {
			if name != vectorstore.FieldDocument && v != nil {
				meta[name] = v
			}
		}
		resp.Documents[0] = append(resp.Documents[0], doc)
		resp.Metadatas[0] = append(resp.Metadatas[0], meta)
		resp.Distances[0] = append(resp.Distances[0], c.hit.Distance)
	}

	logger.Debug().
		Int("candidates", len(hits)).
		Int("returned", len(cands)).
		Int("total_found", total).
		Msg("Search complete")
	return resp, nil
}

// rerank replaces candidate scores with reranker scores. On any failure
// the similarity scores already set are kept.
func (e *Engine) rerank(ctx context.Context, query string, cands []candidate, logger zerolog.Logger) {
	docs := make([]string, len(cands))
	for i, c := range cands {
		docs[i], _ = c.hit.Fields[vectorstore.FieldDocument].(string)
	}
	scores, err := e.reranker.Score(ctx, query, docs)
	if err == nil && len(scores) != len(cands) {
		err = fmt.Errorf("reranker returned %d scores for %d documents", len(scores), len(cands))
	}
	if err != nil {
		logger.Warn().Err(err).Msg("Reranking failed, ranking by similarity")
		return
	}
	for i := range cands {
		cands[i].score = scores[i]
	}
}
