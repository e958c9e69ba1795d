// Package ingest turns repositories and forum threads into stored,
// embedded chunks.
package ingest

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/analyzer"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/chunker"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/embedding"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/fetcher"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/links"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/observability"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/types"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/vectorstore"
)

const (
	// DefaultWorkers is the file processing concurrency of one run.
	DefaultWorkers = 4
	// DefaultMinContentSize is the trimmed length below which files are skipped.
	DefaultMinContentSize = 50

	msgNoContent = "No processable content found"
)

// Source lists and downloads repository files.
type Source interface {
	FetchTree(ctx context.Context, owner, repo, branch string) (fetcher.Tree, error)
	FetchContent(ctx context.Context, f fetcher.FileInfo) (fetcher.Content, error)
}

// Request asks for one repository to be ingested.
type Request struct {
	Collection string
	SourceURL  string
	Branch     string
}

// Result is the outcome of one run.
type Result struct {
	Success bool
	Skipped bool
	State   types.State
	Message string
	Stats   *types.Stats
}

// Orchestrator runs the ingestion pipeline for one collection at a time.
type Orchestrator struct {
	source     Source
	analyzer   *analyzer.Analyzer
	batcher    *embedding.Batcher
	store      *vectorstore.Manager
	splitter   *chunker.Splitter
	forum      ForumSettings
	workers    int
	minContent int
	logger     zerolog.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithWorkers sets the file processing concurrency
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithSplitter replaces the repository splitter
func WithSplitter(s *chunker.Splitter) Option {
	return func(o *Orchestrator) { o.splitter = s }
}

// WithMinContentSize sets the minimum trimmed file length
func WithMinContentSize(n int) Option {
	return func(o *Orchestrator) { o.minContent = n }
}

// WithForumSettings configures the forum path
func WithForumSettings(f ForumSettings) Option {
	return func(o *Orchestrator) { o.forum = f }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(src Source, an *analyzer.Analyzer, batcher *embedding.Batcher, store *vectorstore.Manager, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		source:     src,
		analyzer:   an,
		batcher:    batcher,
		store:      store,
		splitter:   chunker.NewRepositorySplitter(),
		forum:      DefaultForumSettings(),
		workers:    DefaultWorkers,
		minContent: DefaultMinContentSize,
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type fileOutcome int

const (
	fileProcessed fileOutcome = iota
	fileSkipped
	fileFailed
)

type fileResult struct {
	outcome fileOutcome
	latin1  bool
	chunks  []types.Chunk
}

// IngestRepository runs the full pipeline for req into coll. Every failure
// is reported through the Result.
func (o *Orchestrator) IngestRepository(ctx context.Context, coll *vectorstore.Collection, req Request, obs Observer) Result {
	start := time.Now()
	ctx, span := observability.StartIngestSpan(ctx, coll.Name, req.SourceURL)
	defer span.End()

	m := newMachine(obs)
	stats := &types.Stats{}
	logger := o.logger.With().Str("collection", coll.Name).Str("source", req.SourceURL).Logger()

	fail := func(msg string, err error) Result {
		if err != nil {
			observability.RecordError(span, err)
			logger.Error().Err(err).Msg(msg)
		} else {
			logger.Error().Msg(msg)
		}
		full := msg
		if err != nil {
			full = fmt.Sprintf("%s: %v", msg, err)
		}
		_ = m.to(types.StateFailed, full)
		stats.TotalTime = time.Since(start).Seconds()
		return Result{State: types.StateFailed, Message: full, Stats: stats}
	}

	owner, repo, err := fetcher.ParseRepoURL(req.SourceURL)
	if err != nil {
		return fail("Invalid repository URL", err)
	}

	exists, err := o.store.RepoExists(ctx, coll, repo)
	switch {
	case err != nil:
		logger.Warn().Err(err).Msg("Duplicate check failed, continuing with ingestion")
		stats.Degraded = append(stats.Degraded, fmt.Sprintf("duplicate check failed: %v", err))
	case exists:
		msg := fmt.Sprintf("Skipped: repository '%s/%s' already ingested into '%s'", owner, repo, coll.Name)
		logger.Info().Str("repo", repo).Msg("Repository already ingested, skipping")
		if err := m.to(types.StateDone, msg); err != nil {
			return fail("State error", err)
		}
		return Result{Success: true, Skipped: true, State: types.StateDone, Message: msg}
	}

	// Fetch tree.
	if err := m.to(types.StateFetchingTree, ""); err != nil {
		return fail("State error", err)
	}
	phaseStart := time.Now()
	phaseCtx, phaseSpan := observability.StartPhaseSpan(ctx, "fetch_tree")
	tree, err := o.source.FetchTree(phaseCtx, owner, repo, req.Branch)
	observability.RecordError(phaseSpan, err)
	phaseSpan.End()
	stats.PhaseTimes.FetchTree = time.Since(phaseStart).Seconds()
	if err != nil {
		return fail("Failed to fetch repository tree", err)
	}

	// Process files.
	if err := m.to(types.StateProcessingFiles, fmt.Sprintf("%d files", len(tree.Files))); err != nil {
		return fail("State error", err)
	}
	phaseStart = time.Now()
	phaseCtx, phaseSpan = observability.StartPhaseSpan(ctx, "process_files")
	results := o.processFiles(phaseCtx, tree, logger)
	phaseSpan.End()
	stats.PhaseTimes.ProcessFiles = time.Since(phaseStart).Seconds()

	stats.FilesProcessed = len(tree.Files)
	var chunks []types.Chunk
	for _, r := range results {
		switch r.outcome {
		case fileSkipped:
			stats.FilesSkipped++
		case fileFailed:
			stats.FilesFailed++
		}
		if r.latin1 {
			stats.FilesLatin1++
		}
		chunks = append(chunks, r.chunks...)
	}
	if len(chunks) == 0 {
		return fail(msgNoContent, nil)
	}

	if msg, err := o.embedAndStore(ctx, coll, chunks, stats, m, logger); err != nil {
		return fail(msg, err)
	}

	stats.TotalTime = time.Since(start).Seconds()
	msg := fmt.Sprintf("Successfully ingested repository into collection '%s'", coll.Name)
	if err := m.to(types.StateDone, msg); err != nil {
		return fail("State error", err)
	}

	logger.Info().
		Str("repo", owner+"/"+repo).
		Str("branch", tree.Branch).
		Int("files_processed", stats.FilesProcessed).
		Int("files_skipped", stats.FilesSkipped).
		Int("files_failed", stats.FilesFailed).
		Int("chunks_generated", stats.ChunksGenerated).
		Int("files_with_code", stats.FilesWithCode).
		Float64("avg_quality_score", stats.AvgQualityScore).
		Float64("total_time", stats.TotalTime).
		Msg("Repository ingestion complete")
	return Result{Success: true, State: types.StateDone, Message: msg, Stats: stats}
}

// processFiles runs processFile over the tree on a bounded pool. Results
// keep tree order.
func (o *Orchestrator) processFiles(ctx context.Context, tree fetcher.Tree, logger zerolog.Logger) []fileResult {
	results := make([]fileResult, len(tree.Files))
	var done atomic.Int64

	p := pool.New().WithMaxGoroutines(o.workers)
	for i, f := range tree.Files {
		p.Go(func() {
			results[i] = o.processFile(ctx, tree, f, logger)
			if n := done.Add(1); n%10 == 0 || int(n) == len(tree.Files) {
				logger.Info().Int64("done", n).Int("total", len(tree.Files)).Msg("Processing files")
			}
		})
	}
	p.Wait()
	return results
}

func (o *Orchestrator) processFile(ctx context.Context, tree fetcher.Tree, f fetcher.FileInfo, logger zerolog.Logger) fileResult {
	logger = logger.With().Str("path", f.Path).Logger()

	content, err := o.source.FetchContent(ctx, f)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to fetch file")
		return fileResult{outcome: fileFailed}
	}
	if content.Decoding == fetcher.DecodeFailed {
		logger.Debug().Msg("Skipping undecodable file")
		return fileResult{outcome: fileSkipped}
	}
	text := content.Text
	if utf8.RuneCountInString(strings.TrimSpace(text)) < o.minContent {
		logger.Debug().Int("length", len(text)).Msg("Skipping short file")
		return fileResult{outcome: fileSkipped, latin1: content.Decoding == fetcher.DecodeLatin1}
	}

	found := links.Extract(text, fetcher.BlobBase(tree.Owner, tree.Repo, tree.Branch))
	analysis := o.analyzer.Analyze(ctx, text, f.Extension)
	pieces := o.splitter.Split(text)

	chunks := make([]types.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		images, attachments := links.Relevant(found, piece)
		chunks = append(chunks, types.Chunk{
			ID:                    uuid.NewString(),
			Document:              piece,
			FileName:              f.Name,
			FilePath:              f.Path,
			FileType:              f.Extension,
			SourceLink:            f.SourceLink,
			GithubLink:            fetcher.RepoURL(tree.Owner, tree.Repo),
			ChunkIndex:            i,
			Language:              analysis.Language,
			HasCode:               analysis.HasCode,
			RepoName:              tree.Repo,
			ContentQualityScore:   analysis.Scores.ContentQuality,
			SemanticDensityScore:  analysis.Scores.SemanticDensity,
			InformationValueScore: analysis.Scores.InformationValue,
			ImageLinks:            images,
			AttachmentLinks:       attachments,
		})
	}

	logger.Debug().
		Str("language", analysis.Language).
		Bool("has_code", analysis.HasCode).
		Int("chunks", len(chunks)).
		Int("images", len(found.Images)).
		Int("attachments", len(found.Attachments)).
		Msg("Processed file")
	return fileResult{outcome: fileProcessed, latin1: content.Decoding == fetcher.DecodeLatin1, chunks: chunks}
}

// embedAndStore runs the EMBEDDING and STORING phases and fills the chunk
// statistics. On error it also returns the run failure message.
func (o *Orchestrator) embedAndStore(ctx context.Context, coll *vectorstore.Collection, chunks []types.Chunk, stats *types.Stats, m *machine, logger zerolog.Logger) (string, error) {
	stats.ChunksGenerated = len(chunks)
	var quality float64
	for _, c := range chunks {
		if c.HasCode {
			stats.FilesWithCode++
		}
		quality += float64(c.ContentQualityScore)
	}
	stats.AvgQualityScore = quality / float64(len(chunks))

	if err := m.to(types.StateEmbedding, fmt.Sprintf("%d chunks", len(chunks))); err != nil {
		return "State error", err
	}
	phaseStart := time.Now()
	phaseCtx, span := observability.StartPhaseSpan(ctx, "embedding")
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Document
	}
	encoded, err := o.batcher.EncodeBatch(phaseCtx, texts, coll.Schema.Dim())
	observability.RecordError(span, err)
	span.End()
	stats.PhaseTimes.Embedding = time.Since(phaseStart).Seconds()
	if err != nil {
		return "Failed to generate embeddings", err
	}
	stats.PlaceholderEmbeddings = len(encoded.Placeholders)
	if n := len(encoded.Placeholders); n > 0 {
		stats.Degraded = append(stats.Degraded, fmt.Sprintf("%d chunks stored with zero embeddings", n))
	}

	if err := m.to(types.StateStoring, ""); err != nil {
		return "State error", err
	}
	phaseStart = time.Now()
	phaseCtx, span = observability.StartPhaseSpan(ctx, "storage")
	records := make([]map[string]any, len(chunks))
	for i := range chunks {
		chunks[i].Embedding = encoded.Vectors[i]
		records[i] = chunks[i].Record()
	}
	report, err := o.store.Insert(phaseCtx, coll, records)
	observability.RecordError(span, err)
	span.End()
	stats.PhaseTimes.Storage = time.Since(phaseStart).Seconds()
	stats.RowsStored = report.Rows
	if err != nil {
		return fmt.Sprintf("Failed to store chunks after %d rows", report.Rows), err
	}
	return "", nil
}
