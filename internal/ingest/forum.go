package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/chunker"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/links"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/observability"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/types"
	"github.com/kumarlokesh/sysd/exercises/rag-ingest/internal/vectorstore"
)

const forumFileType = ".forum"

var postHeaderRe = regexp.MustCompile(`Post #\d+ by [^:]+:`)

// ForumSettings controls forum thread chunking.
type ForumSettings struct {
	RepoName     string
	ChunkSize    int
	ChunkOverlap int
	MinChunkSize int
	MinPostSize  int
}

// DefaultForumSettings returns the settings used for BeagleBoard forum dumps.
func DefaultForumSettings() ForumSettings {
	return ForumSettings{
		RepoName:     "beagleboard_forum",
		ChunkSize:    1024,
		ChunkOverlap: 50,
		MinChunkSize: 10,
		MinPostSize:  20,
	}
}

// Thread is one scraped forum thread.
type Thread struct {
	URL        string `json:"url"`
	ThreadName string `json:"thread_name"`
	Content    string `json:"content"`
}

// LoadThreads decodes a JSON array of threads.
func LoadThreads(r io.Reader) ([]Thread, error) {
	var threads []Thread
	if err := json.NewDecoder(r).Decode(&threads); err != nil {
		return nil, fmt.Errorf("decode forum threads: %w", err)
	}
	return threads, nil
}

// SplitPosts splits a thread dump on "Post #N by <author>:" headers and
// returns the trimmed, non-empty post bodies.
func SplitPosts(content string) []string {
	var posts []string
	for _, p := range postHeaderRe.Split(content, -1) {
		if p = strings.TrimSpace(p); p != "" {
			posts = append(posts, p)
		}
	}
	return posts
}

// IngestForum chunks, embeds and stores forum threads into coll.
func (o *Orchestrator) IngestForum(ctx context.Context, coll *vectorstore.Collection, threads []Thread, obs Observer) Result {
	start := time.Now()
	ctx, span := observability.StartIngestSpan(ctx, coll.Name, "forum")
	defer span.End()

	m := newMachine(obs)
	stats := &types.Stats{}
	logger := o.logger.With().Str("collection", coll.Name).Str("source", "forum").Logger()
	fail := func(msg string, err error) Result {
		full := msg
		if err != nil {
			observability.RecordError(span, err)
			full = fmt.Sprintf("%s: %v", msg, err)
		}
		logger.Error().Msg(full)
		_ = m.to(types.StateFailed, full)
		stats.TotalTime = time.Since(start).Seconds()
		return Result{State: types.StateFailed, Message: full, Stats: stats}
	}

	if err := m.to(types.StateProcessingFiles, fmt.Sprintf("%d threads", len(threads))); err != nil {
		return fail("State error", err)
	}
	phaseStart := time.Now()
	splitter := chunker.New(o.forum.ChunkSize, o.forum.ChunkOverlap, o.forum.MinChunkSize)

	var chunks []types.Chunk
	for _, th := range threads {
		stats.FilesProcessed++
		before := len(chunks)
		for postIdx, post := range SplitPosts(th.Content) {
			if utf8.RuneCountInString(post) < o.forum.MinPostSize {
				continue
			}
			found := links.Extract(post, "")
			for chunkIdx, piece := range splitter.Split(post) {
				if utf8.RuneCountInString(strings.TrimSpace(piece)) < o.forum.MinPostSize {
					continue
				}
				analysis := o.analyzer.AnalyzeAs(ctx, piece, "text")
				images, attachments := links.Relevant(found, piece)
				chunks = append(chunks, types.Chunk{
					ID:                    uuid.NewString(),
					Document:              piece,
					FileName:              fmt.Sprintf("forum_post_%d", postIdx),
					FilePath:              "forum/" + th.ThreadName,
					FileType:              forumFileType,
					SourceLink:            th.URL,
					ChunkIndex:            chunkIdx,
					Language:              "text",
					HasCode:               analysis.HasCode,
					RepoName:              o.forum.RepoName,
					ContentQualityScore:   analysis.Scores.ContentQuality,
					SemanticDensityScore:  analysis.Scores.SemanticDensity,
					InformationValueScore: analysis.Scores.InformationValue,
					ImageLinks:            images,
					AttachmentLinks:       attachments,
				})
			}
		}
		if len(chunks) == before {
			stats.FilesSkipped++
		}
	}
	stats.PhaseTimes.ProcessFiles = time.Since(phaseStart).Seconds()

	if len(chunks) == 0 {
		return fail(msgNoContent, nil)
	}
	if msg, err := o.embedAndStore(ctx, coll, chunks, stats, m, logger); err != nil {
		return fail(msg, err)
	}

	stats.TotalTime = time.Since(start).Seconds()
	msg := fmt.Sprintf("Successfully ingested %d forum threads into collection '%s'", len(threads), coll.Name)
	if err := m.to(types.StateDone, msg); err != nil {
		return fail("State error", err)
	}
	logger.Info().
		Int("threads", len(threads)).
		Int("chunks_generated", stats.ChunksGenerated).
		Float64("total_time", stats.TotalTime).
		Msg("Forum ingestion complete")
	return Result{Success: true, State: types.StateDone, Message: msg, Stats: stats}
}
