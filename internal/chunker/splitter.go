// Package chunker splits text into overlapping, size-bounded chunks using a
// recursive separator hierarchy.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultSeparators are tried from coarsest (paragraph) to finest (character).
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Splitter is responsible for splitting text into chunks. Sizes are measured
// in characters (runes). It holds no state between calls.
type Splitter struct {
	// Maximum chunk size and the overlap carried between neighbours
	chunkSize    int
	chunkOverlap int

	// Trimmed chunks shorter than this are dropped
	minChunkSize int

	separators []string
}

// New creates a Splitter with the given size, overlap and minimum.
func New(chunkSize, chunkOverlap, minChunkSize int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = 1000
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = 0
	}
	return &Splitter{
		chunkSize:    chunkSize,
		chunkOverlap: chunkOverlap,
		minChunkSize: minChunkSize,
		separators:   DefaultSeparators,
	}
}

// NewRepositorySplitter returns the preset used for repository files.
func NewRepositorySplitter() *Splitter {
	return New(1000, 100, 30)
}

// NewForumSplitter returns the preset used for forum posts.
func NewForumSplitter() *Splitter {
	return New(1024, 50, 10)
}

// WithSeparators overrides the separator hierarchy
func (s *Splitter) WithSeparators(seps ...string) *Splitter {
	s.separators = seps
	return s
}

// ChunkSize returns the maximum chunk size
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// ChunkOverlap returns the configured overlap
func (s *Splitter) ChunkOverlap() int { return s.chunkOverlap }

// Split breaks text into chunks no longer than the chunk size. Chunks are
// trimmed and those shorter than the minimum size are discarded.
func (s *Splitter) Split(text string) []string {
	var out []string
	for _, c := range s.split(text, s.separators) {
		if runeLen(c) >= s.minChunkSize && c != "" {
			out = append(out, c)
		}
	}
	return out
}

func (s *Splitter) split(text string, separators []string) []string {
	var final []string

	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var good []string
	for _, piece := range splitKeepingSeparator(text, separator) {
		if runeLen(piece) < s.chunkSize {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			final = append(final, s.merge(good)...)
			good = nil
		}
		if len(next) == 0 {
			final = append(final, piece)
		} else {
			final = append(final, s.split(piece, next)...)
		}
	}
	if len(good) > 0 {
		final = append(final, s.merge(good)...)
	}
	return final
}

// merge greedily packs pieces into chunks, keeping up to chunkOverlap
// characters of trailing pieces at the head of the next chunk. Separators
// are already attached to the pieces, so pieces are joined directly.
func (s *Splitter) merge(pieces []string) []string {
	var docs []string
	var current []string
	total := 0

	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.chunkSize && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
				docs = append(docs, doc)
			}
			for total > s.chunkOverlap || (total+n > s.chunkSize && total > 0) {
				total -= runeLen(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}

	if doc := strings.TrimSpace(strings.Join(current, "")); doc != "" {
		docs = append(docs, doc)
	}
	return docs
}

// splitKeepingSeparator splits text on sep and attaches each separator to
// the start of the piece that follows it. An empty sep splits into runes.
func splitKeepingSeparator(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, utf8.RuneCountInString(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	parts := strings.Split(text, sep)
	out := make([]string, 0, len(parts))
	if parts[0] != "" {
		out = append(out, parts[0])
	}
	for _, p := range parts[1:] {
		out = append(out, sep+p)
	}
	return out
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
