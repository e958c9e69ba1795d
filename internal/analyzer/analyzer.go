// Package analyzer derives language, code signals and heuristic quality
// scores from file or chunk text.
package analyzer

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Analysis is everything the ingestion pipeline learns about a piece of content.
type Analysis struct {
	Language         string
	HasCode          bool
	HasDocumentation bool
	Elements         Elements
	Keywords         []string
	Scores           Scores
}

// Analyzer combines language detection, element extraction and scoring.
// It is safe for concurrent use.
type Analyzer struct {
	detector *LanguageDetector
	parser   *Parser
	logger   zerolog.Logger
}

// New creates an Analyzer
func New(logger *zerolog.Logger) *Analyzer {
	l := log.Logger
	if logger != nil {
		l = *logger
	}
	return &Analyzer{
		detector: NewLanguageDetector(),
		parser:   NewParser(),
		logger:   l,
	}
}

// Analyze inspects content of a file with extension ext (".py", "" for none).
func (a *Analyzer) Analyze(ctx context.Context, content, ext string) Analysis {
	lang := a.detector.Detect(ext, content)
	return a.AnalyzeAs(ctx, content, lang)
}

// AnalyzeAs inspects content whose language is already known.
func (a *Analyzer) AnalyzeAs(ctx context.Context, content, language string) Analysis {
	elems, err := a.parser.Extract(ctx, []byte(content), language)
	if err != nil {
		a.logger.Debug().Err(err).Str("language", language).Msg("Element extraction failed")
	}

	hasDoc := HasDocumentation(content)
	return Analysis{
		Language:         language,
		HasCode:          HasCode(content),
		HasDocumentation: hasDoc,
		Elements:         elems,
		Keywords:         Keywords(content),
		Scores:           ComputeScores(content, elems, hasDoc),
	}
}

// Close releases the tree-sitter parser.
func (a *Analyzer) Close() {
	a.parser.Close()
}
