package analyzer

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Scores are the three heuristic quality signals, each in [0,1].
type Scores struct {
	ContentQuality   float32
	SemanticDensity  float32
	InformationValue float32
}

var (
	sentenceEndRe = regexp.MustCompile(`[.!?]`)
	longWordRe    = regexp.MustCompile(`\b\w{3,}\b`)
	wordRe        = regexp.MustCompile(`\b\w+\b`)
	urlRe         = regexp.MustCompile(`https?://[^\s]+`)
	camelCaseRe   = regexp.MustCompile(`[A-Z][a-z]+(?:[A-Z][a-z]+)*`)
)

// Caps for functions, classes, URLs, CamelCase terms and fenced blocks.
var infoCaps = [5]int{10, 5, 5, 20, 10}

// ComputeScores derives the quality, density and information value scores
// from content and its extracted elements.
func ComputeScores(content string, elems Elements, hasDocumentation bool) Scores {
	indicators := []bool{
		utf8.RuneCountInString(content) > 100,
		strings.Contains(content, "\n\n"),
		strings.Contains(content, "#"),
		hasDocumentation,
		len(elems.Functions) > 0,
		len(sentenceEndRe.FindAllStringIndex(content, -1)) > 2,
	}
	met := 0
	for _, ok := range indicators {
		if ok {
			met++
		}
	}
	quality := float64(met) / float64(len(indicators))

	density := 0.0
	if total := len(wordRe.FindAllStringIndex(content, -1)); total > 0 {
		unique := make(map[string]struct{})
		for _, w := range longWordRe.FindAllString(strings.ToLower(content), -1) {
			unique[w] = struct{}{}
		}
		density = min(2*float64(len(unique))/float64(total), 1.0)
	}

	signals := [5]int{
		len(elems.Functions),
		len(elems.Classes),
		len(urlRe.FindAllStringIndex(content, -1)),
		len(camelCaseRe.FindAllStringIndex(content, -1)),
		strings.Count(content, "```"),
	}
	actual, maxTotal := 0, 0
	for i, v := range signals {
		actual += min(v, infoCaps[i])
		maxTotal += infoCaps[i]
	}

	return Scores{
		ContentQuality:   float32(quality),
		SemanticDensity:  float32(density),
		InformationValue: float32(float64(actual) / float64(maxTotal)),
	}
}
