package analyzer

import (
	"regexp"
	"sort"
	"strings"
)

var codeIndicators = compileAll(
	`(?i)def\s+\w+`, `(?i)function\s+\w+`, `(?i)class\s+\w+`, `(?i)import\s+\w+`,
	`(?i)#include`, `(?i)namespace\s+\w+`, `(?i)public\s+class`, `(?i)private\s+\w+`,
	`(?i)const\s+\w+\s*=`, `(?i)var\s+\w+\s*=`, `(?i)let\s+\w+\s*=`,
)

var docIndicators = compileAll(
	`(?is)""".*?"""`, `(?is)'''.*?'''`, `(?is)/\*\*.*?\*/`, `(?is)##\s+\w+`,
	`(?is)###\s+\w+`, `(?is)#{1,6}\s+[A-Z]`, `(?is)@param`, `(?is)@return`,
	`(?is)@throws`, `(?is)TODO:`, `(?is)FIXME:`, `(?is)NOTE:`,
)

// HasCode reports whether content contains common code syntax.
func HasCode(content string) bool {
	return anyMatch(codeIndicators, content)
}

// HasDocumentation reports whether content contains docstrings, doc comments,
// headers or annotation markers.
func HasDocumentation(content string) bool {
	return anyMatch(docIndicators, content)
}

func anyMatch(res []*regexp.Regexp, content string) bool {
	for _, re := range res {
		if re.MatchString(content) {
			return true
		}
	}
	return false
}

var (
	fencedBlockRe = regexp.MustCompile("(?s)```.*?```")
	inlineCodeRe  = regexp.MustCompile("`[^`]+`")
	bracketRe     = regexp.MustCompile(`[(){}\[\]<>]`)
	keywordRe     = regexp.MustCompile(`\b[a-zA-Z]{3,}\b`)
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true, "not": true,
	"you": true, "all": true, "can": true, "has": true, "had": true, "this": true,
	"that": true, "with": true, "from": true, "they": true, "will": true, "been": true,
	"have": true, "were": true, "said": true, "each": true, "which": true, "their": true,
	"time": true, "would": true, "about": true, "into": true, "function": true,
	"class": true, "method": true, "return": true, "value": true, "parameter": true,
	"variable": true,
}

const maxKeywords = 15

// Keywords returns the most frequent non-stopword terms outside code spans.
// Ties keep first-occurrence order.
func Keywords(content string) []string {
	cleaned := fencedBlockRe.ReplaceAllString(content, "")
	cleaned = inlineCodeRe.ReplaceAllString(cleaned, "")
	cleaned = bracketRe.ReplaceAllString(cleaned, " ")

	freq := make(map[string]int)
	var order []string
	for _, w := range keywordRe.FindAllString(strings.ToLower(cleaned), -1) {
		if stopwords[w] {
			continue
		}
		if freq[w] == 0 {
			order = append(order, w)
		}
		freq[w]++
	}

	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })
	if len(order) > maxKeywords {
		order = order[:maxKeywords]
	}
	return order
}
