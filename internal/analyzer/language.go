package analyzer

import (
	"regexp"
	"strings"
)

// FileType maps a language name to the file extensions that identify it
type FileType struct {
	Name       string
	Extensions []string
}

// DefaultFileTypes contains the languages recognised by extension
var DefaultFileTypes = []FileType{
	{"python", []string{".py"}},
	{"javascript", []string{".js"}},
	{"typescript", []string{".ts"}},
	{"java", []string{".java"}},
	{"cpp", []string{".cpp"}},
	{"c", []string{".c", ".h"}},
	{"css", []string{".css"}},
	{"html", []string{".html"}},
	{"xml", []string{".xml"}},
	{"markdown", []string{".md"}},
	{"rst", []string{".rst"}},
	{"text", []string{".txt"}},
	{"json", []string{".json"}},
	{"yaml", []string{".yaml", ".yml"}},
	{"shell", []string{".sh"}},
	{"batch", []string{".bat"}},
	{"go", []string{".go"}},
	{"rust", []string{".rs"}},
	{"ruby", []string{".rb"}},
	{"php", []string{".php"}},
	{"sql", []string{".sql"}},
}

// Unknown is reported when neither the extension nor the content identifies a language.
const Unknown = "unknown"

type languagePatterns struct {
	name     string
	patterns []*regexp.Regexp
}

// Checked in order; the first language with two matching patterns wins.
var contentPatterns = []languagePatterns{
	{"python", compileAll(`def\s+\w+`, `import\s+\w+`, `from\s+\w+\s+import`, `class\s+\w+`)},
	{"javascript", compileAll(`function\s+\w+`, `const\s+\w+`, `let\s+\w+`, `var\s+\w+`)},
	{"java", compileAll(`public\s+class`, `private\s+\w+`, `public\s+static`)},
	{"cpp", compileAll(`#include`, `std::`, `namespace\s+\w+`)},
	{"css", compileAll(`\.[\w-]+\s*\{`, `#[\w-]+\s*\{`, `@media`)},
	{"html", compileAll(`<html>`, `<div>`, `<!DOCTYPE`)},
	{"markdown", compileAll(`(?m)^#{1,6}\s`, `\[.*\]\(.*\)`, "```")},
}

const minPatternVotes = 2

// LanguageDetector detects languages by extension, then by content patterns
type LanguageDetector struct {
	extensionMap map[string]string
}

// NewLanguageDetector creates a LanguageDetector over DefaultFileTypes
func NewLanguageDetector() *LanguageDetector {
	extMap := make(map[string]string)
	for _, ft := range DefaultFileTypes {
		for _, ext := range ft.Extensions {
			extMap[ext] = ft.Name
		}
	}
	return &LanguageDetector{extensionMap: extMap}
}

// Detect returns the language for a file extension (".py") and its content
func (d *LanguageDetector) Detect(ext, content string) string {
	if lang, ok := d.extensionMap[strings.ToLower(ext)]; ok {
		return lang
	}

	for _, lp := range contentPatterns {
		votes := 0
		for _, re := range lp.patterns {
			if re.MatchString(content) {
				votes++
			}
		}
		if votes >= minPatternVotes {
			return lp.name
		}
	}
	return Unknown
}

// SupportedLanguages returns the languages recognised by extension
func (d *LanguageDetector) SupportedLanguages() []string {
	seen := make(map[string]bool)
	var result []string
	for _, ft := range DefaultFileTypes {
		if !seen[ft.Name] {
			seen[ft.Name] = true
			result = append(result, ft.Name)
		}
	}
	return result
}

func compileAll(exprs ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, e := range exprs {
		out[i] = regexp.MustCompile(e)
	}
	return out
}
