package analyzer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
)

// maxElements caps each extracted element list.
const maxElements = 20

// Elements are the named code constructs found in a file
type Elements struct {
	Functions []string
	Classes   []string
	Imports   []string
}

// Parser extracts code elements from source using tree-sitter grammars
type Parser struct {
	parser *sitter.Parser
	mutex  sync.Mutex
}

// NewParser creates a new Parser instance
func NewParser() *Parser {
	return &Parser{parser: sitter.NewParser()}
}

// SupportsElements reports whether element extraction is available for language.
func SupportsElements(language string) bool {
	_, err := getLanguageConfig(language)
	return err == nil
}

// getLanguageConfig returns the tree-sitter language configuration for the given language name
func getLanguageConfig(language string) (*sitter.Language, error) {
	switch strings.ToLower(language) {
	case "python":
		return python.GetLanguage(), nil
	case "javascript":
		return javascript.GetLanguage(), nil
	case "java":
		return java.GetLanguage(), nil
	default:
		return nil, fmt.Errorf("unsupported language: %s", language)
	}
}

// Extract returns functions, classes and imports for python, javascript and
// java sources. Other languages yield empty Elements.
func (p *Parser) Extract(ctx context.Context, content []byte, language string) (Elements, error) {
	if p == nil || p.parser == nil {
		return Elements{}, errors.New("parser is not initialized")
	}
	lang, err := getLanguageConfig(language)
	if err != nil || len(content) == 0 {
		return Elements{}, nil
	}

	p.mutex.Lock()
	p.parser.SetLanguage(lang)
	tree, err := p.parser.ParseCtx(ctx, nil, content)
	p.mutex.Unlock()
	if err != nil {
		log.Debug().Err(err).Str("language", language).Msg("Failed to parse content")
		return Elements{}, fmt.Errorf("failed to parse content: %w", err)
	}
	if tree == nil {
		return Elements{}, errors.New("parsing resulted in a nil tree")
	}
	defer tree.Close()

	c := newCollector()
	walk(tree.RootNode(), func(n *sitter.Node) {
		switch strings.ToLower(language) {
		case "python":
			collectPython(n, content, c)
		case "javascript":
			collectJavaScript(n, content, c)
		case "java":
			collectJava(n, content, c)
		}
	})
	return c.elements(), nil
}

// Close releases resources used by the parser
func (p *Parser) Close() {
	if p.parser != nil {
		p.parser.Close()
	}
}

func collectPython(n *sitter.Node, src []byte, c *collector) {
	switch n.Type() {
	case "function_definition":
		c.functions.add(fieldContent(n, "name", src))
	case "class_definition":
		c.classes.add(fieldContent(n, "name", src))
	case "import_statement", "import_from_statement":
		c.imports.add(oneLine(n.Content(src)))
	}
}

func collectJavaScript(n *sitter.Node, src []byte, c *collector) {
	switch n.Type() {
	case "function_declaration", "generator_function_declaration", "method_definition":
		c.functions.add(fieldContent(n, "name", src))
	case "variable_declarator":
		if isJSFunction(n.ChildByFieldName("value")) {
			c.functions.add(fieldContent(n, "name", src))
		}
	case "pair":
		if isJSFunction(n.ChildByFieldName("value")) {
			c.functions.add(fieldContent(n, "key", src))
		}
	case "class_declaration":
		c.classes.add(fieldContent(n, "name", src))
	case "import_statement":
		c.imports.add(oneLine(n.Content(src)))
	}
}

func collectJava(n *sitter.Node, src []byte, c *collector) {
	switch n.Type() {
	case "method_declaration", "constructor_declaration":
		c.functions.add(fieldContent(n, "name", src))
	case "class_declaration":
		c.classes.add(fieldContent(n, "name", src))
	case "import_declaration":
		c.imports.add(oneLine(n.Content(src)))
	}
}

func isJSFunction(n *sitter.Node) bool {
	if n == nil {
		return false
	}
	switch n.Type() {
	case "function", "function_expression", "arrow_function", "generator_function":
		return true
	}
	return false
}

func walk(n *sitter.Node, visit func(*sitter.Node)) {
	if n == nil {
		return
	}
	visit(n)
	for i := 0; i < int(n.NamedChildCount()); i++ {
		walk(n.NamedChild(i), visit)
	}
}

func fieldContent(n *sitter.Node, field string, src []byte) string {
	child := n.ChildByFieldName(field)
	if child == nil {
		return ""
	}
	return child.Content(src)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// orderedSet keeps first-seen order, drops duplicates and stops at maxElements.
type orderedSet struct {
	seen  map[string]bool
	items []string
}

func (s *orderedSet) add(v string) {
	if v == "" || s.seen[v] || len(s.items) >= maxElements {
		return
	}
	s.seen[v] = true
	s.items = append(s.items, v)
}

type collector struct {
	functions, classes, imports *orderedSet
}

func newCollector() *collector {
	mk := func() *orderedSet { return &orderedSet{seen: make(map[string]bool)} }
	return &collector{functions: mk(), classes: mk(), imports: mk()}
}

func (c *collector) elements() Elements {
	return Elements{
		Functions: c.functions.items,
		Classes:   c.classes.items,
		Imports:   c.imports.items,
	}
}
