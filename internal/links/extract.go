// Package links finds image, attachment and external links in file content
// and decides which of them belong to a given chunk.
package links

import (
	"net/url"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Links are the deduplicated, sorted link sets found in one piece of content.
// The three sets are disjoint.
type Links struct {
	Images      []string
	Attachments []string
	External    []string
}

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true,
	".svg": true, ".webp": true, ".bmp": true, ".ico": true,
}

var attachmentExts = map[string]bool{
	".pdf": true, ".doc": true, ".docx": true, ".ppt": true, ".pptx": true,
	".xls": true, ".xlsx": true, ".zip": true, ".tar": true, ".gz": true,
}

var (
	htmlImgRe  = regexp.MustCompile(`(?i)<img[^>]+src=["']([^"']+)["'][^>]*>`)
	hrefRe     = regexp.MustCompile(`(?i)href=["']([^"']+)["']`)
	bareImgRe  = regexp.MustCompile(`(?i)\bhttps?://[^\s)\]"'<>]+\.(?:png|jpg|jpeg|gif|svg|webp|bmp|ico)\b`)
	bareURLRe  = regexp.MustCompile("\\bhttps?://[^\\s)\\]},;\"'`<>]+")
	trailingRe = regexp.MustCompile(`[.:!?]+$`)
)

// Extract collects links from content. Relative references are resolved
// against baseURL when it is non-empty.
func Extract(content, baseURL string) Links {
	base, _ := url.Parse(baseURL)
	if baseURL == "" {
		base = nil
	}
	resolve := func(ref string) string {
		ref = strings.TrimSpace(ref)
		if ref == "" || isAbsolute(ref) || base == nil {
			return ref
		}
		u, err := url.Parse(ref)
		if err != nil {
			return ref
		}
		return base.ResolveReference(u).String()
	}

	images := newSet()
	attachments := newSet()
	external := newSet()

	classify := func(raw string) {
		switch {
		case hasExt(raw, imageExts):
			images.add(raw)
		case hasExt(raw, attachmentExts):
			attachments.add(raw)
		case isAbsolute(raw):
			external.add(raw)
		}
	}

	src := []byte(content)
	root := goldmark.DefaultParser().Parse(text.NewReader(src))
	_ = ast.Walk(root, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Image:
			images.add(resolve(string(node.Destination)))
		case *ast.Link:
			classify(resolve(string(node.Destination)))
		case *ast.AutoLink:
			if node.AutoLinkType == ast.AutoLinkURL {
				classify(string(node.URL(src)))
			}
		}
		return ast.WalkContinue, nil
	})

	for _, m := range htmlImgRe.FindAllStringSubmatch(content, -1) {
		images.add(resolve(m[1]))
	}
	for _, m := range hrefRe.FindAllStringSubmatch(content, -1) {
		classify(resolve(m[1]))
	}
	for _, m := range bareImgRe.FindAllString(content, -1) {
		images.add(m)
	}
	for _, m := range bareURLRe.FindAllString(content, -1) {
		classify(trailingRe.ReplaceAllString(m, ""))
	}

	attachments.remove(images)
	external.remove(images)
	external.remove(attachments)

	return Links{
		Images:      images.sorted(),
		Attachments: attachments.sorted(),
		External:    external.sorted(),
	}
}

// Relevant returns the images and attachments referenced by chunk. An image
// matches when its file name, or any dot-separated part of it, appears in the
// chunk; an attachment needs its full file name.
func Relevant(l Links, chunk string) (images, attachments []string) {
	lower := strings.ToLower(chunk)
	for _, img := range l.Images {
		name := baseName(img)
		if name == "" {
			continue
		}
		if strings.Contains(lower, name) {
			images = append(images, img)
			continue
		}
		for _, part := range strings.Split(name, ".") {
			if part != "" && strings.Contains(lower, part) {
				images = append(images, img)
				break
			}
		}
	}
	for _, att := range l.Attachments {
		if name := baseName(att); name != "" && strings.Contains(lower, name) {
			attachments = append(attachments, att)
		}
	}
	return images, attachments
}

func baseName(raw string) string {
	p := raw
	if u, err := url.Parse(raw); err == nil && u.Path != "" {
		p = u.Path
	}
	name := strings.ToLower(path.Base(p))
	if name == "." || name == "/" {
		return ""
	}
	return name
}

func hasExt(raw string, exts map[string]bool) bool {
	p := raw
	if u, err := url.Parse(raw); err == nil {
		p = u.Path
	}
	return exts[strings.ToLower(path.Ext(p))]
}

func isAbsolute(ref string) bool {
	lower := strings.ToLower(ref)
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

type set map[string]struct{}

func newSet() set { return make(set) }

func (s set) add(v string) {
	if v != "" {
		s[v] = struct{}{}
	}
}

func (s set) remove(other set) {
	for k := range other {
		delete(s, k)
	}
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
