// Package fetcher lists and downloads repository files from GitHub.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/text/encoding/charmap"
)

// ErrNotFound is returned when neither the requested nor the fallback branch resolves.
var ErrNotFound = errors.New("repository or branch not found")

// RemoteError reports a non-success response from GitHub other than 404.
type RemoteError struct {
	StatusCode int
	URL        string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("github request %s failed with status %d", e.URL, e.StatusCode)
}

// AllowedExtensions is the set of file extensions considered for ingestion.
// Files without an extension are always considered.
var AllowedExtensions = map[string]bool{
	".md": true, ".txt": true, ".rst": true, ".py": true, ".js": true, ".ts": true,
	".java": true, ".cpp": true, ".c": true, ".h": true, ".css": true, ".html": true,
	".xml": true, ".json": true, ".yaml": true, ".yml": true, ".toml": true, ".ini": true,
	".sh": true, ".bat": true, ".ps1": true, ".go": true, ".rs": true, ".rb": true,
	".php": true, ".sql": true, ".r": true,
}

const (
	defaultAPIURL = "https://api.github.com"
	defaultRawURL = "https://raw.githubusercontent.com"
	fallbackRef   = "master"
	defaultRef    = "main"
)

// FileInfo describes one ingestible blob in a repository tree.
type FileInfo struct {
	Owner       string
	Repo        string
	Branch      string
	Path        string
	Name        string
	Extension   string
	SHA         string
	Size        int64
	DownloadURL string
	SourceLink  string
}

// Tree is the filtered file list of a repository at a resolved branch.
type Tree struct {
	Owner  string
	Repo   string
	Branch string
	Files  []FileInfo
}

// Decoding reports how raw file bytes were turned into text.
type Decoding string

const (
	DecodeUTF8   Decoding = "utf-8"
	DecodeLatin1 Decoding = "latin-1"
	DecodeFailed Decoding = "failed"
)

// Content is the decoded text of one file.
type Content struct {
	File     FileInfo
	Text     string
	Decoding Decoding
}

// Client talks to the GitHub REST API and the raw content host.
type Client struct {
	httpClient *http.Client
	apiURL     string
	rawURL     string
	token      string
	userAgent  string
	logger     zerolog.Logger
}

// Option configures a Client
type Option func(*Client)

// WithToken sets the token sent as "Authorization: token <t>".
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// WithBaseURLs overrides the API and raw content hosts.
func WithBaseURLs(apiURL, rawURL string) Option {
	return func(c *Client) {
		if apiURL != "" {
			c.apiURL = strings.TrimRight(apiURL, "/")
		}
		if rawURL != "" {
			c.rawURL = strings.TrimRight(rawURL, "/")
		}
	}
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates a GitHub client
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		apiURL:     defaultAPIURL,
		rawURL:     defaultRawURL,
		userAgent:  "rag-ingest",
		logger:     log.Logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ParseRepoURL extracts owner and repository name from a github.com URL.
func ParseRepoURL(raw string) (owner, repo string, err error) {
	const prefix = "https://github.com/"
	if !strings.HasPrefix(raw, prefix) {
		return "", "", fmt.Errorf("not a github.com repository url: %q", raw)
	}
	parts := strings.Split(strings.Trim(strings.TrimPrefix(raw, prefix), "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("repository url must look like %s<owner>/<repo>: %q", prefix, raw)
	}
	return parts[0], strings.TrimSuffix(parts[1], ".git"), nil
}

type treeResponse struct {
	Tree []struct {
		Path string `json:"path"`
		Type string `json:"type"`
		SHA  string `json:"sha"`
		Size int64  `json:"size"`
	} `json:"tree"`
	Truncated bool `json:"truncated"`
}

// FetchTree lists the ingestible files of owner/repo at branch. A 404 on
// "main" is retried once against "master".
func (c *Client) FetchTree(ctx context.Context, owner, repo, branch string) (Tree, error) {
	if branch == "" {
		branch = defaultRef
	}

	// Existence check; surfaces auth and rate-limit failures early.
	if err := c.getJSON(ctx, fmt.Sprintf("%s/repos/%s/%s", c.apiURL, owner, repo), nil); err != nil {
		return Tree{}, err
	}

	var resp treeResponse
	err := c.getJSON(ctx, c.treeURL(owner, repo, branch), &resp)
	if errors.Is(err, ErrNotFound) && branch == defaultRef {
		c.logger.Info().Str("repo", owner+"/"+repo).Msg("Branch main not found, trying master")
		branch = fallbackRef
		err = c.getJSON(ctx, c.treeURL(owner, repo, branch), &resp)
	}
	if err != nil {
		return Tree{}, err
	}
	if resp.Truncated {
		c.logger.Warn().Str("repo", owner+"/"+repo).Msg("Repository tree listing was truncated by GitHub")
	}

	tree := Tree{Owner: owner, Repo: repo, Branch: branch}
	for _, item := range resp.Tree {
		if item.Type != "blob" {
			continue
		}
		ext := strings.ToLower(path.Ext(item.Path))
		if ext != "" && !AllowedExtensions[ext] {
			continue
		}
		tree.Files = append(tree.Files, FileInfo{
			Owner:       owner,
			Repo:        repo,
			Branch:      branch,
			Path:        item.Path,
			Name:        path.Base(item.Path),
			Extension:   ext,
			SHA:         item.SHA,
			Size:        item.Size,
			DownloadURL: fmt.Sprintf("%s/%s/%s/%s/%s", c.rawURL, owner, repo, branch, item.Path),
			SourceLink:  BlobURL(owner, repo, branch, item.Path),
		})
	}

	c.logger.Info().
		Str("repo", owner+"/"+repo).
		Str("branch", branch).
		Int("files", len(tree.Files)).
		Msg("Fetched repository tree")
	return tree, nil
}

// FetchContent downloads and decodes one file. Undecodable content comes
// back with DecodeFailed and empty text rather than an error.
func (c *Client) FetchContent(ctx context.Context, f FileInfo) (Content, error) {
	body, err := c.get(ctx, f.DownloadURL, false)
	if err != nil {
		return Content{File: f}, err
	}
	text, decoding := Decode(body)
	return Content{File: f, Text: text, Decoding: decoding}, nil
}

// Decode interprets b as UTF-8, falling back to ISO-8859-1.
func Decode(b []byte) (string, Decoding) {
	if utf8.Valid(b) {
		return string(b), DecodeUTF8
	}
	out, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return "", DecodeFailed
	}
	return string(out), DecodeLatin1
}

// BlobURL is the human-facing link to a file on github.com.
func BlobURL(owner, repo, branch, filePath string) string {
	return fmt.Sprintf("https://github.com/%s/%s/blob/%s/%s", owner, repo, branch, filePath)
}

// BlobBase is the base URL relative links inside a repository resolve against.
func BlobBase(owner, repo, branch string) string {
	return fmt.Sprintf("https://github.com/%s/%s/blob/%s/", owner, repo, branch)
}

// RepoURL is the github.com URL of the repository itself.
func RepoURL(owner, repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s", owner, repo)
}

func (c *Client) treeURL(owner, repo, branch string) string {
	return fmt.Sprintf("%s/repos/%s/%s/git/trees/%s?recursive=1", c.apiURL, owner, repo, branch)
}

func (c *Client) getJSON(ctx context.Context, url string, out any) error {
	body, err := c.get(ctx, url, true)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", url, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, url string, api bool) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if api {
		req.Header.Set("Accept", "application/vnd.github.v3+json")
	}
	req.Header.Set("User-Agent", c.userAgent)
	if c.token != "" {
		req.Header.Set("Authorization", "token "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("github request %s: %w", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%s: %w", url, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &RemoteError{StatusCode: resp.StatusCode, URL: url}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return body, nil
}
