package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const treeJSON = `{"tree":[
 {"path":"README.md","type":"blob","sha":"1","size":10},
 {"path":"src","type":"tree","sha":"2"},
 {"path":"src/main.py","type":"blob","sha":"3","size":20},
 {"path":"Makefile","type":"blob","sha":"4","size":5},
 {"path":"logo.png","type":"blob","sha":"5","size":100},
 {"path":"docs/Guide.MD","type":"blob","sha":"6","size":7}
]}`

func newServer(t *testing.T, branches map[string]bool, status int) (*httptest.Server, *[]http.Header) {
	t.Helper()
	var headers []http.Header
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/acme/widgets", func(w http.ResponseWriter, r *http.Request) {
		headers = append(headers, r.Header.Clone())
		if status != 0 {
			w.WriteHeader(status)
			return
		}
		fmt.Fprint(w, `{"full_name":"acme/widgets"}`)
	})
	mux.HandleFunc("/repos/acme/widgets/git/trees/", func(w http.ResponseWriter, r *http.Request) {
		branch := r.URL.Path[len("/repos/acme/widgets/git/trees/"):]
		if !branches[branch] {
			http.NotFound(w, r)
			return
		}
		assert.Equal(t, "1", r.URL.Query().Get("recursive"))
		fmt.Fprint(w, treeJSON)
	})
	mux.HandleFunc("/raw/acme/widgets/", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/raw/acme/widgets/main/README.md":
			fmt.Fprint(w, "# Widgets\n\nhello")
		case "/raw/acme/widgets/main/latin.txt":
			_, _ = w.Write([]byte{'c', 'a', 'f', 0xe9})
		default:
			http.NotFound(w, r)
		}
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &headers
}

func newTestClient(srv *httptest.Server, opts ...Option) *Client {
	opts = append([]Option{WithBaseURLs(srv.URL, srv.URL+"/raw")}, opts...)
	return NewClient(opts...)
}

func TestParseRepoURL(t *testing.T) {
	owner, repo, err := ParseRepoURL("https://github.com/beagleboard/docs.beagleboard.io.git")
	require.NoError(t, err)
	assert.Equal(t, "beagleboard", owner)
	assert.Equal(t, "docs.beagleboard.io", repo)

	owner, repo, err = ParseRepoURL("https://github.com/acme/widgets/tree/main")
	require.NoError(t, err)
	assert.Equal(t, "acme", owner)
	assert.Equal(t, "widgets", repo)

	for _, bad := range []string{"", "http://github.com/a/b", "https://gitlab.com/a/b", "https://github.com/acme"} {
		_, _, err := ParseRepoURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestFetchTreeFiltersFiles(t *testing.T) {
	srv, headers := newServer(t, map[string]bool{"main": true}, 0)
	c := newTestClient(srv, WithToken("secret"))

	tree, err := c.FetchTree(context.Background(), "acme", "widgets", "main")
	require.NoError(t, err)

	assert.Equal(t, "main", tree.Branch)
	var paths []string
	for _, f := range tree.Files {
		paths = append(paths, f.Path)
	}
	assert.Equal(t, []string{"README.md", "src/main.py", "Makefile", "docs/Guide.MD"}, paths)

	readme := tree.Files[0]
	assert.Equal(t, srv.URL+"/raw/acme/widgets/main/README.md", readme.DownloadURL)
	assert.Equal(t, "https://github.com/acme/widgets/blob/main/README.md", readme.SourceLink)
	assert.Equal(t, ".md", tree.Files[3].Extension)

	require.NotEmpty(t, *headers)
	h := (*headers)[0]
	assert.Equal(t, "token secret", h.Get("Authorization"))
	assert.Equal(t, "application/vnd.github.v3+json", h.Get("Accept"))
	assert.NotEmpty(t, h.Get("User-Agent"))
}

func TestFetchTreeFallsBackToMaster(t *testing.T) {
	srv, _ := newServer(t, map[string]bool{"master": true}, 0)
	c := newTestClient(srv)

	tree, err := c.FetchTree(context.Background(), "acme", "widgets", "main")
	require.NoError(t, err)
	assert.Equal(t, "master", tree.Branch)
	assert.Contains(t, tree.Files[0].SourceLink, "/blob/master/")
}

func TestFetchTreeNotFound(t *testing.T) {
	srv, _ := newServer(t, map[string]bool{}, 0)
	c := newTestClient(srv)

	_, err := c.FetchTree(context.Background(), "acme", "widgets", "main")
	assert.ErrorIs(t, err, ErrNotFound)

	// Only "main" falls back.
	_, err = c.FetchTree(context.Background(), "acme", "widgets", "dev")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchTreeRemoteError(t *testing.T) {
	srv, _ := newServer(t, map[string]bool{"main": true}, http.StatusForbidden)
	c := newTestClient(srv)

	_, err := c.FetchTree(context.Background(), "acme", "widgets", "main")
	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	assert.Equal(t, http.StatusForbidden, remote.StatusCode)
}

func TestFetchContent(t *testing.T) {
	srv, _ := newServer(t, map[string]bool{"main": true}, 0)
	c := newTestClient(srv)

	content, err := c.FetchContent(context.Background(), FileInfo{DownloadURL: srv.URL + "/raw/acme/widgets/main/README.md"})
	require.NoError(t, err)
	assert.Equal(t, DecodeUTF8, content.Decoding)
	assert.Equal(t, "# Widgets\n\nhello", content.Text)

	content, err = c.FetchContent(context.Background(), FileInfo{DownloadURL: srv.URL + "/raw/acme/widgets/main/latin.txt"})
	require.NoError(t, err)
	assert.Equal(t, DecodeLatin1, content.Decoding)
	assert.Equal(t, "café", content.Text)

	_, err = c.FetchContent(context.Background(), FileInfo{DownloadURL: srv.URL + "/raw/acme/widgets/main/gone.md"})
	assert.ErrorIs(t, err, ErrNotFound)
}
