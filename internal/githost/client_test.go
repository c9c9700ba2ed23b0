package githost_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/commit"
	"github.com/starford/raido/internal/githost"
	"github.com/starford/raido/internal/testutil"
)

func TestHeadRevision(t *testing.T) {
	host := testutil.NewFakeHost(t, map[string]string{"content/posts/a.md": "# A"})
	rev, err := host.Client().HeadRevision(context.Background())
	if err != nil {
		t.Fatalf("HeadRevision: %v", err)
	}
	if rev != host.Head() {
		t.Errorf("rev = %q, want %q", rev, host.Head())
	}
}

func TestHeadRevision_MalformedHistory(t *testing.T) {
	// A branch that resolves but returns an empty history must be a hard
	// failure, never an empty revision.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"repository": map[string]any{
					"ref": map[string]any{
						"target": map[string]any{
							"oid":     "rev-9",
							"history": map[string]any{"nodes": []any{}},
						},
					},
				},
			},
		})
	}))
	defer srv.Close()

	c := githost.NewGraphQL(githost.Config{Endpoint: srv.URL, Owner: "acme", Repository: "site", Branch: "main"})
	_, err := c.HeadRevision(context.Background())
	if !errors.Is(err, apperr.ErrRevisionUnavailable) {
		t.Errorf("err = %v, want ErrRevisionUnavailable", err)
	}
}

func TestHeadRevision_MissingBranch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"repository": map[string]any{"ref": nil}},
		})
	}))
	defer srv.Close()

	c := githost.NewGraphQL(githost.Config{Endpoint: srv.URL, Owner: "acme", Repository: "site", Branch: "gone"})
	_, err := c.HeadRevision(context.Background())
	if !errors.Is(err, apperr.ErrRevisionUnavailable) {
		t.Errorf("err = %v, want ErrRevisionUnavailable", err)
	}
}

func TestFetchTree_Nested(t *testing.T) {
	host := testutil.NewFakeHost(t, map[string]string{
		"content/posts/hello.md":      "# Hello",
		"content/posts/deep/more.md":  "# More",
		"content/_singletons/ponq.md": "# About",
	})
	tree, err := host.Client().FetchTree(context.Background(), "content")
	if err != nil {
		t.Fatalf("FetchTree: %v", err)
	}
	if tree.OID != host.Head() {
		t.Errorf("tree OID = %q, want head %q", tree.OID, host.Head())
	}
	// Top level: _singletons and posts.
	if len(tree.Entries) != 2 {
		t.Fatalf("top-level entries = %d, want 2", len(tree.Entries))
	}
	var posts *githost.TreeEntry
	for i := range tree.Entries {
		if tree.Entries[i].Name == "posts" {
			posts = &tree.Entries[i]
		}
	}
	if posts == nil || posts.Type != "tree" {
		t.Fatalf("posts subtree missing: %+v", tree.Entries)
	}
	var foundDeep bool
	for _, e := range posts.Entries {
		if e.Name == "deep" && len(e.Entries) == 1 && e.Entries[0].Path == "content/posts/deep/more.md" {
			foundDeep = true
		}
	}
	if !foundDeep {
		t.Errorf("nested subtree not returned in one request: %+v", posts.Entries)
	}
}

func TestFetchTree_NotFound(t *testing.T) {
	host := testutil.NewFakeHost(t, map[string]string{"content/posts/a.md": "# A"})
	_, err := host.Client().FetchTree(context.Background(), "missing-root")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFetchText(t *testing.T) {
	host := testutil.NewFakeHost(t, map[string]string{"content/collections.json": `{"entries":[]}`})
	text, err := host.Client().FetchText(context.Background(), "content/collections.json")
	if err != nil {
		t.Fatalf("FetchText: %v", err)
	}
	if text != `{"entries":[]}` {
		t.Errorf("text = %q", text)
	}

	_, err = host.Client().FetchText(context.Background(), "content/absent.json")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestFetchDocument_ResolvesVariant(t *testing.T) {
	host := testutil.NewFakeHost(t, map[string]string{
		"content/posts/plain.md":  "# Plain",
		"content/posts/rich.mdoc": "# Rich",
	})
	c := host.Client()

	blob, err := c.FetchDocument(context.Background(), "content/posts/plain")
	if err != nil {
		t.Fatalf("FetchDocument: %v", err)
	}
	if blob.Path != "content/posts/plain.md" || blob.Text != "# Plain" {
		t.Errorf("blob = %+v", blob)
	}
	if blob.Commit != host.Head() {
		t.Errorf("blob commit = %q, want %q", blob.Commit, host.Head())
	}

	blob, err = c.FetchDocument(context.Background(), "content/posts/rich")
	if err != nil {
		t.Fatalf("FetchDocument: %v", err)
	}
	if blob.Path != "content/posts/rich.mdoc" {
		t.Errorf("blob path = %q, want .mdoc variant", blob.Path)
	}

	if _, err = c.FetchDocument(context.Background(), "content/posts/ghost"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestCreateCommit_Atomic(t *testing.T) {
	host := testutil.NewFakeHost(t, map[string]string{"content/posts/old.md": "# Old"})
	c := host.Client()

	b := commit.NewBuilder("Rename old to new")
	b.Replace("content/posts/new.md", "# New", false)
	b.Remove("content/posts/old.md")
	tx := testutil.BuildTransaction(b, host.Head())

	newHead, err := c.CreateCommit(context.Background(), tx)
	if err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	if newHead != host.Head() {
		t.Errorf("returned head %q, host head %q", newHead, host.Head())
	}
	if _, ok := host.File("content/posts/old.md"); ok {
		t.Error("deleted file still present")
	}
	if got, _ := host.File("content/posts/new.md"); got != "# New" {
		t.Errorf("added file = %q", got)
	}
}

func TestCreateCommit_StaleBaseRejectedInFull(t *testing.T) {
	host := testutil.NewFakeHost(t, map[string]string{"content/posts/a.md": "# A"})
	c := host.Client()

	b := commit.NewBuilder("Racy change")
	b.Replace("content/posts/b.md", "# B", false)
	b.Remove("content/posts/a.md")
	tx := testutil.BuildTransaction(b, host.Head())

	// A concurrent writer advances the branch before submission.
	host.AdvanceHead()

	_, err := c.CreateCommit(context.Background(), tx)
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	// Nothing was applied.
	if _, ok := host.File("content/posts/a.md"); !ok {
		t.Error("deletion applied despite rejected commit")
	}
	if _, ok := host.File("content/posts/b.md"); ok {
		t.Error("addition applied despite rejected commit")
	}
	if len(host.Commits()) != 0 {
		t.Errorf("host recorded %d commits, want 0", len(host.Commits()))
	}
}

func TestCreateCommit_EncodesPlainContent(t *testing.T) {
	host := testutil.NewFakeHost(t, map[string]string{})
	b := commit.NewBuilder("Add doc")
	b.Replace("content/posts/x.md", "---\ntitle: X\n---\nBody\n", false)
	if _, err := host.Client().CreateCommit(context.Background(), testutil.BuildTransaction(b, host.Head())); err != nil {
		t.Fatalf("CreateCommit: %v", err)
	}
	got, _ := host.File("content/posts/x.md")
	if got != "---\ntitle: X\n---\nBody\n" {
		t.Errorf("stored content = %q", got)
	}
}
