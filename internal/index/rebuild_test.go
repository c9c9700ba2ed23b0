package index_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/checksum"
	"github.com/starford/raido/internal/githost"
	"github.com/starford/raido/internal/index"
	"github.com/starford/raido/internal/indexdoc"
	"github.com/starford/raido/internal/testutil"
)

const helloDoc = "---\ntitle: Hello\ntags:\n  - go\n---\n# Hello\n"

func TestRebuild_FullPipeline(t *testing.T) {
	host := testutil.NewFakeHost(t, map[string]string{
		"content/posts/hello.md":          helloDoc,
		"content/pages/about.mdoc":        "---\ntitle: About\n---\nAbout us.\n",
		"content/_singletons/settings.md": "---\ntitle: Settings\n---\nBody\n",
		"content/assets/logo.png":         "\x89PNG...",
	})
	svc := newService(t, host)
	r := index.NewRebuilder(svc)

	var completed bool
	if err := r.Rebuild(context.Background(), func() { completed = true }); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if !completed {
		t.Error("onComplete not invoked on success")
	}
	if r.State() != index.StateDone {
		t.Errorf("state = %v, want done", r.State())
	}
	processed, total := r.Progress()
	if processed != 3 || total != 3 {
		t.Errorf("progress = %d/%d, want 3/3", processed, total)
	}

	commits := host.Commits()
	if len(commits) != 1 {
		t.Fatalf("rebuild issued %d commits, want 1", len(commits))
	}

	metaText, ok := host.File("content/metadata.json")
	if !ok {
		t.Fatal("metadata.json not committed")
	}
	doc, err := indexdoc.Parse([]byte(metaText))
	if err != nil {
		t.Fatalf("Parse(metadata): %v", err)
	}
	if len(doc.Entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(doc.Entries))
	}
	byKey := map[string]indexdoc.Entry{}
	for _, e := range doc.Entries {
		byKey[e.Key()] = e
	}
	hello, ok := byKey["posts/hello"]
	if !ok {
		t.Fatalf("posts/hello missing: %v", byKey)
	}
	if hello.Provenance.Hash != checksum.Sum(helloDoc) {
		t.Errorf("hello hash = %q, want checksum of raw text", hello.Provenance.Hash)
	}
	if hello.Provenance.Path != "content/posts/hello.md" {
		t.Errorf("hello path = %q", hello.Provenance.Path)
	}
	if title, _ := hello.Extra["title"].(string); title != "Hello" {
		t.Errorf("front matter title not indexed: %v", hello.Extra)
	}
	if _, ok := byKey["pages/about"]; !ok {
		t.Errorf("mdoc document not indexed: %v", byKey)
	}
	if _, ok := byKey["_singletons/settings"]; !ok {
		t.Errorf("singleton document not indexed: %v", byKey)
	}

	mediaText, ok := host.File("content/media.json")
	if !ok {
		t.Fatal("media.json not committed alongside metadata")
	}
	media, err := indexdoc.ParseList[indexdoc.Media]([]byte(mediaText))
	if err != nil {
		t.Fatalf("ParseList(media): %v", err)
	}
	if len(media.Entries) != 1 || media.Entries[0].Filename != "logo.png" || media.Entries[0].Type != "png" {
		t.Errorf("media entries = %+v", media.Entries)
	}
}

func TestRebuild_IdempotentOverUnchangedContent(t *testing.T) {
	host := testutil.NewFakeHost(t, map[string]string{
		"content/posts/hello.md": helloDoc,
		"content/posts/world.md": "---\ntitle: World\n---\nBody\n",
	})
	svc := newService(t, host)

	if err := index.NewRebuilder(svc).Rebuild(context.Background(), nil); err != nil {
		t.Fatalf("first Rebuild: %v", err)
	}
	first, _ := host.File("content/metadata.json")

	if err := index.NewRebuilder(svc).Rebuild(context.Background(), nil); err != nil {
		t.Fatalf("second Rebuild: %v", err)
	}
	second, _ := host.File("content/metadata.json")

	docA, err := indexdoc.Parse([]byte(first))
	if err != nil {
		t.Fatal(err)
	}
	docB, err := indexdoc.Parse([]byte(second))
	if err != nil {
		t.Fatal(err)
	}
	if len(docB.Entries) != 2 {
		t.Fatalf("second rebuild has %d entries, want 2 (no duplicates)", len(docB.Entries))
	}
	// The generating revision moves with the rebuild's own commit; with it
	// normalized the serialized output is byte-identical.
	docB.Commit = docA.Commit
	outA, err := indexdoc.Marshal(docA)
	if err != nil {
		t.Fatal(err)
	}
	outB, err := indexdoc.Marshal(docB)
	if err != nil {
		t.Fatal(err)
	}
	if string(outA) != string(outB) {
		t.Errorf("rebuild not idempotent:\n%s\n---\n%s", outA, outB)
	}
}

func TestRebuild_BatchesBoundConcurrentFetches(t *testing.T) {
	files := map[string]string{}
	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		files[fmt.Sprintf("content/posts/%s.md", n)] = fmt.Sprintf("---\ntitle: %s\n---\nBody\n", n)
	}
	host := testutil.NewFakeHost(t, files)
	host.FetchDelay = 20 * time.Millisecond
	svc := index.NewService(host.Client(), index.Options{
		Owner:       "acme",
		Repository:  "site",
		Branch:      "main",
		ContentRoot: "content",
		BatchSize:   2,
		Clock:       func() time.Time { return fixedTime },
	})
	r := index.NewRebuilder(svc)

	if err := r.Rebuild(context.Background(), nil); err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	processed, total := r.Progress()
	if processed != 6 || total != 6 {
		t.Errorf("progress = %d/%d, want 6/6", processed, total)
	}

	// Batches run strictly in sequence, so the batch size is also the peak
	// number of fetches in flight at once.
	max := host.MaxInFlightFetches()
	if max > 2 {
		t.Errorf("peak concurrent fetches = %d, want at most the batch size 2", max)
	}
	if max == 0 {
		t.Error("no document fetch was tracked")
	}

	metaText, _ := host.File("content/metadata.json")
	doc, err := indexdoc.Parse([]byte(metaText))
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Entries) != 6 {
		t.Errorf("entries = %d, want all 6 documents indexed", len(doc.Entries))
	}
}

func TestRebuild_PartialFetchFailureTolerated(t *testing.T) {
	files := map[string]string{}
	for _, n := range []string{"a", "b", "c", "d", "e"} {
		files[fmt.Sprintf("content/posts/%s.md", n)] = fmt.Sprintf("---\ntitle: %s\n---\nBody\n", n)
	}
	host := testutil.NewFakeHost(t, files)
	host.FailPaths["content/posts/c.md"] = true
	svc := newService(t, host)
	r := index.NewRebuilder(svc)

	if err := r.Rebuild(context.Background(), nil); err != nil {
		t.Fatalf("Rebuild failed on a per-file error: %v", err)
	}
	processed, total := r.Progress()
	if processed != 5 || total != 5 {
		t.Errorf("progress = %d/%d, want 5/5", processed, total)
	}
	metaText, _ := host.File("content/metadata.json")
	doc, err := indexdoc.Parse([]byte(metaText))
	if err != nil {
		t.Fatal(err)
	}
	if len(doc.Entries) != 4 {
		t.Errorf("entries = %d, want 4 (failed file omitted)", len(doc.Entries))
	}
	for _, e := range doc.Entries {
		if e.Slug == "c" {
			t.Error("failed file still assembled into the index")
		}
	}
}

func TestRebuild_TreeFetchFailureIsFatal(t *testing.T) {
	host := testutil.NewFakeHost(t, map[string]string{"elsewhere/readme.md": "# Hi"})
	svc := newService(t, host)
	r := index.NewRebuilder(svc)

	err := r.Rebuild(context.Background(), func() { t.Error("onComplete ran on failure") })
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	if r.State() != index.StateFailed {
		t.Errorf("state = %v, want failed", r.State())
	}
	processed, total := r.Progress()
	if processed != 0 || total != 0 {
		t.Errorf("counters not reset on failure: %d/%d", processed, total)
	}
}

// staleHeadClient returns a head revision that a concurrent writer
// immediately invalidates.
type staleHeadClient struct {
	githost.Client
	host *testutil.FakeHost
}

func (c *staleHeadClient) HeadRevision(ctx context.Context) (string, error) {
	head, err := c.Client.HeadRevision(ctx)
	c.host.AdvanceHead()
	return head, err
}

func TestRebuild_ConflictSurfacesToCaller(t *testing.T) {
	host := testutil.NewFakeHost(t, map[string]string{"content/posts/a.md": "# A"})
	svc := index.NewService(&staleHeadClient{Client: host.Client(), host: host}, index.Options{
		Owner: "acme", Repository: "site", Branch: "main", ContentRoot: "content",
	})
	r := index.NewRebuilder(svc)

	err := r.Rebuild(context.Background(), func() { t.Error("onComplete ran on conflict") })
	if !errors.Is(err, apperr.ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if r.State() != index.StateFailed {
		t.Errorf("state = %v, want failed", r.State())
	}
	if _, ok := host.File("content/metadata.json"); ok {
		t.Error("metadata committed despite conflict")
	}
}
