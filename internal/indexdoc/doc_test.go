package indexdoc

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/starford/raido/internal/apperr"
)

func sampleEntries() []Entry {
	return []Entry{
		{
			Slug:       "world",
			Collection: "posts",
			Provenance: Provenance{Hash: "bb", Path: "posts/world.md", Commit: "abc1234"},
			Extra:      map[string]any{"title": "World", "draft": true},
		},
		{
			Slug:       "hello",
			Collection: "posts",
			Provenance: Provenance{Hash: "aa", Path: "posts/hello.md", Commit: "abc1234"},
			Extra:      map[string]any{"title": "Hello", "tags": []any{"go", "raido"}},
		},
	}
}

func TestMarshal_DeterministicAcrossInputOrder(t *testing.T) {
	gen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	entries := sampleEntries()

	a := &Document{Commit: "abc1234", Generated: gen, Entries: entries}
	b := &Document{Commit: "abc1234", Generated: gen, Entries: []Entry{entries[1], entries[0]}}

	outA, err := Marshal(a)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	outB, err := Marshal(b)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !bytes.Equal(outA, outB) {
		t.Errorf("output differs with entry input order:\n%s\n---\n%s", outA, outB)
	}
}

func TestMarshal_EntriesSortedByPath(t *testing.T) {
	doc := &Document{Commit: "abc1234", Generated: time.Now(), Entries: sampleEntries()}
	out, err := Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	hello := bytes.Index(out, []byte("posts/hello.md"))
	world := bytes.Index(out, []byte("posts/world.md"))
	if hello < 0 || world < 0 || hello > world {
		t.Errorf("entries not sorted by path (hello at %d, world at %d)", hello, world)
	}
}

func TestMarshalParse_RoundTripPreservesUnknownKeys(t *testing.T) {
	gen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	doc := &Document{Commit: "abc1234", Generated: gen, Entries: sampleEntries()}

	out, err := Marshal(doc)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	parsed, err := Parse(out)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed.Entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(parsed.Entries))
	}
	again, err := Marshal(parsed)
	if err != nil {
		t.Fatalf("Marshal(parsed): %v", err)
	}
	if !bytes.Equal(out, again) {
		t.Errorf("round trip not byte-identical:\n%s\n---\n%s", out, again)
	}

	// An extension key nobody in this codebase knows about survives a rewrite.
	custom := []byte(strings.Replace(string(out), `"title": "Hello"`, `"title": "Hello",
        "x-reviewed-by": "editor"`, 1))
	parsed, err = Parse(custom)
	if err != nil {
		t.Fatalf("Parse(custom): %v", err)
	}
	rewritten, err := Marshal(parsed)
	if err != nil {
		t.Fatalf("Marshal(rewritten): %v", err)
	}
	if !bytes.Contains(rewritten, []byte("x-reviewed-by")) {
		t.Error("unknown entry key dropped on rewrite")
	}
}

func TestUpsert_UniqueByCollectionAndSlug(t *testing.T) {
	doc := &Document{}
	doc.Upsert(Entry{Slug: "a", Collection: "posts", Provenance: Provenance{Hash: "1"}})
	doc.Upsert(Entry{Slug: "a", Collection: "pages", Provenance: Provenance{Hash: "2"}})
	doc.Upsert(Entry{Slug: "a", Collection: "posts", Provenance: Provenance{Hash: "3"}})

	if len(doc.Entries) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(doc.Entries))
	}
	seen := map[string]int{}
	for _, e := range doc.Entries {
		seen[e.Key()]++
		if e.Key() == "posts/a" && e.Provenance.Hash != "3" {
			t.Errorf("stale entry survived upsert: %+v", e)
		}
	}
	for k, n := range seen {
		if n != 1 {
			t.Errorf("key %q appears %d times", k, n)
		}
	}
}

func TestRemove(t *testing.T) {
	doc := &Document{}
	doc.Upsert(Entry{Slug: "a", Collection: "posts"})
	if !doc.Remove("posts", "a") {
		t.Error("Remove returned false for present entry")
	}
	if doc.Remove("posts", "a") {
		t.Error("Remove returned true for absent entry")
	}
}

func TestReservedEntryKey(t *testing.T) {
	for _, k := range []string{"slug", "collection", "index-provenance"} {
		if !ReservedEntryKey(k) {
			t.Errorf("ReservedEntryKey(%q) = false, want true", k)
		}
	}
	for _, k := range []string{"title", "tags", "provenance", ""} {
		if ReservedEntryKey(k) {
			t.Errorf("ReservedEntryKey(%q) = true, want false", k)
		}
	}
}

func TestParse_Invalid(t *testing.T) {
	_, err := Parse([]byte("{not json"))
	if !errors.Is(err, apperr.ErrParse) {
		t.Errorf("err = %v, want ErrParse", err)
	}
}

func TestMarshalList_SortedAndStable(t *testing.T) {
	gen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l := &List[Collection]{
		Commit:    "abc1234",
		Generated: gen,
		Entries: []Collection{
			{Title: "Pages", Slug: "pages", Path: "pages", Children: []Collection{}},
			{Title: "Posts", Slug: "posts", Path: "posts", Children: []Collection{}},
		},
	}
	less := func(a, b Collection) bool { return a.Slug < b.Slug }

	outA, err := MarshalList(l, less)
	if err != nil {
		t.Fatalf("MarshalList: %v", err)
	}
	l.Entries[0], l.Entries[1] = l.Entries[1], l.Entries[0]
	outB, err := MarshalList(l, less)
	if err != nil {
		t.Fatalf("MarshalList: %v", err)
	}
	if !bytes.Equal(outA, outB) {
		t.Errorf("list output differs with input order:\n%s\n---\n%s", outA, outB)
	}

	parsed, err := ParseList[Collection](outA)
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if len(parsed.Entries) != 2 || parsed.Entries[0].Slug != "pages" {
		t.Errorf("parsed = %+v", parsed.Entries)
	}
}

func TestParseList_Invalid(t *testing.T) {
	_, err := ParseList[Singleton]([]byte("]["))
	if !errors.Is(err, apperr.ErrParse) {
		t.Errorf("err = %v, want ErrParse", err)
	}
}
