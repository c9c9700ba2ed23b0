// Package indexdoc defines the derived index documents committed to the
// content repository and their deterministic serializer.
//
// Index files are committed to history, so serialization must be stable:
// entries are sorted by a fixed key and object keys are emitted in a fixed
// order. Two rebuilds over unchanged content produce byte-identical output.
package indexdoc

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/starford/raido/internal/apperr"
)

// Canonical index file paths, relative to the content root.
const (
	MetadataPath    = "metadata.json"
	CollectionsPath = "collections.json"
	SingletonsPath  = "singletons.json"
	MediaPath       = "media.json"
)

// Provenance records where and from what an index entry was generated.
type Provenance struct {
	Hash   string `json:"hash"`
	Path   string `json:"path"`
	Commit string `json:"commit"`
}

// Entry is the denormalized index record for one content file. Extra holds
// the document's front matter fields; unknown keys found when parsing an
// existing index land there too, so rewriting an entry never drops them.
type Entry struct {
	Slug       string
	Collection string
	Provenance Provenance
	Extra      map[string]any
}

// Key returns the uniqueness key. No two entries in a document may share it.
func (e Entry) Key() string { return e.Collection + "/" + e.Slug }

func (e Entry) sortKey() string {
	if e.Provenance.Path != "" {
		return e.Provenance.Path
	}
	return e.Slug
}

// Document is the metadata index: the full denormalized record set.
type Document struct {
	Commit    string
	Generated time.Time
	Entries   []Entry
}

// Upsert removes any entry sharing the new entry's (collection, slug) key and
// appends the fresh one. Repeated upserts of the same content are idempotent.
func (d *Document) Upsert(e Entry) {
	d.Remove(e.Collection, e.Slug)
	d.Entries = append(d.Entries, e)
}

// Remove deletes the entry keyed by (collection, slug), reporting whether one
// was present.
func (d *Document) Remove(collection, slug string) bool {
	key := collection + "/" + slug
	for i, e := range d.Entries {
		if e.Key() == key {
			d.Entries = append(d.Entries[:i], d.Entries[i+1:]...)
			return true
		}
	}
	return false
}

// Collection describes one top-level content folder. Children is reserved
// for nested grouping and may be empty.
type Collection struct {
	Title    string       `json:"title"`
	Slug     string       `json:"slug"`
	Path     string       `json:"path"`
	Children []Collection `json:"children"`
}

// Singleton describes one standalone document outside any collection.
type Singleton struct {
	Title       string `json:"title"`
	Slug        string `json:"slug"`
	Path        string `json:"path"`
	Directory   string `json:"directory"`
	PublishedAt string `json:"publishedAt"`
	Status      string `json:"status"`
}

// Media describes one uploaded binary asset.
type Media struct {
	Provenance  Provenance `json:"index-provenance"`
	Filename    string     `json:"filename"`
	Type        string     `json:"type"`
	PublishedAt string     `json:"publishedAt"`
	Alt         string     `json:"alt"`
}

// List is the committed form of the collections, singletons and media
// indexes: a header plus a homogeneous entry list.
type List[T any] struct {
	Commit    string    `json:"commit"`
	Generated time.Time `json:"generated"`
	Entries   []T       `json:"entries"`
}

// MarshalList serializes l with entries sorted by less. Struct field order is
// fixed by the type, so output is deterministic for a given entry set.
func MarshalList[T any](l *List[T], less func(a, b T) bool) ([]byte, error) {
	sorted := make([]T, len(l.Entries))
	copy(sorted, l.Entries)
	sort.SliceStable(sorted, func(i, j int) bool { return less(sorted[i], sorted[j]) })
	out := List[T]{Commit: l.Commit, Generated: l.Generated.UTC().Truncate(time.Second), Entries: sorted}
	if out.Entries == nil {
		out.Entries = []T{}
	}
	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// ParseList is the inverse of MarshalList, tolerant of unknown top-level keys.
func ParseList[T any](data []byte) (*List[T], error) {
	var l List[T]
	if err := json.Unmarshal(data, &l); err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrParse, err)
	}
	return &l, nil
}
