package indexdoc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/starford/raido/internal/apperr"
)

// Entry keys with a fixed position. Everything else is an extension field,
// emitted after them in lexical order.
const (
	keySlug       = "slug"
	keyCollection = "collection"
	keyProvenance = "index-provenance"
)

// ReservedEntryKey reports whether k is one of the fixed entry keys. Front
// matter fields with these names never land in Extra; the fixed fields own
// them.
func ReservedEntryKey(k string) bool {
	return k == keySlug || k == keyCollection || k == keyProvenance
}

// Marshal serializes the metadata document. Entries are sorted by provenance
// path (slug when the path is empty) and every object's keys are emitted in a
// fixed order, so the output is byte-identical across rebuilds of unchanged
// content with the same commit and generation time.
func Marshal(d *Document) ([]byte, error) {
	entries := make([]Entry, len(d.Entries))
	copy(entries, d.Entries)
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.sortKey() != b.sortKey() {
			return a.sortKey() < b.sortKey()
		}
		return a.Key() < b.Key()
	})

	var b bytes.Buffer
	b.WriteString("{\n")
	if err := writeField(&b, 1, "commit", d.Commit, true); err != nil {
		return nil, err
	}
	generated := d.Generated.UTC().Truncate(time.Second).Format(time.RFC3339)
	if err := writeField(&b, 1, "generated", generated, true); err != nil {
		return nil, err
	}
	b.WriteString("  \"entries\": [")
	for i, e := range entries {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n")
		if err := writeEntry(&b, 2, e); err != nil {
			return nil, err
		}
	}
	if len(entries) > 0 {
		b.WriteString("\n  ")
	}
	b.WriteString("]\n}\n")
	return b.Bytes(), nil
}

func writeEntry(b *bytes.Buffer, depth int, e Entry) error {
	pad := indent(depth)
	b.WriteString(pad + "{\n")
	if err := writeField(b, depth+1, keySlug, e.Slug, true); err != nil {
		return err
	}
	if err := writeField(b, depth+1, keyCollection, e.Collection, true); err != nil {
		return err
	}

	inner := indent(depth + 1)
	b.WriteString(inner + jsonKey(keyProvenance) + "{\n")
	if err := writeField(b, depth+2, "hash", e.Provenance.Hash, true); err != nil {
		return err
	}
	if err := writeField(b, depth+2, "path", e.Provenance.Path, true); err != nil {
		return err
	}
	if err := writeField(b, depth+2, "commit", e.Provenance.Commit, false); err != nil {
		return err
	}
	b.WriteString(inner + "}")

	extras := make([]string, 0, len(e.Extra))
	for k := range e.Extra {
		if ReservedEntryKey(k) {
			continue
		}
		extras = append(extras, k)
	}
	sort.Strings(extras)
	for _, k := range extras {
		b.WriteString(",\n")
		if err := writeFieldNoComma(b, depth+1, k, e.Extra[k]); err != nil {
			return err
		}
	}
	b.WriteString("\n" + pad + "}")
	return nil
}

func writeField(b *bytes.Buffer, depth int, key string, value any, comma bool) error {
	if err := writeFieldNoComma(b, depth, key, value); err != nil {
		return err
	}
	if comma {
		b.WriteString(",")
	}
	b.WriteString("\n")
	return nil
}

func writeFieldNoComma(b *bytes.Buffer, depth int, key string, value any) error {
	// json.Marshal sorts map keys, so nested values stay deterministic.
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("marshal %q: %w", key, err)
	}
	b.WriteString(indent(depth) + jsonKey(key))
	b.Write(raw)
	return nil
}

func jsonKey(key string) string {
	raw, _ := json.Marshal(key)
	return string(raw) + ": "
}

func indent(depth int) string {
	const unit = "  "
	s := ""
	for i := 0; i < depth; i++ {
		s += unit
	}
	return s
}

// Parse is the inverse of Marshal. Unknown top-level keys are ignored;
// unknown keys on an entry are preserved in Extra so a rewrite keeps them.
func Parse(data []byte) (*Document, error) {
	var raw struct {
		Commit    string            `json:"commit"`
		Generated time.Time         `json:"generated"`
		Entries   []json.RawMessage `json:"entries"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: metadata index: %v", apperr.ErrParse, err)
	}
	doc := &Document{Commit: raw.Commit, Generated: raw.Generated}
	for i, re := range raw.Entries {
		e, err := parseEntry(re)
		if err != nil {
			return nil, fmt.Errorf("%w: metadata entry %d: %v", apperr.ErrParse, i, err)
		}
		doc.Entries = append(doc.Entries, e)
	}
	return doc, nil
}

func parseEntry(raw json.RawMessage) (Entry, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return Entry{}, err
	}
	var e Entry
	if v, ok := m[keySlug]; ok {
		if err := json.Unmarshal(v, &e.Slug); err != nil {
			return Entry{}, err
		}
	}
	if v, ok := m[keyCollection]; ok {
		if err := json.Unmarshal(v, &e.Collection); err != nil {
			return Entry{}, err
		}
	}
	if v, ok := m[keyProvenance]; ok {
		if err := json.Unmarshal(v, &e.Provenance); err != nil {
			return Entry{}, err
		}
	}
	for k, v := range m {
		if ReservedEntryKey(k) {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			return Entry{}, err
		}
		if e.Extra == nil {
			e.Extra = make(map[string]any)
		}
		e.Extra[k] = val
	}
	return e, nil
}
