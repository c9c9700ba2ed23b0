package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/checksum"
	"github.com/starford/raido/internal/commit"
	"github.com/starford/raido/internal/indexdoc"
	"github.com/starford/raido/internal/parser"
)

// SaveRequest describes one document save. On rename, PreviousPath and
// PreviousSlug identify the entry being replaced; both sides of the rename
// land in the same commit.
type SaveRequest struct {
	Collection   string
	Slug         string
	Path         string
	Content      string
	PreviousSlug string
	PreviousPath string
}

// schemaFile is the per-collection field schema: known enum/tag values per
// front matter field, kept sorted.
type schemaFile struct {
	Fields map[string]*schemaField `json:"fields"`
}

type schemaField struct {
	Values []string `json:"values"`
}

// SaveDocument bundles a single document save into one atomic commit: the
// content file write (plus the old path's deletion on rename), an updated
// per-collection schema file when the front matter introduces a new enum or
// tag value, and the metadata index patch. Returns the new head revision.
func (s *Service) SaveDocument(ctx context.Context, req SaveRequest) (string, error) {
	if req.Path == "" || req.Slug == "" {
		return "", fmt.Errorf("save: path and slug are required")
	}

	res := parser.Parse([]byte(req.Content))

	b := commit.NewBuilder(fmt.Sprintf("Save %s/%s", req.Collection, req.Slug))
	b.Replace(req.Path, req.Content, false)
	renamed := req.PreviousPath != "" && req.PreviousPath != req.Path
	if renamed {
		b.Remove(req.PreviousPath)
	}

	if err := s.stageSchemaUpdate(ctx, b, req.Collection, res.Frontmatter); err != nil {
		return "", err
	}

	doc, err := s.fetchMetadata(ctx)
	if err != nil {
		return "", err
	}

	// The base revision is fetched immediately before submission; it also
	// stamps the patched entry's provenance.
	head, err := s.host.HeadRevision(ctx)
	if err != nil {
		return "", err
	}

	if req.PreviousSlug != "" && req.PreviousSlug != req.Slug {
		doc.Remove(req.Collection, req.PreviousSlug)
	}
	extra := make(map[string]any, len(res.Frontmatter))
	for k, v := range res.Frontmatter {
		if indexdoc.ReservedEntryKey(k) {
			continue
		}
		extra[k] = v
	}
	doc.Upsert(indexdoc.Entry{
		Slug:       req.Slug,
		Collection: req.Collection,
		Provenance: indexdoc.Provenance{
			Hash:   checksum.Sum(req.Content),
			Path:   req.Path,
			Commit: checksum.Short(head),
		},
		Extra: extra,
	})
	doc.Commit = checksum.Short(head)
	doc.Generated = s.opt.Clock()

	metaText, err := indexdoc.Marshal(doc)
	if err != nil {
		return "", err
	}
	b.Replace(s.contentPath(indexdoc.MetadataPath), string(metaText), false)

	tx := b.Build(s.opt.Owner, s.opt.Repository, s.opt.Branch, head)
	return s.host.CreateCommit(ctx, tx)
}

// stageSchemaUpdate reads the collection's _schema.json, if any, and stages
// an updated copy when the saved front matter carries a value not yet listed
// for a schema field. Collections without a schema file are left alone.
func (s *Service) stageSchemaUpdate(ctx context.Context, b *commit.Builder, collection string, fm map[string]any) error {
	if collection == "" || len(fm) == 0 {
		return nil
	}
	schemaPath := s.contentPath(collection + "/_schema.json")
	text, err := s.host.FetchText(ctx, schemaPath)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("read schema %s: %w", schemaPath, err)
	}
	var schema schemaFile
	if err := json.Unmarshal([]byte(text), &schema); err != nil {
		return fmt.Errorf("%w: schema %s: %v", apperr.ErrParse, schemaPath, err)
	}

	changed := false
	for field, def := range schema.Fields {
		if def == nil {
			continue
		}
		for _, v := range fieldValues(fm[field]) {
			if !containsString(def.Values, v) {
				def.Values = append(def.Values, v)
				changed = true
			}
		}
		sort.Strings(def.Values)
	}
	if !changed {
		return nil
	}

	out, err := json.MarshalIndent(&schema, "", "  ")
	if err != nil {
		return err
	}
	b.Replace(schemaPath, string(out)+"\n", false)
	return nil
}

// fieldValues extracts the string values of a front matter field, handling
// both scalar enums and tag lists.
func fieldValues(raw any) []string {
	switch v := raw.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		var out []string
		for _, item := range v {
			if str, ok := item.(string); ok && str != "" {
				out = append(out, str)
			}
		}
		return out
	default:
		return nil
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
