// Package index maintains the derived index files committed to the content
// repository: lazy bootstrap reads for the collections, singletons and media
// indexes, the full metadata rebuild pipeline, and the incremental update
// applied on every document save.
package index

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/checksum"
	"github.com/starford/raido/internal/commit"
	"github.com/starford/raido/internal/githost"
	"github.com/starford/raido/internal/indexdoc"
	"github.com/starford/raido/internal/inflight"
	"github.com/starford/raido/internal/parser"
)

// Options configures a Service.
type Options struct {
	Owner      string
	Repository string
	Branch     string
	// ContentRoot may be empty: the repository root is then the content root.
	ContentRoot   string
	SingletonsDir string
	BatchSize     int
	Logger        *slog.Logger
	// Clock is overridable for deterministic generation timestamps in tests.
	Clock func() time.Time
}

// Service reads and maintains the committed index files.
type Service struct {
	host    githost.Client
	opt     Options
	flights *inflight.Registry
	bg      sync.WaitGroup
}

// NewService creates a Service over the given host.
func NewService(host githost.Client, opt Options) *Service {
	if opt.SingletonsDir == "" {
		opt.SingletonsDir = "_singletons"
	}
	if opt.BatchSize <= 0 {
		opt.BatchSize = 5
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Clock == nil {
		opt.Clock = time.Now
	}
	return &Service{
		host:    host,
		opt:     opt,
		flights: inflight.NewRegistry(),
	}
}

// WaitBackground blocks until in-flight background commits settle. Tests and
// shutdown use it; the read paths never do.
func (s *Service) WaitBackground() {
	s.bg.Wait()
}

// contentPath joins rel onto the content root. An empty root maps rel onto
// the repository root unchanged.
func (s *Service) contentPath(rel string) string {
	if s.opt.ContentRoot == "" {
		return rel
	}
	return path.Join(s.opt.ContentRoot, rel)
}

// Collections returns the collections index, deriving and persisting it when
// the index file does not exist yet.
func (s *Service) Collections(ctx context.Context, enabled bool) ([]indexdoc.Collection, error) {
	if !enabled {
		return []indexdoc.Collection{}, nil
	}
	return s.loadCollections(ctx, true)
}

// loadCollections reads the collections index, deriving it from the live
// tree when absent. persist controls whether a derived result is also
// written back; the rebuild pipeline derives without persisting since its
// own commit would race the background one.
func (s *Service) loadCollections(ctx context.Context, persist bool) ([]indexdoc.Collection, error) {
	text, err := s.host.FetchText(ctx, s.contentPath(indexdoc.CollectionsPath))
	if err == nil {
		l, err := indexdoc.ParseList[indexdoc.Collection]([]byte(text))
		if err != nil {
			// A present but invalid index file is corruption, not a reason
			// to bootstrap over it.
			return nil, err
		}
		out := make([]indexdoc.Collection, 0, len(l.Entries))
		for _, c := range l.Entries {
			if c.Slug == s.opt.SingletonsDir {
				continue
			}
			out = append(out, c)
		}
		return out, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	// Bootstrap: derive from the live tree and persist in the background.
	tree, err := s.host.FetchTree(ctx, s.opt.ContentRoot)
	if err != nil {
		return []indexdoc.Collection{}, err
	}
	derived := s.deriveCollections(tree)
	if persist {
		s.persistInBackground("bootstrap:"+indexdoc.CollectionsPath, "Create collections index", indexdoc.CollectionsPath, func(oid string) ([]byte, error) {
			l := &indexdoc.List[indexdoc.Collection]{Commit: checksum.Short(oid), Generated: s.opt.Clock(), Entries: derived}
			return indexdoc.MarshalList(l, func(a, b indexdoc.Collection) bool { return a.Slug < b.Slug })
		})
	}
	return derived, nil
}

func (s *Service) deriveCollections(tree *githost.Tree) []indexdoc.Collection {
	out := make([]indexdoc.Collection, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if e.Type != "tree" {
			continue
		}
		// The reserved singletons folder and asset storage are system
		// folders, never user collections.
		if e.Name == s.opt.SingletonsDir || e.Name == "assets" {
			continue
		}
		out = append(out, indexdoc.Collection{
			Title:    humanize(e.Name),
			Slug:     parser.Slugify(e.Name),
			Path:     e.Path,
			Children: []indexdoc.Collection{},
		})
	}
	return out
}

// Singletons returns the singletons index, deriving and persisting it when
// the index file does not exist yet.
func (s *Service) Singletons(ctx context.Context, enabled bool) ([]indexdoc.Singleton, error) {
	if !enabled {
		return []indexdoc.Singleton{}, nil
	}
	text, err := s.host.FetchText(ctx, s.contentPath(indexdoc.SingletonsPath))
	if err == nil {
		l, err := indexdoc.ParseList[indexdoc.Singleton]([]byte(text))
		if err != nil {
			return nil, err
		}
		return l.Entries, nil
	}
	if !errors.Is(err, apperr.ErrNotFound) {
		return nil, err
	}

	dir := s.contentPath(s.opt.SingletonsDir)
	tree, err := s.host.FetchTree(ctx, dir)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			// No singletons folder yet: an empty index is the valid answer.
			return []indexdoc.Singleton{}, nil
		}
		return []indexdoc.Singleton{}, err
	}
	derived := s.deriveSingletons(dir, tree)
	s.persistInBackground("bootstrap:"+indexdoc.SingletonsPath, "Create singletons index", indexdoc.SingletonsPath, func(oid string) ([]byte, error) {
		l := &indexdoc.List[indexdoc.Singleton]{Commit: checksum.Short(oid), Generated: s.opt.Clock(), Entries: derived}
		return indexdoc.MarshalList(l, func(a, b indexdoc.Singleton) bool { return a.Slug < b.Slug })
	})
	return derived, nil
}

func (s *Service) deriveSingletons(dir string, tree *githost.Tree) []indexdoc.Singleton {
	out := make([]indexdoc.Singleton, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if e.Type != "blob" || !isIndexable(e.Name) {
			continue
		}
		base := strings.TrimSuffix(e.Name, path.Ext(e.Name))
		out = append(out, indexdoc.Singleton{
			Title:     humanize(base),
			Slug:      parser.Slugify(base),
			Path:      e.Path,
			Directory: dir,
		})
	}
	return out
}

// Media returns the media index. When the index file is absent the result is
// empty; media entries are produced by rebuild, not by a read-path bootstrap.
func (s *Service) Media(ctx context.Context, enabled bool) ([]indexdoc.Media, error) {
	if !enabled {
		return []indexdoc.Media{}, nil
	}
	text, err := s.host.FetchText(ctx, s.contentPath(indexdoc.MediaPath))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return []indexdoc.Media{}, nil
		}
		return nil, err
	}
	l, err := indexdoc.ParseList[indexdoc.Media]([]byte(text))
	if err != nil {
		return nil, err
	}
	return l.Entries, nil
}

// persistInBackground schedules a fire-and-forget commit adding the derived
// index file at rel. The in-flight registry collapses concurrent bootstraps
// of the same file into one commit; outcomes land in the log, never on the
// read path that scheduled them.
func (s *Service) persistInBackground(key, message, rel string, render func(headOID string) ([]byte, error)) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()
		_, _ = s.flights.Do(key, func() (any, error) {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			defer cancel()

			head, err := s.host.HeadRevision(ctx)
			if err != nil {
				s.opt.Logger.Warn("index bootstrap persist failed", slog.String("path", rel), slog.String("error", err.Error()))
				return nil, err
			}
			data, err := render(head)
			if err != nil {
				s.opt.Logger.Warn("index bootstrap render failed", slog.String("path", rel), slog.String("error", err.Error()))
				return nil, err
			}

			b := commit.NewBuilder(message)
			b.Replace(s.contentPath(rel), string(data), false)
			tx := b.Build(s.opt.Owner, s.opt.Repository, s.opt.Branch, head)
			if _, err := s.host.CreateCommit(ctx, tx); err != nil {
				s.opt.Logger.Warn("index bootstrap commit failed", slog.String("path", rel), slog.String("error", err.Error()))
				return nil, err
			}
			s.opt.Logger.Info("index bootstrap persisted", slog.String("path", rel))
			return nil, nil
		})
	}()
}

// isIndexable reports whether a file name is a content document.
func isIndexable(name string) bool {
	for _, ext := range githost.DocumentExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}

// humanize turns a folder or file name into a display title.
func humanize(name string) string {
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	words := strings.Fields(name)
	for i, w := range words {
		r, size := utf8.DecodeRuneInString(w)
		words[i] = string(unicode.ToUpper(r)) + w[size:]
	}
	return strings.Join(words, " ")
}

// collectionFor resolves the owning collection of a file path: the resolved
// descriptor whose path is the file's parent directory, the reserved
// singletons name inside the system folder, and the bare parent folder
// otherwise.
func (s *Service) collectionFor(filePath string, collections []indexdoc.Collection) string {
	parent := path.Dir(filePath)
	if parent == "." {
		parent = ""
	}
	for _, c := range collections {
		if c.Path == parent {
			return c.Slug
		}
	}
	if parent == s.contentPath(s.opt.SingletonsDir) {
		return s.opt.SingletonsDir
	}
	base := path.Base(parent)
	if base == "." || base == "/" || base == "" {
		return ""
	}
	return parser.Slugify(base)
}

func (s *Service) buildEntry(blob *githost.Blob, collections []indexdoc.Collection) indexdoc.Entry {
	res := parser.Parse([]byte(blob.Text))
	extra := make(map[string]any, len(res.Frontmatter))
	for k, v := range res.Frontmatter {
		if indexdoc.ReservedEntryKey(k) {
			continue
		}
		extra[k] = v
	}
	return indexdoc.Entry{
		Slug:       parser.Slug(res.Frontmatter, blob.Path),
		Collection: s.collectionFor(blob.Path, collections),
		Provenance: indexdoc.Provenance{
			Hash:   checksum.Sum(blob.Text),
			Path:   blob.Path,
			Commit: blob.Commit,
		},
		Extra: extra,
	}
}

// fetchMetadata loads the current metadata index, or an empty one when the
// file does not exist yet. A present but unparseable file is fatal.
func (s *Service) fetchMetadata(ctx context.Context) (*indexdoc.Document, error) {
	text, err := s.host.FetchText(ctx, s.contentPath(indexdoc.MetadataPath))
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return &indexdoc.Document{}, nil
		}
		return nil, fmt.Errorf("read metadata index: %w", err)
	}
	return indexdoc.Parse([]byte(text))
}
