package index

import (
	"context"
	"log/slog"
	"path"
	"regexp"
	"strings"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/checksum"
	"github.com/starford/raido/internal/commit"
	"github.com/starford/raido/internal/githost"
	"github.com/starford/raido/internal/indexdoc"
)

// Document extensions match exactly: the variant fetch addresses blobs by
// appending these lowercase suffixes, so an uppercase-suffixed document
// could not be retrieved. Media files are never fetched by variant, so
// their extensions match case-insensitively.
var (
	indexablePattern = regexp.MustCompile(`\.(md|mdoc)$`)
	mediaPattern     = regexp.MustCompile(`\.(png|jpe?g|gif|svg|webp|avif|pdf)$`)
)

// fileDescriptor identifies one indexable blob discovered during the walk.
type fileDescriptor struct {
	path           string
	blobID         string
	originRevision string
}

// Rebuilder runs the full metadata index rebuild. A Rebuilder is safe to
// poll from other goroutines while Rebuild runs; Rebuild itself is not
// reentrant.
type Rebuilder struct {
	svc      *Service
	state    atomic.Int32
	progress Progress
}

// NewRebuilder creates a Rebuilder over the service.
func NewRebuilder(svc *Service) *Rebuilder {
	return &Rebuilder{svc: svc}
}

// State returns the pipeline's current phase.
func (r *Rebuilder) State() State {
	return State(r.state.Load())
}

// Progress returns the processed/total counters.
func (r *Rebuilder) Progress() (processed, total int64) {
	return r.progress.Snapshot()
}

func (r *Rebuilder) setState(s State) {
	r.state.Store(int32(s))
}

func (r *Rebuilder) fail(err error) error {
	r.setState(StateFailed)
	r.progress.reset()
	return err
}

// Rebuild regenerates the metadata index: it walks the content tree, fetches
// every indexable document in bounded-concurrency batches, assembles fresh
// entries over the existing index, and submits one commit replacing the
// index file. onComplete, if non-nil, runs only on success.
func (r *Rebuilder) Rebuild(ctx context.Context, onComplete func()) error {
	s := r.svc
	r.progress.reset()

	r.setState(StateFetchingTree)
	tree, err := s.host.FetchTree(ctx, s.opt.ContentRoot)
	if err != nil {
		return r.fail(err)
	}

	r.setState(StateWalking)
	files, mediaFiles := walkTree(tree)
	r.progress.setTotal(int64(len(files)))

	collections, err := s.loadCollections(ctx, false)
	if err != nil {
		return r.fail(err)
	}
	doc, err := s.fetchMetadata(ctx)
	if err != nil {
		return r.fail(err)
	}

	r.setState(StateFetchingFiles)
	fetched := r.fetchFiles(ctx, files)

	r.setState(StateAssembling)
	for _, blob := range fetched {
		doc.Upsert(s.buildEntry(blob, collections))
	}
	doc.Commit = checksum.Short(tree.OID)
	doc.Generated = s.opt.Clock()
	metaText, err := indexdoc.Marshal(doc)
	if err != nil {
		return r.fail(err)
	}

	r.setState(StateCommitting)
	b := commit.NewBuilder("Rebuild metadata index")
	b.Replace(s.contentPath(indexdoc.MetadataPath), string(metaText), false)
	if len(mediaFiles) > 0 {
		mediaText, err := r.renderMediaIndex(tree, mediaFiles)
		if err != nil {
			return r.fail(err)
		}
		b.Replace(s.contentPath(indexdoc.MediaPath), string(mediaText), false)
	}

	// The base revision is read as late as possible to shrink the window in
	// which a concurrent writer can invalidate it.
	head, err := s.host.HeadRevision(ctx)
	if err != nil {
		return r.fail(err)
	}
	tx := b.Build(s.opt.Owner, s.opt.Repository, s.opt.Branch, head)
	if _, err := s.host.CreateCommit(ctx, tx); err != nil {
		return r.fail(err)
	}

	r.setState(StateDone)
	if onComplete != nil {
		onComplete()
	}
	return nil
}

// walkTree traverses the nested tree with an explicit worklist, collecting
// indexable documents and media assets. Recursion depth is bounded by the
// worklist, not the call stack.
func walkTree(tree *githost.Tree) (files, media []fileDescriptor) {
	work := make([]githost.TreeEntry, len(tree.Entries))
	copy(work, tree.Entries)
	for len(work) > 0 {
		e := work[len(work)-1]
		work = work[:len(work)-1]
		if e.Type == "tree" {
			work = append(work, e.Entries...)
			continue
		}
		fd := fileDescriptor{path: e.Path, blobID: e.BlobID, originRevision: tree.OID}
		switch {
		case indexablePattern.MatchString(e.Name):
			files = append(files, fd)
		case mediaPattern.MatchString(strings.ToLower(e.Name)):
			media = append(media, fd)
		}
	}
	return files, media
}

// fetchFiles retrieves document contents batch by batch. Batches run
// strictly in sequence to bound in-flight requests; within a batch all
// fetches fan out concurrently and every one settles. A failed fetch is
// logged, counted as processed, and omitted from the result; it never aborts
// its siblings or the pipeline.
func (r *Rebuilder) fetchFiles(ctx context.Context, files []fileDescriptor) []*githost.Blob {
	s := r.svc
	var out []*githost.Blob
	for _, batch := range chunk(files, s.opt.BatchSize) {
		results := make([]*githost.Blob, len(batch))
		g := new(errgroup.Group)
		for i, fd := range batch {
			i, fd := i, fd
			g.Go(func() error {
				base := indexablePattern.ReplaceAllString(fd.path, "")
				blob, err := s.host.FetchDocument(ctx, base)
				if err != nil {
					ferr := &apperr.Fetch{Path: fd.path, Err: err}
					s.opt.Logger.Warn("rebuild: file fetch failed", slog.String("path", fd.path), slog.String("error", ferr.Error()))
				} else {
					results[i] = blob
				}
				r.progress.mark()
				return nil
			})
		}
		_ = g.Wait()
		for _, blob := range results {
			if blob != nil {
				out = append(out, blob)
			}
		}
	}
	return out
}

func (r *Rebuilder) renderMediaIndex(tree *githost.Tree, media []fileDescriptor) ([]byte, error) {
	s := r.svc
	entries := make([]indexdoc.Media, 0, len(media))
	for _, fd := range media {
		name := path.Base(fd.path)
		entries = append(entries, indexdoc.Media{
			Provenance: indexdoc.Provenance{
				// Binary assets are not fetched; their blob id stands in
				// for a content hash.
				Hash:   checksum.Sum(fd.blobID),
				Path:   fd.path,
				Commit: checksum.Short(fd.originRevision),
			},
			Filename: name,
			Type:     strings.TrimPrefix(strings.ToLower(path.Ext(name)), "."),
		})
	}
	l := &indexdoc.List[indexdoc.Media]{
		Commit:    checksum.Short(tree.OID),
		Generated: s.opt.Clock(),
		Entries:   entries,
	}
	return indexdoc.MarshalList(l, func(a, b indexdoc.Media) bool { return a.Provenance.Path < b.Provenance.Path })
}

// chunk partitions items into fixed-size batches; the last batch may be
// shorter.
func chunk[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = 1
	}
	var out [][]T
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[start:end])
	}
	return out
}
