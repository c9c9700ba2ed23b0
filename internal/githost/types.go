// Package githost talks to the remote repository-hosting API: tree and blob
// reads, branch head resolution, and atomic multi-file commit writes.
package githost

import (
	"context"

	"github.com/starford/raido/internal/commit"
)

// Allowed content document extensions, in resolution order.
var DocumentExtensions = []string{".md", ".mdoc"}

// Tree is a deeply nested listing rooted at one repository path, together
// with the revision it was read from.
type Tree struct {
	OID     string
	Entries []TreeEntry
}

// TreeEntry is one node of a fetched tree. Entries is populated for trees,
// BlobID for blobs.
type TreeEntry struct {
	Name    string
	Type    string // "tree" or "blob"
	Path    string
	BlobID  string
	Entries []TreeEntry
}

// Blob is a document fetched by logical path: its raw text, the concrete
// path variant that resolved, and the short identifier of the revision it
// was read at.
type Blob struct {
	Text   string
	Path   string
	Commit string
}

// Client is the read/write surface of the repository host.
type Client interface {
	// HeadRevision resolves the configured branch's current head commit id.
	// Fails with apperr.ErrRevisionUnavailable when the branch or repository
	// cannot be resolved or the returned history is empty or malformed.
	HeadRevision(ctx context.Context) (string, error)

	// FetchTree requests the full nested tree under root in one request.
	FetchTree(ctx context.Context, root string) (*Tree, error)

	// FetchText reads one file's raw text at an exact path. Returns
	// apperr.ErrNotFound when the repository object resolves to nothing.
	FetchText(ctx context.Context, path string) (string, error)

	// FetchDocument reads a content document by trying each allowed
	// extension variant of basePath in one request; exactly one resolves.
	FetchDocument(ctx context.Context, basePath string) (*Blob, error)

	// CreateCommit submits tx atomically and returns the new head revision.
	// The host rejects the whole commit with apperr.ErrConflict if the
	// branch has advanced past tx.BaseRevision.
	CreateCommit(ctx context.Context, tx commit.Transaction) (string, error)
}
