// Package commit provides the atomic multi-file commit transaction builder.
//
// A Builder is pure accumulation: it performs no network calls and holds no
// shared state. Each logical operation creates its own Builder, stages file
// replacements and removals, and seals it with Build against a base revision.
// The remote host is the arbiter that accepts or rejects the whole transaction
// depending on whether that revision is still the branch head.
package commit

// Addition stages the full content of one file at a path.
type Addition struct {
	Path     string
	Contents string
	// Base64 marks Contents as already base64-encoded binary data.
	Base64 bool
}

// Transaction is the immutable payload for one atomic commit.
type Transaction struct {
	Owner        string
	Repository   string
	Branch       string
	BaseRevision string
	Message      string
	Additions    []Addition
	Deletions    []string
}

// Builder accumulates staged additions and deletions for one commit.
type Builder struct {
	message   string
	order     []string
	additions map[string]Addition
	deletions []string
	deleted   map[string]struct{}
}

// NewBuilder creates a Builder with the given headline message.
func NewBuilder(message string) *Builder {
	return &Builder{
		message:   message,
		additions: make(map[string]Addition),
		deleted:   make(map[string]struct{}),
	}
}

// Replace stages the full content of path, overwriting any prior staged
// addition at the same path.
func (b *Builder) Replace(path, contents string, base64 bool) *Builder {
	if _, staged := b.additions[path]; !staged {
		b.order = append(b.order, path)
	}
	b.additions[path] = Addition{Path: path, Contents: contents, Base64: base64}
	return b
}

// Remove stages the deletion of path. Staging the same path twice is a no-op.
func (b *Builder) Remove(path string) *Builder {
	if _, done := b.deleted[path]; done {
		return b
	}
	b.deleted[path] = struct{}{}
	b.deletions = append(b.deletions, path)
	return b
}

// Empty reports whether nothing has been staged.
func (b *Builder) Empty() bool {
	return len(b.additions) == 0 && len(b.deletions) == 0
}

// Build seals the staged changes into an immutable Transaction against the
// given branch and base revision. Additions keep staging order; replacing a
// path keeps its original position.
func (b *Builder) Build(owner, repository, branch, baseRevision string) Transaction {
	adds := make([]Addition, 0, len(b.order))
	for _, p := range b.order {
		adds = append(adds, b.additions[p])
	}
	dels := make([]string, len(b.deletions))
	copy(dels, b.deletions)
	return Transaction{
		Owner:        owner,
		Repository:   repository,
		Branch:       branch,
		BaseRevision: baseRevision,
		Message:      b.message,
		Additions:    adds,
		Deletions:    dels,
	}
}
