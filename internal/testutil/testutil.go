// Package testutil provides an in-memory repository host and environment
// builders shared by tests.
package testutil

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/raido/internal/commit"
	"github.com/starford/raido/internal/githost"
)

// FakeHost is an in-memory stand-in for the remote repository host. It keeps
// a flat path→content file map and a branch head revision, applies commits
// atomically with expectedHeadOid checking, and records every accepted
// transaction for assertions.
type FakeHost struct {
	mu      sync.Mutex
	files   map[string]string
	fileRev map[string]string
	head    string
	serial  int
	commits []RecordedCommit

	// FailPaths lists document paths whose fetch responds with a host error,
	// simulating a per-file transport failure.
	FailPaths map[string]bool

	// FetchDelay stalls each document fetch, widening the window in which
	// concurrent fetches overlap. Set it before issuing requests.
	FetchDelay time.Duration

	fetchMu         sync.Mutex
	inFlightFetches int
	maxInFlight     int

	server *httptest.Server
}

// RecordedCommit is one accepted commit, decoded for assertions.
type RecordedCommit struct {
	Message      string
	ExpectedHead string
	Additions    map[string]string
	Deletions    []string
}

// NewFakeHost creates a host seeded with the given files and head "rev-1".
func NewFakeHost(t *testing.T, files map[string]string) *FakeHost {
	t.Helper()
	f := &FakeHost{
		files:     make(map[string]string, len(files)),
		fileRev:   make(map[string]string, len(files)),
		head:      "rev-1",
		serial:    1,
		FailPaths: make(map[string]bool),
	}
	for p, c := range files {
		f.files[p] = c
		f.fileRev[p] = f.head
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.handle))
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the GraphQL endpoint.
func (f *FakeHost) URL() string { return f.server.URL }

// Client returns a real githost client wired to this host.
func (f *FakeHost) Client() *githost.GraphQL {
	return githost.NewGraphQL(githost.Config{
		Endpoint:   f.URL(),
		Token:      "test-token",
		Owner:      "acme",
		Repository: "site",
		Branch:     "main",
	})
}

// Head returns the current branch head revision.
func (f *FakeHost) Head() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.head
}

// AdvanceHead moves the branch head without going through a commit,
// simulating a concurrent writer.
func (f *FakeHost) AdvanceHead() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serial++
	f.head = fmt.Sprintf("rev-%d", f.serial)
	return f.head
}

// Commits returns the accepted transactions in order.
func (f *FakeHost) Commits() []RecordedCommit {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]RecordedCommit, len(f.commits))
	copy(out, f.commits)
	return out
}

// File returns the current content at path and whether it exists.
func (f *FakeHost) File(path string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.files[path]
	return c, ok
}

// SetFile writes a file directly, bypassing the commit path.
func (f *FakeHost) SetFile(path, content string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[path] = content
	f.fileRev[path] = f.head
}

func (f *FakeHost) beginFetch() {
	f.fetchMu.Lock()
	f.inFlightFetches++
	if f.inFlightFetches > f.maxInFlight {
		f.maxInFlight = f.inFlightFetches
	}
	delay := f.FetchDelay
	f.fetchMu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
}

func (f *FakeHost) endFetch() {
	f.fetchMu.Lock()
	f.inFlightFetches--
	f.fetchMu.Unlock()
}

// MaxInFlightFetches reports the highest number of document fetches the host
// ever served concurrently.
func (f *FakeHost) MaxInFlightFetches() int {
	f.fetchMu.Lock()
	defer f.fetchMu.Unlock()
	return f.maxInFlight
}

type gqlRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables"`
}

func (f *FakeHost) handle(w http.ResponseWriter, r *http.Request) {
	var req gqlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Document fetches are tracked outside the state mutex so overlapping
	// requests register as concurrent.
	if req.Variables["e0"] != nil {
		f.beginFetch()
		defer f.endFetch()
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case req.Variables["input"] != nil:
		f.handleCommit(w, req)
	case strings.Contains(req.Query, "history"):
		writeData(w, map[string]any{
			"repository": map[string]any{
				"ref": map[string]any{
					"target": map[string]any{
						"oid":     f.head,
						"history": map[string]any{"nodes": []any{map[string]any{"oid": f.head}}},
					},
				},
			},
		})
	case req.Variables["expr"] != nil && strings.Contains(req.Query, "on Tree"):
		f.handleTree(w, req)
	case req.Variables["expr"] != nil:
		f.handleText(w, req)
	case req.Variables["e0"] != nil:
		f.handleDocument(w, req)
	default:
		writeErrors(w, "unrecognized query", "INTERNAL")
	}
}

func exprPath(v any) string {
	expr, _ := v.(string)
	if i := strings.Index(expr, ":"); i >= 0 {
		return expr[i+1:]
	}
	return expr
}

func (f *FakeHost) handleText(w http.ResponseWriter, req gqlRequest) {
	path := exprPath(req.Variables["expr"])
	content, ok := f.files[path]
	var object any
	if ok {
		object = map[string]any{"text": content}
	}
	writeData(w, map[string]any{"repository": map[string]any{"object": object}})
}

func (f *FakeHost) handleDocument(w http.ResponseWriter, req gqlRequest) {
	repo := map[string]any{}
	for i := 0; ; i++ {
		v, ok := req.Variables[fmt.Sprintf("e%d", i)]
		if !ok {
			break
		}
		path := exprPath(v)
		if f.FailPaths[path] {
			writeErrors(w, "internal failure on "+path, "INTERNAL")
			return
		}
		alias := fmt.Sprintf("v%d", i)
		if content, ok := f.files[path]; ok {
			repo[alias] = map[string]any{
				"text":      content,
				"commitUrl": "https://fake.host/acme/site/commit/" + f.fileRev[path],
			}
		} else {
			repo[alias] = nil
		}
	}
	writeData(w, map[string]any{"repository": repo})
}

func (f *FakeHost) handleTree(w http.ResponseWriter, req gqlRequest) {
	root := exprPath(req.Variables["expr"])
	entries, found := f.treeEntries(root)
	if !found {
		writeData(w, map[string]any{"repository": map[string]any{
			"ref":    map[string]any{"target": map[string]any{"oid": f.head}},
			"object": nil,
		}})
		return
	}
	writeData(w, map[string]any{"repository": map[string]any{
		"ref":    map[string]any{"target": map[string]any{"oid": f.head}},
		"object": map[string]any{"entries": entries},
	}})
}

// treeEntries builds the nested entry listing under root from the flat map.
func (f *FakeHost) treeEntries(root string) ([]any, bool) {
	prefix := root
	if prefix != "" {
		prefix += "/"
	}
	found := root == ""
	dirs := map[string]bool{}
	blobs := map[string]string{}
	for path, content := range f.files {
		if !strings.HasPrefix(path, prefix) {
			continue
		}
		found = true
		rest := path[len(prefix):]
		if i := strings.Index(rest, "/"); i >= 0 {
			dirs[rest[:i]] = true
		} else {
			blobs[rest] = content
		}
	}
	if !found {
		return nil, false
	}

	names := make([]string, 0, len(dirs)+len(blobs))
	for d := range dirs {
		names = append(names, d)
	}
	for b := range blobs {
		names = append(names, b)
	}
	sort.Strings(names)

	entries := make([]any, 0, len(names))
	for _, name := range names {
		full := prefix + name
		if dirs[name] {
			children, _ := f.treeEntries(full)
			entries = append(entries, map[string]any{
				"name": name, "type": "tree", "path": full,
				"object": map[string]any{"entries": children},
			})
		} else {
			entries = append(entries, map[string]any{
				"name": name, "type": "blob", "path": full,
				"object": map[string]any{"oid": "blob-" + name},
			})
		}
	}
	return entries, true
}

func (f *FakeHost) handleCommit(w http.ResponseWriter, req gqlRequest) {
	raw, _ := json.Marshal(req.Variables["input"])
	var input struct {
		Branch struct {
			RepositoryNameWithOwner string `json:"repositoryNameWithOwner"`
			BranchName              string `json:"branchName"`
		} `json:"branch"`
		Message struct {
			Headline string `json:"headline"`
		} `json:"message"`
		ExpectedHeadOid string `json:"expectedHeadOid"`
		FileChanges     struct {
			Additions []struct {
				Path     string `json:"path"`
				Contents string `json:"contents"`
			} `json:"additions"`
			Deletions []struct {
				Path string `json:"path"`
			} `json:"deletions"`
		} `json:"fileChanges"`
	}
	if err := json.Unmarshal(raw, &input); err != nil {
		writeErrors(w, "bad input: "+err.Error(), "INTERNAL")
		return
	}

	if input.ExpectedHeadOid != f.head {
		writeErrors(w, fmt.Sprintf("Expected head to be %s, but was %s", input.ExpectedHeadOid, f.head), "STALE_DATA")
		return
	}

	rec := RecordedCommit{
		Message:      input.Message.Headline,
		ExpectedHead: input.ExpectedHeadOid,
		Additions:    make(map[string]string),
	}
	for _, a := range input.FileChanges.Additions {
		decoded, err := base64.StdEncoding.DecodeString(a.Contents)
		if err != nil {
			writeErrors(w, "bad base64 for "+a.Path, "INTERNAL")
			return
		}
		rec.Additions[a.Path] = string(decoded)
	}
	for _, d := range input.FileChanges.Deletions {
		rec.Deletions = append(rec.Deletions, d.Path)
	}

	// All checks passed: apply atomically.
	f.serial++
	f.head = fmt.Sprintf("rev-%d", f.serial)
	for p, c := range rec.Additions {
		f.files[p] = c
		f.fileRev[p] = f.head
	}
	for _, p := range rec.Deletions {
		delete(f.files, p)
		delete(f.fileRev, p)
	}
	f.commits = append(f.commits, rec)

	writeData(w, map[string]any{
		"createCommitOnBranch": map[string]any{"commit": map[string]any{"oid": f.head}},
	})
}

func writeData(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func writeErrors(w http.ResponseWriter, msg, typ string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"data":   nil,
		"errors": []any{map[string]any{"message": msg, "type": typ}},
	})
}

// BuildTransaction is a convenience for tests that need a sealed transaction
// against this host's repository coordinates.
func BuildTransaction(b *commit.Builder, base string) commit.Transaction {
	return b.Build("acme", "site", "main", base)
}
