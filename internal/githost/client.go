package githost

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/starford/raido/internal/apperr"
	"github.com/starford/raido/internal/checksum"
	"github.com/starford/raido/internal/commit"
)

// treeQueryDepth bounds the nesting of the single tree request. Content
// trees deeper than this fail the fetch rather than silently truncating.
const treeQueryDepth = 12

// Config identifies the repository and how to reach its host.
type Config struct {
	Endpoint   string
	Token      string
	Owner      string
	Repository string
	Branch     string
}

// GraphQL is the production Client, speaking the host's GraphQL API.
type GraphQL struct {
	cfg  Config
	http *http.Client
}

var _ Client = (*GraphQL)(nil)

// NewGraphQL creates a client for the configured repository.
func NewGraphQL(cfg Config) *GraphQL {
	return &GraphQL{
		cfg:  cfg,
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type envelope struct {
	Data   json.RawMessage `json:"data"`
	Errors []apiError      `json:"errors"`
}

// do posts one GraphQL request and decodes its data into out, mapping the
// host's error list onto the apperr taxonomy.
func (c *GraphQL) do(ctx context.Context, op, query string, variables map[string]any, out any) error {
	payload, err := json.Marshal(map[string]any{"query": query, "variables": variables})
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	resp, err := c.http.Do(req)
	if err != nil {
		return &apperr.Transport{Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<22))
	if err != nil {
		return &apperr.Transport{Op: op, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return &apperr.Transport{
			Op:     op,
			Detail: fmt.Sprintf("status %d: %s", resp.StatusCode, truncate(body, 200)),
			Err:    fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return &apperr.Transport{Op: op, Detail: truncate(body, 200), Err: err}
	}
	if len(env.Errors) > 0 {
		return mapAPIErrors(op, env.Errors)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &apperr.Transport{Op: op, Detail: truncate(env.Data, 200), Err: err}
		}
	}
	return nil
}

func mapAPIErrors(op string, errs []apiError) error {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Message
		lower := strings.ToLower(e.Message)
		if strings.Contains(lower, "expected head") || e.Type == "STALE_DATA" {
			return fmt.Errorf("%s: %s: %w", op, e.Message, apperr.ErrConflict)
		}
		if e.Type == "NOT_FOUND" {
			return fmt.Errorf("%s: %s: %w", op, e.Message, apperr.ErrNotFound)
		}
	}
	return &apperr.Transport{Op: op, Detail: strings.Join(msgs, "; "), Err: fmt.Errorf("host returned %d errors", len(errs))}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

// HeadRevision implements Client.
func (c *GraphQL) HeadRevision(ctx context.Context) (string, error) {
	const query = `query($owner:String!,$name:String!,$branch:String!){
  repository(owner:$owner,name:$name){
    ref(qualifiedName:$branch){
      target{
        ... on Commit { oid history(first:1){ nodes { oid } } }
      }
    }
  }
}`
	var out struct {
		Repository *struct {
			Ref *struct {
				Target *struct {
					OID     string `json:"oid"`
					History struct {
						Nodes []struct {
							OID string `json:"oid"`
						} `json:"nodes"`
					} `json:"history"`
				} `json:"target"`
			} `json:"ref"`
		} `json:"repository"`
	}
	err := c.do(ctx, "resolve head revision", query, c.repoVars(map[string]any{"branch": c.cfg.Branch}), &out)
	if err != nil {
		return "", err
	}
	if out.Repository == nil || out.Repository.Ref == nil || out.Repository.Ref.Target == nil {
		return "", fmt.Errorf("branch %q: %w", c.cfg.Branch, apperr.ErrRevisionUnavailable)
	}
	target := out.Repository.Ref.Target
	// An empty or unparseable history is a hard failure; never proceed with
	// a stale or empty revision.
	if target.OID == "" || len(target.History.Nodes) == 0 || target.History.Nodes[0].OID == "" {
		return "", fmt.Errorf("branch %q: malformed history: %w", c.cfg.Branch, apperr.ErrRevisionUnavailable)
	}
	return target.OID, nil
}

type rawObject struct {
	OID     string         `json:"oid"`
	Text    *string        `json:"text"`
	Entries []rawTreeEntry `json:"entries"`
}

type rawTreeEntry struct {
	Name   string     `json:"name"`
	Type   string     `json:"type"`
	Path   string     `json:"path"`
	Object *rawObject `json:"object"`
}

// FetchTree implements Client. The whole tree arrives in one request, nested
// to treeQueryDepth levels.
func (c *GraphQL) FetchTree(ctx context.Context, root string) (*Tree, error) {
	query := fmt.Sprintf(`query($owner:String!,$name:String!,$branch:String!,$expr:String!){
  repository(owner:$owner,name:$name){
    ref(qualifiedName:$branch){ target { ... on Commit { oid } } }
    object(expression:$expr){ ... on Tree { %s } }
  }
}`, nestedTreeSelection(treeQueryDepth))

	vars := c.repoVars(map[string]any{
		"branch": c.cfg.Branch,
		"expr":   c.expression(root),
	})
	var out struct {
		Repository *struct {
			Ref *struct {
				Target *struct {
					OID string `json:"oid"`
				} `json:"target"`
			} `json:"ref"`
			Object *rawObject `json:"object"`
		} `json:"repository"`
	}
	if err := c.do(ctx, "fetch tree", query, vars, &out); err != nil {
		return nil, err
	}
	if out.Repository == nil || out.Repository.Object == nil {
		return nil, fmt.Errorf("tree %q: %w", root, apperr.ErrNotFound)
	}
	tree := &Tree{Entries: convertEntries(out.Repository.Object.Entries)}
	if ref := out.Repository.Ref; ref != nil && ref.Target != nil {
		tree.OID = ref.Target.OID
	}
	return tree, nil
}

// nestedTreeSelection builds the fixed-depth entries selection. Blobs carry
// their object id at every level.
func nestedTreeSelection(depth int) string {
	inner := "entries { name type path object { ... on Blob { oid } } }"
	for i := 1; i < depth; i++ {
		inner = fmt.Sprintf("entries { name type path object { ... on Blob { oid } ... on Tree { %s } } }", inner)
	}
	return inner
}

func convertEntries(raw []rawTreeEntry) []TreeEntry {
	out := make([]TreeEntry, 0, len(raw))
	for _, r := range raw {
		e := TreeEntry{Name: r.Name, Type: r.Type, Path: r.Path}
		if r.Object != nil {
			e.BlobID = r.Object.OID
			e.Entries = convertEntries(r.Object.Entries)
		}
		out = append(out, e)
	}
	return out
}

// FetchText implements Client.
func (c *GraphQL) FetchText(ctx context.Context, path string) (string, error) {
	const query = `query($owner:String!,$name:String!,$expr:String!){
  repository(owner:$owner,name:$name){
    object(expression:$expr){ ... on Blob { text } }
  }
}`
	var out struct {
		Repository *struct {
			Object *rawObject `json:"object"`
		} `json:"repository"`
	}
	vars := c.repoVars(map[string]any{"expr": c.expression(path)})
	if err := c.do(ctx, "fetch text", query, vars, &out); err != nil {
		return "", err
	}
	if out.Repository == nil || out.Repository.Object == nil || out.Repository.Object.Text == nil {
		return "", fmt.Errorf("%s: %w", path, apperr.ErrNotFound)
	}
	return *out.Repository.Object.Text, nil
}

// FetchDocument implements Client. All extension variants go out in one
// aliased request; exactly one is expected to resolve.
func (c *GraphQL) FetchDocument(ctx context.Context, basePath string) (*Blob, error) {
	var sel strings.Builder
	vars := c.repoVars(nil)
	varDecls := []string{"$owner:String!", "$name:String!"}
	for i, ext := range DocumentExtensions {
		alias := fmt.Sprintf("v%d", i)
		varName := fmt.Sprintf("e%d", i)
		varDecls = append(varDecls, fmt.Sprintf("$%s:String!", varName))
		vars[varName] = c.expression(basePath + ext)
		fmt.Fprintf(&sel, "    %s: object(expression:$%s){ ... on Blob { text commitUrl } }\n", alias, varName)
	}
	query := fmt.Sprintf(`query(%s){
  repository(owner:$owner,name:$name){
%s  }
}`, strings.Join(varDecls, ","), sel.String())

	var out struct {
		Repository map[string]*struct {
			Text      *string `json:"text"`
			CommitURL string  `json:"commitUrl"`
		} `json:"repository"`
	}
	if err := c.do(ctx, "fetch document", query, vars, &out); err != nil {
		return nil, err
	}
	for i, ext := range DocumentExtensions {
		obj := out.Repository[fmt.Sprintf("v%d", i)]
		if obj == nil || obj.Text == nil {
			continue
		}
		return &Blob{
			Text:   *obj.Text,
			Path:   basePath + ext,
			Commit: checksum.ShortCommit(obj.CommitURL),
		}, nil
	}
	return nil, fmt.Errorf("%s: %w", basePath, apperr.ErrNotFound)
}

// CreateCommit implements Client. Additions are sent base64-encoded; the
// host applies the whole change set atomically or not at all.
func (c *GraphQL) CreateCommit(ctx context.Context, tx commit.Transaction) (string, error) {
	const query = `mutation($input:CreateCommitOnBranchInput!){
  createCommitOnBranch(input:$input){ commit { oid } }
}`
	additions := make([]map[string]string, 0, len(tx.Additions))
	for _, a := range tx.Additions {
		contents := a.Contents
		if !a.Base64 {
			contents = base64.StdEncoding.EncodeToString([]byte(a.Contents))
		}
		additions = append(additions, map[string]string{"path": a.Path, "contents": contents})
	}
	deletions := make([]map[string]string, 0, len(tx.Deletions))
	for _, p := range tx.Deletions {
		deletions = append(deletions, map[string]string{"path": p})
	}
	input := map[string]any{
		"branch": map[string]string{
			"repositoryNameWithOwner": tx.Owner + "/" + tx.Repository,
			"branchName":              tx.Branch,
		},
		"message":         map[string]string{"headline": tx.Message},
		"expectedHeadOid": tx.BaseRevision,
		"fileChanges": map[string]any{
			"additions": additions,
			"deletions": deletions,
		},
	}
	var out struct {
		CreateCommitOnBranch *struct {
			Commit *struct {
				OID string `json:"oid"`
			} `json:"commit"`
		} `json:"createCommitOnBranch"`
	}
	if err := c.do(ctx, "create commit", query, map[string]any{"input": input}, &out); err != nil {
		return "", err
	}
	if out.CreateCommitOnBranch == nil || out.CreateCommitOnBranch.Commit == nil {
		return "", &apperr.Transport{Op: "create commit", Err: fmt.Errorf("missing commit in response")}
	}
	return out.CreateCommitOnBranch.Commit.OID, nil
}

func (c *GraphQL) repoVars(extra map[string]any) map[string]any {
	vars := map[string]any{"owner": c.cfg.Owner, "name": c.cfg.Repository}
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

// expression forms a "branch:path" revision expression. An empty path (the
// content root itself) is still a valid expression.
func (c *GraphQL) expression(path string) string {
	return c.cfg.Branch + ":" + path
}
