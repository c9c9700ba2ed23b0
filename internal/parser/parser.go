// Package parser extracts YAML front matter from content documents and
// derives slugs for index entries.
package parser

import (
	"bytes"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Result holds the output of parsing a content document.
type Result struct {
	Frontmatter map[string]any
	Body        string
}

// Parse separates YAML front matter (between leading --- delimiters) from the
// document body. If no front matter is found the entire content is body.
func Parse(data []byte) *Result {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return &Result{Body: string(data)}
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		// No closing delimiter, treat everything as body.
		return &Result{Body: string(data)}
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		// Invalid YAML front matter is indexed as a plain body.
		return &Result{Body: string(data)}
	}

	return &Result{Frontmatter: fm, Body: body}
}

// Slug returns the front matter "slug" if present and non-empty, otherwise a
// slug derived from the file name at p (extension stripped, sanitized).
func Slug(fm map[string]any, p string) string {
	if fm != nil {
		if raw, ok := fm["slug"]; ok {
			if s, ok := raw.(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	base := path.Base(p)
	base = strings.TrimSuffix(base, path.Ext(base))
	return Slugify(base)
}

// Slugify converts a name to a URL-safe slug.
func Slugify(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if !dash && b.Len() > 0 {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	return strings.TrimRight(b.String(), "-")
}
