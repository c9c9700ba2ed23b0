// Package checksum provides the fast content hash used for index drift
// detection, plus small commit-identifier helpers.
package checksum

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Sum returns a fast, non-cryptographic checksum of raw file text. It detects
// whether an index entry is stale; it carries no integrity guarantee.
func Sum(text string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(text))
}

// Short truncates a commit identifier to its 7-character short form.
func Short(oid string) string {
	if len(oid) > 7 {
		return oid[:7]
	}
	return oid
}

// ShortCommit derives a short commit identifier from a commit-reference URL
// such as "https://host/owner/repo/commit/<oid>". Returns "" if the URL has
// no path segments.
func ShortCommit(commitURL string) string {
	trimmed := strings.TrimRight(commitURL, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 || idx == len(trimmed)-1 {
		return ""
	}
	return Short(trimmed[idx+1:])
}
