package rewrite

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Blocklist decides which hosts bypass the gateway. Entries are either
// plain domains, matched by suffix ("ads.example" blocks "ads.example"
// and "cdn.ads.example"), or glob patterns ("*.tracker.*").
type Blocklist struct {
	suffixes []string
	globs    []string
}

// NewBlocklist builds a blocklist from mixed suffix/glob entries.
func NewBlocklist(entries []string) *Blocklist {
	b := &Blocklist{}
	for _, entry := range entries {
		entry = strings.ToLower(strings.TrimSpace(entry))
		if entry == "" {
			continue
		}
		if strings.ContainsAny(entry, "*?[") {
			b.globs = append(b.globs, entry)
		} else {
			b.suffixes = append(b.suffixes, entry)
		}
	}
	return b
}

// Blocked reports whether host matches any configured entry.
func (b *Blocklist) Blocked(host string) bool {
	host = strings.ToLower(host)
	if host == "" {
		return false
	}
	for _, suffix := range b.suffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	for _, pattern := range b.globs {
		// Domain labels stand in for path segments, so "*.ads.example"
		// matches one label and "**.ads.example" matches any depth.
		hostPath := strings.ReplaceAll(host, ".", "/")
		patternPath := strings.ReplaceAll(pattern, ".", "/")
		if ok, err := doublestar.Match(patternPath, hostPath); err == nil && ok {
			return true
		}
	}
	return false
}

// Size returns the number of configured entries.
func (b *Blocklist) Size() int {
	return len(b.suffixes) + len(b.globs)
}
