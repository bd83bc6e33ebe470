package content

import (
	"regexp"
	"strings"
)

var (
	cssURLRe    = regexp.MustCompile(`url\(\s*(['"]?)([^'")]+)(['"]?)\s*\)`)
	cssImportRe = regexp.MustCompile(`@import\s+(['"])([^'"]+)(['"])`)
)

// rewriteCSS routes every url(...) reference and @import target through
// the engine. Existing quoting is kept; unquoted references gain single
// quotes because the rewritten URL contains query metacharacters.
func (t *Transformer) rewriteCSS(css, target string) string {
	out := cssURLRe.ReplaceAllStringFunc(css, func(m string) string {
		parts := cssURLRe.FindStringSubmatch(m)
		quote := parts[1]
		ref := strings.TrimSpace(parts[2])
		if ref == "" || strings.HasPrefix(ref, "data:") {
			return m
		}
		if quote == "" {
			quote = "'"
		}
		return "url(" + quote + t.engine.RewriteURL(ref, target) + quote + ")"
	})

	out = cssImportRe.ReplaceAllStringFunc(out, func(m string) string {
		parts := cssImportRe.FindStringSubmatch(m)
		return "@import " + parts[1] + t.engine.RewriteURL(parts[2], target) + parts[1]
	})

	return out
}
