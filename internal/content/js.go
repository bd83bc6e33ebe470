package content

import (
	"regexp"
)

// Call-site patterns rewritten in JavaScript bodies. This is a textual
// pass, not a syntax tree: dynamically constructed URLs are accepted
// false negatives.
var (
	jsFetchRe = regexp.MustCompile(`\bfetch\(\s*(['"])([^'"]+)(['"])`)
	jsOpenRe  = regexp.MustCompile(`\.open\(\s*(['"])([A-Za-z]+)(['"])\s*,\s*(['"])([^'"]+)(['"])`)
	jsWSRe    = regexp.MustCompile(`new\s+WebSocket\(\s*(['"])([^'"]+)(['"])`)
)

func (t *Transformer) rewriteJS(content []byte, rc Context) []byte {
	js := string(content)

	js = jsFetchRe.ReplaceAllStringFunc(js, func(m string) string {
		p := jsFetchRe.FindStringSubmatch(m)
		return "fetch(" + p[1] + t.engine.RewriteURL(p[2], rc.TargetURL) + p[3]
	})

	js = jsOpenRe.ReplaceAllStringFunc(js, func(m string) string {
		p := jsOpenRe.FindStringSubmatch(m)
		return ".open(" + p[1] + p[2] + p[3] + ", " + p[4] + t.engine.RewriteURL(p[5], rc.TargetURL) + p[6]
	})

	js = jsWSRe.ReplaceAllStringFunc(js, func(m string) string {
		p := jsWSRe.FindStringSubmatch(m)
		return "new WebSocket(" + p[1] + t.engine.RewriteWebSocketURL(p[2]) + p[3]
	})

	if rc.SessionID != "" {
		js = storageIsolationShim(rc.SessionID) + "\n" + js
	}
	return []byte(js)
}
