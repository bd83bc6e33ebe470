package content

import (
	"regexp"
	"strings"
)

var (
	htmlCommentRe    = regexp.MustCompile(`<!--[^\[][\s\S]*?-->`)
	interTagSpaceRe  = regexp.MustCompile(`>\s+<`)
	blockCommentRe   = regexp.MustCompile(`/\*[\s\S]*?\*/`)
	runOfWhitespace  = regexp.MustCompile(`[ \t]{2,}`)
	scriptOrStyleRe  = regexp.MustCompile(`(?is)(<(script|style)[^>]*>)([\s\S]*?)(</(script|style)>)`)
	blankScriptLines = regexp.MustCompile(`\n{2,}`)
)

// minifyHTML strips comments and collapses whitespace in a serialized
// document, including embedded script and style text. Conditional
// comments (<!--[if ...]) survive.
func minifyHTML(html string) string {
	out := scriptOrStyleRe.ReplaceAllStringFunc(html, func(m string) string {
		parts := scriptOrStyleRe.FindStringSubmatch(m)
		return parts[1] + minifyEmbedded(parts[3]) + parts[4]
	})
	out = htmlCommentRe.ReplaceAllString(out, "")
	out = interTagSpaceRe.ReplaceAllString(out, "><")
	out = runOfWhitespace.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// minifyEmbedded conservatively shrinks script/style bodies: block
// comments go, lines are trimmed, blank runs collapse. Line comments
// stay because // also appears inside URL literals.
func minifyEmbedded(body string) string {
	body = blockCommentRe.ReplaceAllString(body, "")
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	body = strings.Join(lines, "\n")
	body = blankScriptLines.ReplaceAllString(body, "\n")
	return strings.TrimSpace(body)
}
