package content

import (
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webveil/webveil/internal/infrastructure/logging"
	"github.com/webveil/webveil/internal/session"
)

const testPage = `<!DOCTYPE html>
<html>
<head>
<base href="https://other.example/">
<meta http-equiv="refresh" content="5; url=/next">
<meta property="og:url" content="https://a.com/page">
<style>.hero{background:url(/hero.jpg)}</style>
</head>
<body>
<a href="/link">link</a>
<img src="/img.png" srcset="/a.png 1x, /b.png 2x">
<video poster="/poster.jpg"></video>
<form method="post"><input name="q"></form>
<form action="/search"><input name="q"></form>
<div style="background:url(/tile.png)">styled</div>
<div data-endpoint="/api/feed">lazy</div>
<script>fetch("/boot")</script>
<button onclick="go()">go</button>
</body>
</html>`

func rewritePage(t *testing.T, tr *Transformer, rc Context) string {
	t.Helper()
	out := tr.Rewrite([]byte(testPage), "text/html", rc)
	require.NotEmpty(t, out)
	return string(out)
}

// TestHTMLAttributes tests the built-in URL attribute walk
func TestHTMLAttributes(t *testing.T) {
	tr := newTestTransformer(nil, Options{})
	out := rewritePage(t, tr, Context{TargetURL: "https://a.com/page"})

	assert.Contains(t, out, `href="`+gatewayFor("https://a.com/link")+`"`)
	assert.Contains(t, out, `src="`+gatewayFor("https://a.com/img.png")+`"`)
	assert.Contains(t, out, `poster="`+gatewayFor("https://a.com/poster.jpg")+`"`)
	// srcset keeps its density descriptors.
	assert.Contains(t, out,
		gatewayFor("https://a.com/a.png")+` 1x, `+gatewayFor("https://a.com/b.png")+` 2x`)
	// data-* values that look like URLs are routed too.
	assert.Contains(t, out, `data-endpoint="`+gatewayFor("https://a.com/api/feed")+`"`)
}

// TestHTMLBaseRemoved tests that base elements never survive
func TestHTMLBaseRemoved(t *testing.T) {
	tr := newTestTransformer(nil, Options{})
	out := rewritePage(t, tr, Context{TargetURL: "https://a.com/page"})

	assert.NotContains(t, out, "<base")
	assert.NotContains(t, out, "other.example")
}

// TestHTMLInlineStyles tests style elements and style attributes
func TestHTMLInlineStyles(t *testing.T) {
	tr := newTestTransformer(nil, Options{})
	out := rewritePage(t, tr, Context{TargetURL: "https://a.com/page"})

	assert.Contains(t, out, `url('`+gatewayFor("https://a.com/hero.jpg")+`')`)
	// Style elements render as raw text, so no entity escaping may leak
	// into the CSS.
	assert.NotContains(t, out, `url(&#39;`+gatewayFor("https://a.com/hero.jpg"))
	// Attribute values come back with the serializer's quote escaping.
	assert.Contains(t, out, `url(&#39;`+gatewayFor("https://a.com/tile.png")+`&#39;)`)
}

// TestHTMLForms tests explicit and defaulted form actions
func TestHTMLForms(t *testing.T) {
	tr := newTestTransformer(nil, Options{})
	out := rewritePage(t, tr, Context{TargetURL: "https://a.com/page"})

	assert.Contains(t, out, `action="`+gatewayFor("https://a.com/search")+`"`)
	// The actionless form posts back to the target page, proxied.
	assert.Contains(t, out, `action="`+gatewayFor("https://a.com/page")+`"`)
}

// TestHTMLMetaContent tests refresh directives and URL-valued metas
func TestHTMLMetaContent(t *testing.T) {
	tr := newTestTransformer(nil, Options{})
	out := rewritePage(t, tr, Context{TargetURL: "https://a.com/page"})

	assert.Contains(t, out, `content="5; url=`+gatewayFor("https://a.com/next")+`"`)
	assert.Contains(t, out, `content="`+gatewayFor("https://a.com/page")+`"`)
}

// TestHTMLInjection tests the injected head scripts
func TestHTMLInjection(t *testing.T) {
	tr := newTestTransformer(nil, Options{InjectScripts: []string{`console.log("operator");`}})
	out := rewritePage(t, tr, Context{SessionID: "sess-1", TargetURL: "https://a.com/page"})

	assert.Contains(t, out, "window.__WEBVEIL__")
	assert.Contains(t, out, `"sess-1"`)
	assert.Contains(t, out, `console.log("operator");`)
	// WebSockets default on, so the constructor shim rides along.
	assert.Contains(t, out, "window.WebSocket=Proxied")
}

// TestHTMLScriptStripping tests script-disabled sessions
func TestHTMLScriptStripping(t *testing.T) {
	store := session.NewMemoryStore(session.DefaultConfig(), logging.NewNop())
	defer store.Close()
	settings := session.DefaultSettings()
	settings.EnableJavaScript = false
	settings.EnableWebSockets = false
	sess := store.Create(session.CreateOptions{Settings: &settings})

	tr := newTestTransformer(store, Options{})
	out := rewritePage(t, tr, Context{SessionID: sess.ID, TargetURL: "https://a.com/page"})

	assert.NotContains(t, out, `fetch("/boot")`)
	assert.NotContains(t, out, "onclick")
	assert.NotContains(t, out, "window.WebSocket=Proxied")
	// Non-script content is intact.
	assert.Contains(t, out, ">styled<")
}

// TestHTMLStripsAdjacentHandlers tests that consecutive on* attributes
// on one element are all removed
func TestHTMLStripsAdjacentHandlers(t *testing.T) {
	store := session.NewMemoryStore(session.DefaultConfig(), logging.NewNop())
	defer store.Close()
	settings := session.DefaultSettings()
	settings.EnableJavaScript = false
	sess := store.Create(session.CreateOptions{Settings: &settings})

	page := `<html><head></head><body>` +
		`<div onclick="a()" onmouseover="b()" onerror="c()" data-kind="card">x</div>` +
		`</body></html>`

	tr := newTestTransformer(store, Options{})
	out := string(tr.Rewrite([]byte(page), "text/html", Context{
		SessionID: sess.ID,
		TargetURL: "https://a.com/page",
	}))

	assert.NotContains(t, out, "onclick")
	assert.NotContains(t, out, "onmouseover")
	assert.NotContains(t, out, "onerror")
	assert.Contains(t, out, `data-kind="card"`)
}

// TestHTMLRules tests operator rules of all three kinds
func TestHTMLRules(t *testing.T) {
	page := `<html><head></head><body>` +
		`<a href="/x" ping="/track">x</a>` +
		`<img src="/i.png" longdesc="/desc.html">` +
		`<aside id="promo">ad</aside>` +
		`</body></html>`

	tr := newTestTransformer(nil, Options{Rules: []Rule{
		{XPath: `//a`, Attribute: "ping"},
		{Selector: "img", Attribute: "longdesc"},
		{Callback: func(doc *goquery.Document) {
			doc.Find("#promo").Remove()
		}},
	}})

	out := string(tr.Rewrite([]byte(page), "text/html", Context{TargetURL: "https://a.com/page"}))
	assert.Contains(t, out, `ping="`+gatewayFor("https://a.com/track")+`"`)
	assert.Contains(t, out, `longdesc="`+gatewayFor("https://a.com/desc.html")+`"`)
	assert.NotContains(t, out, "promo")
}

// TestHTMLMalformedPassthrough tests parser-tolerant output
func TestHTMLMalformedPassthrough(t *testing.T) {
	tr := newTestTransformer(nil, Options{})

	// The html5 parser normalizes rather than fails; the result must
	// still carry the rewritten reference.
	out := string(tr.Rewrite([]byte(`<a href="/x">unclosed`), "text/html", Context{TargetURL: "https://a.com/page"}))
	assert.Contains(t, out, gatewayFor("https://a.com/x"))
}

// TestMinifyHTML tests comment stripping and whitespace collapse
func TestMinifyHTML(t *testing.T) {
	in := `<html> <head>
	<!-- a comment -->
	<!--[if IE]><p>old</p><![endif]-->
	<style>
	/* block */
	.a { color: red; }
	</style>
	</head> <body>
	<p>keep  this</p>
	</body> </html>`

	out := minifyHTML(in)
	assert.NotContains(t, out, "a comment")
	assert.Contains(t, out, "<!--[if IE]>")
	assert.NotContains(t, out, "/* block */")
	assert.NotContains(t, out, "> <")
	assert.Contains(t, out, ".a { color: red; }")
	assert.Contains(t, out, "keep this")
}

// TestMinifiedRewrite tests the minify option end to end
func TestMinifiedRewrite(t *testing.T) {
	tr := newTestTransformer(nil, Options{Minify: true})
	out := rewritePage(t, tr, Context{TargetURL: "https://a.com/page"})

	assert.NotContains(t, out, "\n\n")
	assert.False(t, strings.Contains(out, ">\n<"), "inter-tag whitespace survived")
	assert.Contains(t, out, gatewayFor("https://a.com/link"))
}
