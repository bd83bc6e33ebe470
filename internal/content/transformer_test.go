package content

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/webveil/webveil/internal/infrastructure/logging"
	"github.com/webveil/webveil/internal/rewrite"
	"github.com/webveil/webveil/internal/session"
)

func newTestTransformer(store session.Store, opts Options) *Transformer {
	engine := rewrite.NewEngine("http://p", rewrite.NewBlocklist(nil), logging.NewNop())
	return NewTransformer(engine, store, opts, logging.NewNop())
}

func gatewayFor(target string) string {
	return "http://p/gateway?url=" + url.QueryEscape(target)
}

// TestRewriteDispatch tests content-type routing
func TestRewriteDispatch(t *testing.T) {
	tr := newTestTransformer(nil, Options{})
	rc := Context{TargetURL: "https://a.com/page"}

	tests := []struct {
		name        string
		contentType string
		body        string
		want        string
	}{
		{
			name:        "html",
			contentType: "text/html; charset=utf-8",
			body:        `<html><body><a href="/x">x</a></body></html>`,
			want:        gatewayFor("https://a.com/x"),
		},
		{
			name:        "css",
			contentType: "text/css",
			body:        `body{background:url(/bg.png)}`,
			want:        gatewayFor("https://a.com/bg.png"),
		},
		{
			name:        "javascript",
			contentType: "application/javascript",
			body:        `fetch("/api")`,
			want:        gatewayFor("https://a.com/api"),
		},
		{
			name:        "json",
			contentType: "application/json",
			body:        `{"link":"https://a.com/x"}`,
			want:        gatewayFor("https://a.com/x"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tr.Rewrite([]byte(tt.body), tt.contentType, rc)
			assert.Contains(t, string(out), tt.want)
		})
	}

	// Unknown types pass through untouched.
	body := []byte{0x89, 'P', 'N', 'G'}
	assert.Equal(t, body, tr.Rewrite(body, "image/png", rc))
	assert.Equal(t, []byte("plain"), tr.Rewrite([]byte("plain"), "text/plain", rc))
}

// TestRewriteCSS tests url() and @import handling
func TestRewriteCSS(t *testing.T) {
	tr := newTestTransformer(nil, Options{})

	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "unquoted gains single quotes",
			in:   `body{background:url(/bg.png)}`,
			want: `body{background:url('http://p/gateway?url=https%3A%2F%2Fa.com%2Fbg.png')}`,
		},
		{
			name: "double quotes kept",
			in:   `div{background:url("/bg.png")}`,
			want: `div{background:url("` + gatewayFor("https://a.com/bg.png") + `")}`,
		},
		{
			name: "single quotes kept",
			in:   `div{background:url('/bg.png')}`,
			want: `div{background:url('` + gatewayFor("https://a.com/bg.png") + `')}`,
		},
		{
			name: "import",
			in:   `@import "theme.css";`,
			want: `@import "` + gatewayFor("https://a.com/theme.css") + `";`,
		},
		{
			name: "data uri untouched",
			in:   `i{background:url(data:image/png;base64,AAAA)}`,
			want: `i{background:url(data:image/png;base64,AAAA)}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tr.rewriteCSS(tt.in, "https://a.com/page"))
		})
	}
}

// TestRewriteJS tests the textual call-site patterns
func TestRewriteJS(t *testing.T) {
	tr := newTestTransformer(nil, Options{})
	rc := Context{TargetURL: "https://a.com/page"}

	out := string(tr.rewriteJS([]byte(`fetch("/api/items").then(r=>r.json())`), rc))
	assert.Contains(t, out, `fetch("`+gatewayFor("https://a.com/api/items")+`")`)

	out = string(tr.rewriteJS([]byte(`xhr.open('GET', '/api/data');`), rc))
	assert.Contains(t, out, `.open('GET', '`+gatewayFor("https://a.com/api/data")+`')`)

	out = string(tr.rewriteJS([]byte(`var ws = new WebSocket("wss://a.com/live");`), rc))
	assert.Contains(t, out, `new WebSocket("http://p/ws?url=`+url.QueryEscape("wss://a.com/live")+`")`)

	// Dynamically built URLs are accepted false negatives.
	src := `fetch(base + "/api")`
	assert.Equal(t, src, string(tr.rewriteJS([]byte(src), rc)))
}

// TestJSStorageShim tests the localStorage isolation prelude
func TestJSStorageShim(t *testing.T) {
	tr := newTestTransformer(nil, Options{})

	out := string(tr.rewriteJS([]byte(`var x = 1;`), Context{SessionID: "sess-1", TargetURL: "https://a.com/"}))
	assert.True(t, strings.Contains(out, `"sess-1"`), "shim missing session id")
	assert.True(t, strings.HasSuffix(out, "var x = 1;"), "original source must follow the shim")

	// No session, no shim.
	out = string(tr.rewriteJS([]byte(`var x = 1;`), Context{TargetURL: "https://a.com/"}))
	assert.Equal(t, `var x = 1;`, out)
}

// TestRewriteJSON tests value rewriting with order and shape preserved
func TestRewriteJSON(t *testing.T) {
	tr := newTestTransformer(nil, Options{})
	rc := Context{TargetURL: "https://a.com/page"}

	in := `{"link":"https://a.com/x","n":1}`
	want := `{"link":"` + gatewayFor("https://a.com/x") + `","n":1}`
	assert.Equal(t, want, string(tr.rewriteJSON([]byte(in), rc)))

	// Nested containers, mixed scalars, key order.
	in = `{"b":[{"url":"http://a.com/1"},null,true,2.5],"a":"not a url"}`
	out := tr.rewriteJSON([]byte(in), rc)
	assert.Equal(t,
		`{"b":[{"url":"`+gatewayFor("http://a.com/1")+`"},null,true,2.5],"a":"not a url"}`,
		string(out))
	assert.True(t, json.Valid(out))

	// Relative strings and non-URL text stay as they are.
	in = `{"path":"/x","word":"hello"}`
	assert.Equal(t, in, string(tr.rewriteJSON([]byte(in), rc)))
}

// TestRewriteJSONMalformed tests the passthrough guarantees
func TestRewriteJSONMalformed(t *testing.T) {
	tr := newTestTransformer(nil, Options{})
	rc := Context{TargetURL: "https://a.com/page"}

	for _, in := range []string{
		`{"unterminated": `,
		`{"a":1}trailing`,
		`not json`,
	} {
		assert.Equal(t, in, string(tr.rewriteJSON([]byte(in), rc)), "input %q", in)
	}
}

// TestRewriteNeverFails tests the degrade-to-passthrough contract
func TestRewriteNeverFails(t *testing.T) {
	tr := newTestTransformer(nil, Options{})
	rc := Context{TargetURL: "https://a.com/page"}

	inputs := [][]byte{
		nil,
		[]byte("<<<<not html"),
		[]byte("body{unterminated:url("),
		{0x00, 0xff, 0xfe},
	}
	for _, in := range inputs {
		for _, ct := range []string{"text/html", "text/css", "application/json", "application/javascript", "garbage;;;"} {
			assert.NotPanics(t, func() {
				tr.Rewrite(in, ct, rc)
			}, "type %s", ct)
		}
	}
}

// TestRewriteFailureCounter tests that degraded rewrites are counted by
// media type
func TestRewriteFailureCounter(t *testing.T) {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rewrite_failures_total",
	}, []string{"content_type"})

	engine := rewrite.NewEngine("http://p", rewrite.NewBlocklist(nil), logging.NewNop())
	tr := NewTransformer(engine, nil, Options{
		Rules: []Rule{{Callback: func(doc *goquery.Document) {
			panic("rule exploded")
		}}},
		FailureCounter: vec,
	}, logging.NewNop())

	in := []byte(`<html><head></head><body></body></html>`)
	out := tr.Rewrite(in, "text/html; charset=utf-8", Context{TargetURL: "https://a.com/page"})

	assert.Equal(t, in, out)
	assert.Equal(t, float64(1), testutil.ToFloat64(vec.WithLabelValues("text/html")))
}
