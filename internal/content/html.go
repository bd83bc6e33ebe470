package content

import (
	"bytes"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/webveil/webveil/internal/session"
)

// urlAttrs is the fixed set of attributes treated as URL-bearing on any
// element. data-* attributes are handled dynamically by looksLikeURL.
var urlAttrs = map[string]bool{
	"href":       true,
	"src":        true,
	"action":     true,
	"poster":     true,
	"formaction": true,
}

func (t *Transformer) rewriteHTML(content []byte, rc Context) []byte {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(content))
	if err != nil {
		t.logger.Warn("html parse failed, passing through", zap.Error(err))
		return content
	}

	settings := t.settingsFor(rc)

	// A surviving <base> would resolve relative URLs against the origin
	// and bypass the gateway entirely.
	doc.Find("base").Remove()

	if !settings.EnableJavaScript {
		t.stripScripts(doc)
	}

	t.walkAttributes(doc, rc)
	t.rewriteInlineStyles(doc, rc)
	t.defaultFormActions(doc, rc)
	t.rewriteMetaContent(doc, rc)
	t.applyRules(doc, rc)
	t.injectHead(doc, rc, settings)

	out, err := doc.Html()
	if err != nil {
		t.logger.Warn("html serialize failed, passing through", zap.Error(err))
		return content
	}
	if !settings.EnableJavaScript && t.opts.SanitizeNoScript {
		out = t.sanitizer.Sanitize(out)
	}
	if t.opts.Minify {
		out = minifyHTML(out)
	}
	return []byte(out)
}

// walkAttributes rewrites every URL-bearing attribute on every element.
func (t *Transformer) walkAttributes(doc *goquery.Document, rc Context) {
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		if len(s.Nodes) == 0 {
			return
		}
		for _, attr := range s.Nodes[0].Attr {
			switch {
			case urlAttrs[attr.Key]:
				s.SetAttr(attr.Key, t.engine.RewriteURL(attr.Val, rc.TargetURL))
			case attr.Key == "srcset":
				s.SetAttr(attr.Key, t.rewriteSrcset(attr.Val, rc.TargetURL))
			case strings.HasPrefix(attr.Key, "data-") && looksLikeURL(attr.Val):
				s.SetAttr(attr.Key, t.engine.RewriteURL(attr.Val, rc.TargetURL))
			}
		}
	})
}

// rewriteSrcset rewrites each candidate URL of a srcset list, keeping
// the width/density descriptors intact.
func (t *Transformer) rewriteSrcset(val, target string) string {
	entries := strings.Split(val, ",")
	for i, entry := range entries {
		fields := strings.Fields(strings.TrimSpace(entry))
		if len(fields) == 0 {
			continue
		}
		fields[0] = t.engine.RewriteURL(fields[0], target)
		entries[i] = strings.Join(fields, " ")
	}
	return strings.Join(entries, ", ")
}

func (t *Transformer) rewriteInlineStyles(doc *goquery.Document, rc Context) {
	doc.Find("style").Each(func(_ int, s *goquery.Selection) {
		if len(s.Nodes) == 0 {
			return
		}
		// Style content is raw text: entities are neither decoded on
		// parse nor escaped on render, so the text nodes are edited in
		// place. SetText would bake literal &#39; into the CSS.
		for c := s.Nodes[0].FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.TextNode {
				c.Data = t.rewriteCSS(c.Data, rc.TargetURL)
			}
		}
	})
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		if style, ok := s.Attr("style"); ok && strings.Contains(style, "url(") {
			s.SetAttr("style", t.rewriteCSS(style, rc.TargetURL))
		}
	})
}

// defaultFormActions points actionless forms back at the target page,
// matching what a browser would do on the real origin.
func (t *Transformer) defaultFormActions(doc *goquery.Document, rc Context) {
	doc.Find("form").Each(func(_ int, s *goquery.Selection) {
		if action, ok := s.Attr("action"); !ok || strings.TrimSpace(action) == "" {
			s.SetAttr("action", t.engine.RewriteURL(rc.TargetURL, rc.TargetURL))
		}
	})
}

// rewriteMetaContent handles URL-valued <meta content>, including the
// "N;url=..." refresh form.
func (t *Transformer) rewriteMetaContent(doc *goquery.Document, rc Context) {
	doc.Find("meta[content]").Each(func(_ int, s *goquery.Selection) {
		val, _ := s.Attr("content")
		if idx := refreshURLIndex(val); idx >= 0 {
			s.SetAttr("content", val[:idx]+t.engine.RewriteURL(val[idx:], rc.TargetURL))
			return
		}
		if looksLikeURL(val) {
			s.SetAttr("content", t.engine.RewriteURL(val, rc.TargetURL))
		}
	})
}

// refreshURLIndex returns the offset of the URL inside a refresh
// directive like "5; url=https://x", or -1.
func refreshURLIndex(val string) int {
	lower := strings.ToLower(val)
	idx := strings.Index(lower, "url=")
	if idx < 0 || !strings.Contains(lower[:idx], ";") {
		return -1
	}
	return idx + len("url=")
}

func (t *Transformer) applyRules(doc *goquery.Document, rc Context) {
	for _, rule := range t.opts.Rules {
		switch {
		case rule.Callback != nil:
			rule.Callback(doc)
		case rule.Selector != "" && rule.Attribute != "":
			doc.Find(rule.Selector).Each(func(_ int, s *goquery.Selection) {
				if val, ok := s.Attr(rule.Attribute); ok {
					s.SetAttr(rule.Attribute, t.engine.RewriteURL(val, rc.TargetURL))
				}
			})
		case rule.XPath != "" && rule.Attribute != "":
			t.applyXPathRule(doc, rule, rc)
		}
	}
}

func (t *Transformer) applyXPathRule(doc *goquery.Document, rule Rule, rc Context) {
	if len(doc.Nodes) == 0 {
		return
	}
	nodes, err := htmlquery.QueryAll(doc.Nodes[0], rule.XPath)
	if err != nil {
		t.logger.Warn("xpath rule failed", zap.String("expr", rule.XPath), zap.Error(err))
		return
	}
	for _, node := range nodes {
		t.rewriteNodeAttr(node, rule.Attribute, rc.TargetURL)
	}
}

func (t *Transformer) rewriteNodeAttr(node *html.Node, attribute, target string) {
	for i, attr := range node.Attr {
		if attr.Key == attribute {
			node.Attr[i].Val = t.engine.RewriteURL(attr.Val, target)
		}
	}
}

// stripScripts removes script elements and inline event handlers for
// sessions that disabled JavaScript.
func (t *Transformer) stripScripts(doc *goquery.Document) {
	doc.Find("script").Remove()
	doc.Find("*").Each(func(_ int, s *goquery.Selection) {
		if len(s.Nodes) == 0 {
			return
		}
		// RemoveAttr compacts the attribute slice in place, so the
		// keys are collected before any removal.
		var handlers []string
		for _, attr := range s.Nodes[0].Attr {
			if strings.HasPrefix(attr.Key, "on") {
				handlers = append(handlers, attr.Key)
			}
		}
		for _, key := range handlers {
			s.RemoveAttr(key)
		}
	})
}

// injectHead adds the three proxy script blocks: constants, operator
// scripts, and the WebSocket constructor shim.
func (t *Transformer) injectHead(doc *goquery.Document, rc Context, settings session.Settings) {
	head := doc.Find("head")
	if head.Length() == 0 {
		return
	}
	head.AppendHtml(scriptTag(constantsScript(rc.SessionID, t.engine.ProxyBase(), rc.TargetURL)))
	for _, body := range t.opts.InjectScripts {
		head.AppendHtml(scriptTag(body))
	}
	if settings.EnableWebSockets {
		head.AppendHtml(scriptTag(webSocketShim(t.engine.ProxyBase())))
	}
}

func scriptTag(body string) string {
	return "<script>" + body + "</script>"
}

// looksLikeURL reports whether val is an absolute http(s) URL or a
// rooted/relative path reference worth routing through the engine.
func looksLikeURL(val string) bool {
	val = strings.TrimSpace(val)
	if val == "" {
		return false
	}
	if strings.HasPrefix(val, "/") || strings.HasPrefix(val, "./") || strings.HasPrefix(val, "../") {
		return true
	}
	u, err := url.Parse(val)
	if err != nil {
		return false
	}
	return u.IsAbs() && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
