package content

import (
	"mime"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/webveil/webveil/internal/infrastructure/logging"
	"github.com/webveil/webveil/internal/rewrite"
	"github.com/webveil/webveil/internal/session"
)

// Context carries the per-exchange inputs of one rewrite call. It is
// immutable and never outlives the call.
type Context struct {
	SessionID string
	TargetURL string
}

// Rule is an operator-supplied rewrite rule, a tagged variant: exactly
// one of Callback, Selector, or XPath is set. Selector and XPath rules
// rewrite Attribute on every match through the URL engine; Callback
// rules get the parsed document and do whatever they want with it.
type Rule struct {
	Selector  string
	XPath     string
	Attribute string
	Callback  func(doc *goquery.Document)
}

// Options configure optional transformer behavior.
type Options struct {
	// Rules run after the built-in attribute walk, in order.
	Rules []Rule
	// InjectScripts are operator script bodies added to every HTML head.
	InjectScripts []string
	// Minify strips comments and collapses whitespace in the final
	// HTML serialization, including embedded script and style text.
	Minify bool
	// SanitizeNoScript additionally runs script-disabled sessions'
	// output through the UGC sanitizer for hard stripping.
	SanitizeNoScript bool
	// FailureCounter, when set, counts rewrites that degraded to
	// passthrough, labeled by media type.
	FailureCounter *prometheus.CounterVec
}

// Transformer dispatches bodies to per-format rewrite strategies.
type Transformer struct {
	engine    *rewrite.Engine
	store     session.Store
	sanitizer *bluemonday.Policy
	opts      Options
	logger    *logging.Logger
}

// NewTransformer creates a transformer. store may be nil when no session
// settings should be consulted.
func NewTransformer(engine *rewrite.Engine, store session.Store, opts Options, logger *logging.Logger) *Transformer {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Transformer{
		engine:    engine,
		store:     store,
		sanitizer: bluemonday.UGCPolicy(),
		opts:      opts,
		logger:    logger,
	}
}

// Rewrite transforms content according to its declared type. It never
// fails: any internal error degrades to returning content unchanged.
func (t *Transformer) Rewrite(content []byte, contentType string, rc Context) (out []byte) {
	out = content
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("content rewrite recovered",
				zap.Any("panic", r),
				zap.String("content_type", contentType),
				zap.String("target", rc.TargetURL),
			)
			if t.opts.FailureCounter != nil {
				t.opts.FailureCounter.WithLabelValues(mediaType).Inc()
			}
			out = content
		}
	}()

	switch {
	case strings.Contains(mediaType, "html"):
		out = t.rewriteHTML(content, rc)
	case strings.Contains(mediaType, "css"):
		out = []byte(t.rewriteCSS(string(content), rc.TargetURL))
	case strings.Contains(mediaType, "javascript"), strings.Contains(mediaType, "ecmascript"):
		out = t.rewriteJS(content, rc)
	case strings.Contains(mediaType, "json"):
		out = t.rewriteJSON(content, rc)
	}
	return out
}

// settingsFor resolves the session's feature toggles, defaulting to
// everything enabled when no session is in play.
func (t *Transformer) settingsFor(rc Context) session.Settings {
	if t.store == nil || rc.SessionID == "" {
		return session.DefaultSettings()
	}
	sess, ok := t.store.Get(rc.SessionID)
	if !ok {
		return session.DefaultSettings()
	}
	return sess.Settings
}
