package rewrite

import (
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/webveil/webveil/internal/infrastructure/logging"
)

// GatewayPath is the proxy-relative path that serves rewritten resources.
const GatewayPath = "/gateway"

// WebSocketPath is the proxy-relative path that tunnels WebSocket upgrades.
const WebSocketPath = "/ws"

// skippedSchemes are never rewritten. They either carry inline data or
// trigger client-side behavior that must not round-trip through the proxy.
var skippedSchemes = []string{
	"data:", "javascript:", "mailto:", "tel:", "vbscript:", "about:", "blob:",
}

// Engine rewrites origin URLs into proxy gateway URLs.
type Engine struct {
	proxyBase string
	blocklist *Blocklist
	logger    *logging.Logger
}

// NewEngine creates an engine rooted at proxyBase (scheme://host[:port],
// no trailing slash required).
func NewEngine(proxyBase string, blocklist *Blocklist, logger *logging.Logger) *Engine {
	if logger == nil {
		logger = logging.NewDefault()
	}
	if blocklist == nil {
		blocklist = NewBlocklist(nil)
	}
	return &Engine{
		proxyBase: strings.TrimRight(proxyBase, "/"),
		blocklist: blocklist,
		logger:    logger,
	}
}

// ProxyBase returns the configured proxy origin.
func (e *Engine) ProxyBase() string {
	return e.proxyBase
}

// RewriteURL maps raw to a gateway URL. Relative references are resolved
// against target's origin. Input that fails to parse, uses a non-http(s)
// scheme, or points at a blocked host is returned as-is (resolved to
// absolute form for blocked hosts, untouched otherwise).
func (e *Engine) RewriteURL(raw string, target string) string {
	if raw == "" || strings.HasPrefix(raw, "#") {
		return raw
	}

	lower := strings.ToLower(strings.TrimSpace(raw))
	for _, scheme := range skippedSchemes {
		if strings.HasPrefix(lower, scheme) {
			return raw
		}
	}

	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}

	resolved := parsed
	if !parsed.IsAbs() {
		base, err := url.Parse(target)
		if err != nil || !base.IsAbs() {
			return raw
		}
		resolved = base.ResolveReference(parsed)
	}

	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return raw
	}

	abs := resolved.String()
	if e.blocklist.Blocked(resolved.Hostname()) {
		e.logger.Debug("host blocked, serving unproxied",
			zap.String("host", resolved.Hostname()))
		return abs
	}

	return e.proxyBase + GatewayPath + "?url=" + url.QueryEscape(abs)
}

// RewriteWebSocketURL maps any WebSocket endpoint to the tunnel gateway.
// Scheme normalization (ws/wss against http/https) belongs to the
// transport engine, so the URL is carried verbatim.
func (e *Engine) RewriteWebSocketURL(raw string) string {
	if raw == "" {
		return raw
	}
	return e.proxyBase + WebSocketPath + "?url=" + url.QueryEscape(raw)
}
