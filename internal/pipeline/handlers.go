package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"html"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/saintfish/chardet"
	"go.uber.org/zap"

	"github.com/webveil/webveil/internal/infrastructure/logging"
	"github.com/webveil/webveil/internal/rewrite"
	"github.com/webveil/webveil/internal/session"
)

// IdentityHeader is stamped on every response that passed the proxy.
const IdentityHeader = "X-Proxied-By"

// blockingHeaders would stop rewritten content from loading framed or
// cross-origin, so they are stripped from origin responses.
var blockingHeaders = []string{
	"Strict-Transport-Security",
	"Content-Security-Policy",
	"Content-Security-Policy-Report-Only",
	"X-Frame-Options",
	"X-Content-Type-Options",
	"Referrer-Policy",
	"Permissions-Policy",
}

// SecurityHeaders strips origin policy headers that would block framed
// or rewritten content and stamps the identity header.
func SecurityHeaders(serviceName string) Handler {
	return func(ctx context.Context, exc *Exchange) error {
		if exc.Response == nil || exc.Response.Header == nil {
			return nil
		}
		for _, h := range blockingHeaders {
			exc.Response.Header.Del(h)
		}
		exc.Response.Header.Set(IdentityHeader, serviceName)
		return nil
	}
}

// CookieManager pins Set-Cookie paths to / so origin cookies stay valid
// under the proxy's single-path scheme, and mirrors them into the
// session jar. Sessions with cookies disabled get Set-Cookie dropped.
func CookieManager(store session.Store) Handler {
	return func(ctx context.Context, exc *Exchange) error {
		if exc.Response == nil || exc.Response.Header == nil {
			return nil
		}
		raw := exc.Response.Header.Values("Set-Cookie")
		if len(raw) == 0 {
			return nil
		}

		if exc.Session != nil && !exc.Session.Settings.EnableCookies {
			exc.Response.Header.Del("Set-Cookie")
			return nil
		}

		targetHost := hostOf(exc.TargetURL)
		rewritten := make([]string, 0, len(raw))
		for _, line := range raw {
			rewritten = append(rewritten, pinCookiePath(line))
			if exc.Session != nil && store != nil {
				if c, ok := parseSetCookie(line, targetHost); ok {
					store.SetCookie(exc.Session.ID, c)
				}
			}
		}
		exc.Response.Header.Del("Set-Cookie")
		for _, line := range rewritten {
			exc.Response.Header.Add("Set-Cookie", line)
		}
		return nil
	}
}

var cookiePathRe = regexp.MustCompile(`(?i);\s*path=[^;]*`)

func pinCookiePath(line string) string {
	if cookiePathRe.MatchString(line) {
		return cookiePathRe.ReplaceAllString(line, "; Path=/")
	}
	return line + "; Path=/"
}

func parseSetCookie(line, defaultDomain string) (session.Cookie, bool) {
	header := http.Header{"Set-Cookie": []string{line}}
	resp := http.Response{Header: header}
	parsed := resp.Cookies()
	if len(parsed) == 0 {
		return session.Cookie{}, false
	}
	c := parsed[0]
	out := session.Cookie{
		Name:     c.Name,
		Value:    c.Value,
		Domain:   c.Domain,
		Path:     c.Path,
		HTTPOnly: c.HttpOnly,
		Secure:   c.Secure,
	}
	if out.Domain == "" {
		out.Domain = defaultDomain
	}
	if !c.Expires.IsZero() {
		exp := c.Expires
		out.Expires = &exp
	}
	switch c.SameSite {
	case http.SameSiteLaxMode:
		out.SameSite = "Lax"
	case http.SameSiteStrictMode:
		out.SameSite = "Strict"
	case http.SameSiteNoneMode:
		out.SameSite = "None"
	}
	return out, true
}

// HeaderCorrection rewrites outbound Host and Referer so the origin sees
// itself, not the proxy.
func HeaderCorrection() Handler {
	return func(ctx context.Context, exc *Exchange) error {
		if exc.Request == nil || exc.Request.Header == nil || exc.TargetURL == "" {
			return nil
		}
		target, err := url.Parse(exc.TargetURL)
		if err != nil || target.Host == "" {
			return nil
		}
		exc.Request.Header.Set("Host", target.Host)
		if ref := exc.Request.Header.Get("Referer"); ref != "" && exc.ProxyURL != "" {
			if strings.HasPrefix(ref, exc.ProxyURL) {
				exc.Request.Header.Set("Referer", target.Scheme+"://"+target.Host+"/")
			}
		}
		return nil
	}
}

// RateLimitConfig bounds per-address request rates over a sliding window.
type RateLimitConfig struct {
	Window      time.Duration
	MaxRequests int
}

// DefaultRateLimitConfig allows 100 requests per minute per address.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Window:      time.Minute,
		MaxRequests: 100,
	}
}

// RateLimiter enforces a sliding-window limit per client address.
// Timestamps are kept per address and pruned lazily on that address's
// next request. Exceeding the limit fails the exchange with a
// RateLimitError tagged for a 429.
func RateLimiter(cfg RateLimitConfig) Handler {
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateLimitConfig().Window
	}
	if cfg.MaxRequests <= 0 {
		cfg.MaxRequests = DefaultRateLimitConfig().MaxRequests
	}

	var (
		mu   sync.Mutex
		hits = make(map[string][]time.Time)
	)

	return func(ctx context.Context, exc *Exchange) error {
		addr := clientAddr(exc)
		now := time.Now()
		cutoff := now.Add(-cfg.Window)

		mu.Lock()
		defer mu.Unlock()

		recent := hits[addr][:0]
		for _, t := range hits[addr] {
			if t.After(cutoff) {
				recent = append(recent, t)
			}
		}
		if len(recent) >= cfg.MaxRequests {
			hits[addr] = recent
			return &RateLimitError{
				ClientAddr: addr,
				RetryAfter: recent[0].Add(cfg.Window).Sub(now),
				Status:     http.StatusTooManyRequests,
			}
		}
		hits[addr] = append(recent, now)
		return nil
	}
}

func clientAddr(exc *Exchange) string {
	if exc.Request == nil {
		return "unknown"
	}
	addr := exc.Request.RemoteAddr
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// GzipDecode transparently decompresses gzip response bodies so later
// handlers and the content transformer see plain text.
func GzipDecode() Handler {
	return func(ctx context.Context, exc *Exchange) error {
		if exc.Response == nil || exc.Response.Header == nil {
			return nil
		}
		if !strings.EqualFold(exc.Response.Header.Get("Content-Encoding"), "gzip") {
			return nil
		}
		r, err := gzip.NewReader(bytes.NewReader(exc.Body))
		if err != nil {
			// Mislabeled body; leave it alone.
			return nil
		}
		defer r.Close()
		plain, err := io.ReadAll(r)
		if err != nil {
			return nil
		}
		exc.Body = plain
		exc.Response.Header.Del("Content-Encoding")
		exc.Response.Header.Del("Content-Length")
		return nil
	}
}

// ContentTypeDetection fills in a missing Content-Type by sniffing the
// body and normalizes the charset parameter on text content types.
func ContentTypeDetection() Handler {
	detector := chardet.NewTextDetector()
	return func(ctx context.Context, exc *Exchange) error {
		if exc.Response == nil || exc.Response.Header == nil {
			return nil
		}
		ct := exc.Response.Header.Get("Content-Type")
		if ct == "" && len(exc.Body) > 0 {
			ct = mimetype.Detect(exc.Body).String()
			exc.Response.Header.Set("Content-Type", ct)
		}

		mediaType, params, err := mime.ParseMediaType(ct)
		if err != nil {
			return nil
		}
		if !textual(mediaType) {
			return nil
		}
		if cs, ok := params["charset"]; ok {
			params["charset"] = strings.ToLower(cs)
		} else {
			params["charset"] = "utf-8"
			if len(exc.Body) > 0 {
				if best, err := detector.DetectBest(exc.Body); err == nil && best.Charset != "" {
					params["charset"] = strings.ToLower(best.Charset)
				}
			}
		}
		exc.Response.Header.Set("Content-Type", mime.FormatMediaType(mediaType, params))
		return nil
	}
}

func textual(mediaType string) bool {
	return strings.HasPrefix(mediaType, "text/") ||
		strings.Contains(mediaType, "json") ||
		strings.Contains(mediaType, "javascript") ||
		strings.Contains(mediaType, "xml")
}

var absoluteURLRe = regexp.MustCompile(`https?://[^\s"'<>\\)]+`)

// URLRewriter is a best-effort inline rewrite of absolute URLs in text
// bodies. It is the cheap fallback when the full content transformer is
// not in play; false negatives are acceptable.
func URLRewriter(engine *rewrite.Engine) Handler {
	return func(ctx context.Context, exc *Exchange) error {
		if exc.Response == nil || len(exc.Body) == 0 {
			return nil
		}
		ct := exc.Response.Header.Get("Content-Type")
		mediaType, _, err := mime.ParseMediaType(ct)
		if err != nil || !textual(mediaType) {
			return nil
		}
		exc.Body = absoluteURLRe.ReplaceAllFunc(exc.Body, func(m []byte) []byte {
			return []byte(engine.RewriteURL(string(m), exc.TargetURL))
		})
		exc.Response.Header.Del("Content-Length")
		return nil
	}
}

// ErrorHandler renders a minimal HTML error page from the attached
// failure. The status defaults to 500; tagged failures keep theirs.
func ErrorHandler(logger *logging.Logger) Handler {
	if logger == nil {
		logger = logging.NewDefault()
	}
	return func(ctx context.Context, exc *Exchange) error {
		if exc.Err == nil {
			return nil
		}
		status := StatusFor(exc.Err)
		logger.Warn("rendering error page",
			zap.Int("status", status),
			zap.Error(exc.Err),
		)
		if exc.Response == nil {
			exc.Response = &Response{Header: http.Header{}}
		}
		if exc.Response.Header == nil {
			exc.Response.Header = http.Header{}
		}
		exc.Response.Status = status
		exc.Response.Header.Set("Content-Type", "text/html; charset=utf-8")
		exc.Body = []byte(fmt.Sprintf(
			"<!DOCTYPE html><html><head><title>Proxy Error</title></head>"+
				"<body><h1>%d</h1><p>%s</p></body></html>",
			status, html.EscapeString(exc.Err.Error()),
		))
		return nil
	}
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
