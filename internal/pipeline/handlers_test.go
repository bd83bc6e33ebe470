package pipeline

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/webveil/webveil/internal/infrastructure/logging"
	"github.com/webveil/webveil/internal/rewrite"
	"github.com/webveil/webveil/internal/session"
)

// TestSecurityHeaders tests policy-header stripping and the identity stamp
func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders("webveil")
	exc := newTestExchange()
	exc.Response.Header.Set("Content-Security-Policy", "default-src 'self'")
	exc.Response.Header.Set("Content-Security-Policy-Report-Only", "default-src 'self'")
	exc.Response.Header.Set("Strict-Transport-Security", "max-age=31536000")
	exc.Response.Header.Set("X-Frame-Options", "DENY")
	exc.Response.Header.Set("X-Content-Type-Options", "nosniff")
	exc.Response.Header.Set("Referrer-Policy", "no-referrer")
	exc.Response.Header.Set("Permissions-Policy", "geolocation=()")
	exc.Response.Header.Set("Cache-Control", "no-store")

	require.NoError(t, h(context.Background(), exc))

	for _, name := range []string{
		"Content-Security-Policy",
		"Content-Security-Policy-Report-Only",
		"Strict-Transport-Security",
		"X-Frame-Options",
		"X-Content-Type-Options",
		"Referrer-Policy",
		"Permissions-Policy",
	} {
		assert.Empty(t, exc.Response.Header.Get(name), "header %s survived", name)
	}
	assert.Equal(t, "webveil", exc.Response.Header.Get(IdentityHeader))
	// Unrelated headers pass through.
	assert.Equal(t, "no-store", exc.Response.Header.Get("Cache-Control"))

	// A response-less exchange is a no-op, not a crash.
	require.NoError(t, h(context.Background(), &Exchange{}))
}

// TestCookieManagerPinsPath tests Set-Cookie path pinning
func TestCookieManagerPinsPath(t *testing.T) {
	h := CookieManager(nil)

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"explicit path", "sid=abc; Path=/account; HttpOnly", "sid=abc; Path=/; HttpOnly"},
		{"no path", "sid=abc", "sid=abc; Path=/"},
		{"lowercase attribute", "sid=abc; path=/deep", "sid=abc; Path=/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			exc := newTestExchange()
			exc.Response.Header.Set("Set-Cookie", tt.in)
			require.NoError(t, h(context.Background(), exc))
			assert.Equal(t, []string{tt.want}, exc.Response.Header.Values("Set-Cookie"))
		})
	}
}

// TestCookieManagerMirrorsJar tests that origin cookies land in the session
func TestCookieManagerMirrorsJar(t *testing.T) {
	store := session.NewMemoryStore(session.DefaultConfig(), logging.NewNop())
	defer store.Close()
	sess := store.Create(session.CreateOptions{})

	h := CookieManager(store)
	exc := newTestExchange()
	exc.Session = sess
	exc.Response.Header.Add("Set-Cookie", "sid=abc; Secure; HttpOnly")
	exc.Response.Header.Add("Set-Cookie", "pref=dark; Domain=.a.com")
	require.NoError(t, h(context.Background(), exc))

	jar := store.Cookies(sess.ID, "a.com", "/")
	require.Len(t, jar, 2)
	assert.Equal(t, "pref", jar[0].Name)
	assert.Equal(t, ".a.com", jar[0].Domain)
	assert.Equal(t, "sid", jar[1].Name)
	assert.Equal(t, "abc", jar[1].Value)
	// Domainless cookies default to the target host.
	assert.Equal(t, "a.com", jar[1].Domain)
	assert.True(t, jar[1].Secure)
	assert.True(t, jar[1].HTTPOnly)
}

// TestCookieManagerDisabledSession tests the cookie kill switch
func TestCookieManagerDisabledSession(t *testing.T) {
	store := session.NewMemoryStore(session.DefaultConfig(), logging.NewNop())
	defer store.Close()
	settings := session.DefaultSettings()
	settings.EnableCookies = false
	sess := store.Create(session.CreateOptions{Settings: &settings})

	h := CookieManager(store)
	exc := newTestExchange()
	exc.Session = sess
	exc.Response.Header.Set("Set-Cookie", "sid=abc")
	require.NoError(t, h(context.Background(), exc))

	assert.Empty(t, exc.Response.Header.Values("Set-Cookie"))
	assert.Empty(t, store.Cookies(sess.ID, "a.com", "/"))
}

// TestHeaderCorrection tests outbound Host and Referer fixes
func TestHeaderCorrection(t *testing.T) {
	h := HeaderCorrection()
	exc := newTestExchange()
	exc.Request.Header.Set("Host", "p")
	exc.Request.Header.Set("Referer", "http://p/gateway?url=https%3A%2F%2Fa.com%2Fprev")

	require.NoError(t, h(context.Background(), exc))
	assert.Equal(t, "a.com", exc.Request.Header.Get("Host"))
	assert.Equal(t, "https://a.com/", exc.Request.Header.Get("Referer"))

	// External referers are not touched.
	exc = newTestExchange()
	exc.Request.Header.Set("Referer", "https://elsewhere.example/")
	require.NoError(t, h(context.Background(), exc))
	assert.Equal(t, "https://elsewhere.example/", exc.Request.Header.Get("Referer"))
}

// TestRateLimiterWindow tests the sliding window cut-off
func TestRateLimiterWindow(t *testing.T) {
	h := RateLimiter(RateLimitConfig{Window: time.Second, MaxRequests: 2})
	ctx := context.Background()

	exc := newTestExchange()
	require.NoError(t, h(ctx, exc))
	require.NoError(t, h(ctx, exc))

	err := h(ctx, exc)
	require.Error(t, err)
	var rl *RateLimitError
	require.ErrorAs(t, err, &rl)
	assert.Equal(t, http.StatusTooManyRequests, rl.Status)
	assert.Equal(t, "203.0.113.7", rl.ClientAddr)
	assert.Greater(t, rl.RetryAfter, time.Duration(0))
	assert.Equal(t, http.StatusTooManyRequests, StatusFor(err))
}

// TestRateLimiterPerAddress tests that budgets are per client
func TestRateLimiterPerAddress(t *testing.T) {
	h := RateLimiter(RateLimitConfig{Window: time.Second, MaxRequests: 1})
	ctx := context.Background()

	first := newTestExchange()
	require.NoError(t, h(ctx, first))
	require.Error(t, h(ctx, first))

	second := newTestExchange()
	second.Request.RemoteAddr = "198.51.100.4:40000"
	assert.NoError(t, h(ctx, second))
}

// TestRateLimiterWindowExpiry tests that old hits stop counting
func TestRateLimiterWindowExpiry(t *testing.T) {
	h := RateLimiter(RateLimitConfig{Window: 30 * time.Millisecond, MaxRequests: 1})
	ctx := context.Background()

	exc := newTestExchange()
	require.NoError(t, h(ctx, exc))
	require.Error(t, h(ctx, exc))

	time.Sleep(40 * time.Millisecond)
	assert.NoError(t, h(ctx, exc))
}

// TestGzipDecode tests transparent decompression
func TestGzipDecode(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte("<html>plain</html>"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	h := GzipDecode()
	exc := newTestExchange()
	exc.Body = buf.Bytes()
	exc.Response.Header.Set("Content-Encoding", "gzip")
	exc.Response.Header.Set("Content-Length", "999")

	require.NoError(t, h(context.Background(), exc))
	assert.Equal(t, []byte("<html>plain</html>"), exc.Body)
	assert.Empty(t, exc.Response.Header.Get("Content-Encoding"))
	assert.Empty(t, exc.Response.Header.Get("Content-Length"))

	// Mislabeled bodies are left alone.
	exc = newTestExchange()
	exc.Body = []byte("not gzip at all")
	exc.Response.Header.Set("Content-Encoding", "gzip")
	require.NoError(t, h(context.Background(), exc))
	assert.Equal(t, []byte("not gzip at all"), exc.Body)
}

// TestContentTypeDetection tests sniffing and charset normalization
func TestContentTypeDetection(t *testing.T) {
	h := ContentTypeDetection()

	exc := newTestExchange()
	exc.Body = []byte("<!DOCTYPE html><html><body>hello</body></html>")
	require.NoError(t, h(context.Background(), exc))
	ct := exc.Response.Header.Get("Content-Type")
	assert.True(t, strings.HasPrefix(ct, "text/html"), "sniffed %q", ct)
	assert.Contains(t, ct, "charset=")

	// Upper-case charset parameters come out lowered.
	exc = newTestExchange()
	exc.Response.Header.Set("Content-Type", "text/html; charset=UTF-8")
	require.NoError(t, h(context.Background(), exc))
	assert.Equal(t, "text/html; charset=utf-8", exc.Response.Header.Get("Content-Type"))

	// Binary types are not decorated with a charset.
	exc = newTestExchange()
	exc.Response.Header.Set("Content-Type", "image/png")
	require.NoError(t, h(context.Background(), exc))
	assert.Equal(t, "image/png", exc.Response.Header.Get("Content-Type"))
}

// TestURLRewriter tests the inline fallback rewrite
func TestURLRewriter(t *testing.T) {
	engine := rewrite.NewEngine("http://p", rewrite.NewBlocklist(nil), logging.NewNop())
	h := URLRewriter(engine)

	exc := newTestExchange()
	exc.Body = []byte(`see https://a.com/next for details`)
	exc.Response.Header.Set("Content-Type", "text/plain")
	require.NoError(t, h(context.Background(), exc))
	assert.Equal(t, `see http://p/gateway?url=https%3A%2F%2Fa.com%2Fnext for details`, string(exc.Body))

	// Binary bodies are never touched.
	exc = newTestExchange()
	exc.Body = []byte("https://a.com/next")
	exc.Response.Header.Set("Content-Type", "application/octet-stream")
	require.NoError(t, h(context.Background(), exc))
	assert.Equal(t, "https://a.com/next", string(exc.Body))
}

// TestErrorHandler tests the rendered error page
func TestErrorHandler(t *testing.T) {
	h := ErrorHandler(logging.NewNop())

	exc := newTestExchange()
	exc.Err = errors.New("upstream said <no>")
	require.NoError(t, h(context.Background(), exc))
	assert.Equal(t, http.StatusInternalServerError, exc.Response.Status)
	assert.Equal(t, "text/html; charset=utf-8", exc.Response.Header.Get("Content-Type"))
	assert.Contains(t, string(exc.Body), "500")
	// The message is escaped, never raw.
	assert.Contains(t, string(exc.Body), "upstream said &lt;no&gt;")
	assert.NotContains(t, string(exc.Body), "<no>")

	exc = newTestExchange()
	exc.Err = &RateLimitError{ClientAddr: "203.0.113.7", Status: http.StatusTooManyRequests}
	require.NoError(t, h(context.Background(), exc))
	assert.Equal(t, http.StatusTooManyRequests, exc.Response.Status)
	assert.Contains(t, string(exc.Body), "429")

	// Nothing happens without an attached failure.
	exc = newTestExchange()
	exc.Body = []byte("original")
	require.NoError(t, h(context.Background(), exc))
	assert.Equal(t, "original", string(exc.Body))
}
