package transport

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/webveil/webveil/internal/infrastructure/logging"
)

// HTTPEngine is the reference Engine built on resty.
type HTTPEngine struct {
	client *resty.Client
	logger *logging.Logger
}

// HTTPEngineConfig bounds the reference engine.
type HTTPEngineConfig struct {
	Timeout    time.Duration
	RetryCount int
	UserAgent  string
}

// DefaultHTTPEngineConfig returns production defaults.
func DefaultHTTPEngineConfig() HTTPEngineConfig {
	return HTTPEngineConfig{
		Timeout:    30 * time.Second,
		RetryCount: 2,
		UserAgent:  "Mozilla/5.0 (compatible; webveil/1.0)",
	}
}

// NewHTTPEngine creates the reference engine.
func NewHTTPEngine(cfg HTTPEngineConfig, logger *logging.Logger) *HTTPEngine {
	if logger == nil {
		logger = logging.NewDefault()
	}
	client := resty.New().
		SetTimeout(cfg.Timeout).
		SetRetryCount(cfg.RetryCount).
		SetHeader("User-Agent", cfg.UserAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(10)).
		SetDoNotParseResponse(false)
	return &HTTPEngine{client: client, logger: logger}
}

// Fetch performs the HTTP exchange with the origin.
func (e *HTTPEngine) Fetch(ctx context.Context, targetURL string, meta RequestMeta) (*Result, error) {
	req := e.client.R().SetContext(ctx)
	for key, vals := range meta.Header {
		if skipForwardHeader(key) {
			continue
		}
		for _, v := range vals {
			req.SetHeader(key, v)
		}
	}
	if len(meta.Body) > 0 {
		req.SetBody(meta.Body)
	}

	method := meta.Method
	if method == "" {
		method = http.MethodGet
	}

	resp, err := req.Execute(method, targetURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", targetURL, err)
	}

	e.logger.Debug("origin fetch",
		zap.String("url", targetURL),
		zap.Int("status", resp.StatusCode()),
		zap.Int("bytes", len(resp.Body())),
	)

	return &Result{
		StatusCode: resp.StatusCode(),
		Header:     resp.Header().Clone(),
		Body:       resp.Body(),
	}, nil
}

// Upgrade dials the origin WebSocket and pipes frames both ways until
// either side closes. ws/wss scheme normalization happens here, per the
// split of responsibilities with the rewrite engine.
func (e *HTTPEngine) Upgrade(ctx context.Context, targetURL string, client *websocket.Conn) error {
	wsURL := normalizeWSScheme(targetURL)

	origin, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("upgrade %s: %w", wsURL, err)
	}
	defer origin.Close()

	errc := make(chan error, 2)
	go pipe(client, origin, errc)
	go pipe(origin, client, errc)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func pipe(dst, src *websocket.Conn, errc chan<- error) {
	for {
		msgType, data, err := src.ReadMessage()
		if err != nil {
			errc <- err
			return
		}
		if err := dst.WriteMessage(msgType, data); err != nil {
			errc <- err
			return
		}
	}
}

func normalizeWSScheme(raw string) string {
	switch {
	case strings.HasPrefix(raw, "http://"):
		return "ws://" + strings.TrimPrefix(raw, "http://")
	case strings.HasPrefix(raw, "https://"):
		return "wss://" + strings.TrimPrefix(raw, "https://")
	default:
		return raw
	}
}

// skipForwardHeader filters hop-by-hop headers that must not be
// forwarded upstream.
func skipForwardHeader(key string) bool {
	switch http.CanonicalHeaderKey(key) {
	case "Connection", "Keep-Alive", "Proxy-Authorization", "Te",
		"Trailer", "Transfer-Encoding", "Upgrade", "Accept-Encoding":
		return true
	}
	return false
}
