package http

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/webveil/webveil/internal/content"
	"github.com/webveil/webveil/internal/pipeline"
	"github.com/webveil/webveil/internal/shared/id"
	"github.com/webveil/webveil/internal/transport"
)

// Gateway serves one proxied exchange: decode the url parameter, run the
// request phase, fetch through the transport engine, run the response
// phase, rewrite the body, and answer the client.
func (h *Handlers) Gateway(c *gin.Context) {
	target, err := h.codec.Decode(c.Query("url"))
	if err != nil || target == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid url parameter"})
		return
	}

	exc := &pipeline.Exchange{
		ID: id.NewRequestID().String(),
		Request: &pipeline.Request{
			Method:     c.Request.Method,
			URL:        c.Request.URL.String(),
			RemoteAddr: c.Request.RemoteAddr,
			Header:     c.Request.Header.Clone(),
		},
		ProxyURL:  h.proxyBase,
		TargetURL: target,
	}

	sid := sessionID(c)
	if sid != "" {
		if sess, ok := h.store.Get(sid); ok {
			exc.Session = sess
			if sess.UserAgent != "" {
				exc.Request.Header.Set("User-Agent", sess.UserAgent)
			}
			for k, v := range sess.ExtraHeaders {
				exc.Request.Header.Set(k, v)
			}
			if sess.ProxyTarget != "" {
				exc.TargetURL = sess.ProxyTarget
			}
		}
	}

	ctx := c.Request.Context()
	if err := h.pipe.Execute(ctx, pipeline.PhaseRequest, exc); err != nil {
		h.answerError(c, exc, err)
		return
	}

	body, _ := io.ReadAll(c.Request.Body)
	result, err := h.engine.Fetch(ctx, exc.TargetURL, transport.RequestMeta{
		Method: exc.Request.Method,
		Header: exc.Request.Header,
		Body:   body,
	})
	if err != nil {
		exc.Err = err
		_ = h.pipe.Execute(ctx, pipeline.PhaseError, exc)
		h.answerError(c, exc, err)
		return
	}

	exc.Response = &pipeline.Response{
		Status: result.StatusCode,
		Header: result.Header,
	}
	exc.Body = result.Body

	if err := h.pipe.Execute(ctx, pipeline.PhaseResponse, exc); err != nil {
		h.answerError(c, exc, err)
		return
	}

	contentType := exc.Response.Header.Get("Content-Type")
	start := time.Now()
	exc.Body = h.transformer.Rewrite(exc.Body, contentType, content.Context{
		SessionID: sid,
		TargetURL: exc.TargetURL,
	})
	if h.metrics != nil {
		h.metrics.RecordRewrite(mediaTypeLabel(contentType), time.Since(start))
	}

	h.answer(c, exc)
}

// answer writes the exchange's response to the client, filtering
// headers that no longer describe the rewritten body.
func (h *Handlers) answer(c *gin.Context, exc *pipeline.Exchange) {
	for key, vals := range exc.Response.Header {
		if skipResponseHeader(key) {
			continue
		}
		for _, v := range vals {
			c.Writer.Header().Add(key, v)
		}
	}
	status := exc.Response.Status
	if status == 0 {
		status = http.StatusOK
	}
	c.Data(status, exc.Response.Header.Get("Content-Type"), exc.Body)
}

// answerError renders what the error phase produced, or a bare status
// when no error handler is registered.
func (h *Handlers) answerError(c *gin.Context, exc *pipeline.Exchange, err error) {
	status := pipeline.StatusFor(err)
	h.logger.Warn("gateway exchange failed",
		zap.String("exchange_id", exc.ID),
		zap.String("target", exc.TargetURL),
		zap.Int("status", status),
		zap.Error(err),
	)
	if h.metrics != nil {
		var rl *pipeline.RateLimitError
		if errors.As(err, &rl) {
			h.metrics.RateLimitHits.Inc()
		}
	}
	if exc.Response != nil && len(exc.Body) > 0 {
		c.Data(exc.Response.Status, exc.Response.Header.Get("Content-Type"), exc.Body)
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func mediaTypeLabel(contentType string) string {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = contentType[:i]
	}
	contentType = strings.TrimSpace(strings.ToLower(contentType))
	if contentType == "" {
		return "unknown"
	}
	return contentType
}

// Content-Length no longer matches the rewritten body and
// Transfer-Encoding is owned by the server.
func skipResponseHeader(key string) bool {
	switch http.CanonicalHeaderKey(key) {
	case "Content-Length", "Transfer-Encoding", "Connection", "Content-Type":
		return true
	}
	return false
}
