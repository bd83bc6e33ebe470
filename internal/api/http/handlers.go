// Package http serves the JSON surface: session CRUD, the rewrite
// endpoint, and the gateway that ties transport, pipeline, and
// transformer together for one exchange.
package http

import (
	"io"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/webveil/webveil/internal/content"
	"github.com/webveil/webveil/internal/infrastructure/logging"
	"github.com/webveil/webveil/internal/infrastructure/monitoring"
	"github.com/webveil/webveil/internal/pipeline"
	"github.com/webveil/webveil/internal/session"
	"github.com/webveil/webveil/internal/transport"
)

// SessionHeader carries the session token on API and gateway requests.
const SessionHeader = "X-Session-ID"

// Handlers contains all HTTP handlers.
type Handlers struct {
	store       session.Store
	transformer *content.Transformer
	pipe        *pipeline.Pipeline
	engine      transport.Engine
	codec       transport.Codec
	metrics     *monitoring.Metrics
	logger      *logging.Logger
	proxyBase   string
}

// NewHandlers creates a new handler set.
func NewHandlers(
	store session.Store,
	transformer *content.Transformer,
	pipe *pipeline.Pipeline,
	engine transport.Engine,
	codec transport.Codec,
	metrics *monitoring.Metrics,
	logger *logging.Logger,
	proxyBase string,
) *Handlers {
	if codec == nil {
		codec = transport.IdentityCodec{}
	}
	if logger == nil {
		logger = logging.NewDefault()
	}
	return &Handlers{
		store:       store,
		transformer: transformer,
		pipe:        pipe,
		engine:      engine,
		codec:       codec,
		metrics:     metrics,
		logger:      logger,
		proxyBase:   proxyBase,
	}
}

// Root handles health check.
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "webveil",
	})
}

// Health handles detailed health check.
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"sessions": h.store.Stats().Sessions,
	})
}

// sessionID extracts the session token from header or query.
func sessionID(c *gin.Context) string {
	if sid := c.GetHeader(SessionHeader); sid != "" {
		return sid
	}
	return c.Query("session")
}

type createSessionRequest struct {
	Settings     *session.Settings `json:"settings,omitempty"`
	ProxyTarget  string            `json:"proxy_target,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`
}

// CreateSession installs a new session and returns its token.
func (h *Handlers) CreateSession(c *gin.Context) {
	var req createSessionRequest
	if c.Request.ContentLength != 0 {
		raw, err := io.ReadAll(c.Request.Body)
		if err == nil && len(raw) > 0 {
			if err := sonic.Unmarshal(raw, &req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session options"})
				return
			}
		}
	}

	sess := h.store.Create(session.CreateOptions{
		Settings:     req.Settings,
		ProxyTarget:  req.ProxyTarget,
		UserAgent:    req.UserAgent,
		ExtraHeaders: req.ExtraHeaders,
	})
	if h.metrics != nil {
		h.metrics.SessionsCreated.Inc()
		h.metrics.SessionsActive.Set(float64(h.store.Stats().Sessions))
	}
	h.logger.Info("session created", zap.String("session_id", sess.ID))
	c.JSON(http.StatusCreated, sess)
}

// GetSession returns a session snapshot.
func (h *Handlers) GetSession(c *gin.Context) {
	sess, ok := h.store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, sess)
}

type updateSessionRequest struct {
	Settings     *session.Settings `json:"settings,omitempty"`
	ProxyTarget  *string           `json:"proxy_target,omitempty"`
	UserAgent    *string           `json:"user_agent,omitempty"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`
}

// UpdateSession shallow-merges a patch into the session.
func (h *Handlers) UpdateSession(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	var req updateSessionRequest
	if err := sonic.Unmarshal(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session patch"})
		return
	}
	ok := h.store.Update(c.Param("id"), session.Update{
		Settings:     req.Settings,
		ProxyTarget:  req.ProxyTarget,
		UserAgent:    req.UserAgent,
		ExtraHeaders: req.ExtraHeaders,
	})
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": true})
}

// DeleteSession removes a session.
func (h *Handlers) DeleteSession(c *gin.Context) {
	if !h.store.Delete(c.Param("id")) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	if h.metrics != nil {
		h.metrics.SessionsActive.Set(float64(h.store.Stats().Sessions))
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// SessionStats returns store counters; never cookie or storage values.
func (h *Handlers) SessionStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Stats())
}

// ExportSession serializes a session to its record form.
func (h *Handlers) ExportSession(c *gin.Context) {
	rec, ok := h.store.Export(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	out, err := sonic.Marshal(rec)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", out)
}

// ImportSession installs a session from its record form, minting a
// fresh token when the record carries none.
func (h *Handlers) ImportSession(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	var rec session.Record
	if err := sonic.Unmarshal(raw, &rec); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session record"})
		return
	}
	id, err := h.store.Import(&rec)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

type rewriteRequest struct {
	Content     string `json:"content"`
	ContentType string `json:"content_type"`
	TargetURL   string `json:"target_url"`
	SessionID   string `json:"session_id,omitempty"`
}

// RewriteContent rewrites a body the caller already fetched.
func (h *Handlers) RewriteContent(c *gin.Context) {
	raw, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	var req rewriteRequest
	if err := sonic.Unmarshal(raw, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rewrite request"})
		return
	}
	if req.TargetURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target_url required"})
		return
	}

	out := h.transformer.Rewrite([]byte(req.Content), req.ContentType, content.Context{
		SessionID: req.SessionID,
		TargetURL: req.TargetURL,
	})
	c.JSON(http.StatusOK, gin.H{
		"content":      string(out),
		"content_type": req.ContentType,
	})
}
