// Package transport defines the seam to the network engine that
// performs the real origin fetches and WebSocket tunnels. The rewrite
// core never dials; it consumes these interfaces. A resty-backed
// reference implementation ships here so the server binary runs
// end-to-end without an external engine.
package transport

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// RequestMeta carries the client request metadata forwarded upstream.
type RequestMeta struct {
	Method string
	Header http.Header
	Body   []byte
}

// Result is an origin response, fully fetched.
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Engine is the external fetch/tunnel collaborator.
type Engine interface {
	// Fetch performs the HTTP exchange with the origin.
	Fetch(ctx context.Context, targetURL string, meta RequestMeta) (*Result, error)
	// Upgrade opens a WebSocket to the origin and pipes frames both
	// ways between it and the already-upgraded client connection until
	// either side closes.
	Upgrade(ctx context.Context, targetURL string, client *websocket.Conn) error
}

// Codec obfuscates the url query parameter on the wire. The rewrite
// core always works with plain absolute URLs and applies the codec only
// at the HTTP boundary.
type Codec interface {
	Encode(plainURL string) string
	Decode(wireURL string) (string, error)
}

// IdentityCodec passes URLs through unchanged.
type IdentityCodec struct{}

func (IdentityCodec) Encode(plainURL string) string { return plainURL }

func (IdentityCodec) Decode(wireURL string) (string, error) { return wireURL, nil }
