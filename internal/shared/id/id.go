// Package id provides centralized ID generation for the proxy.
//
// Two kinds of identifiers live here:
//   - Prefixed ULIDs for request correlation (req_*): lexicographically
//     sortable, cheap, readable in logs.
//   - Session tokens: opaque crypto/rand values. ULIDs carry only 80 bits
//     of entropy, which is not enough for an unguessable bearer token, so
//     sessions get 192 random bits encoded as URL-safe base64.
package id

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// RequestID identifies one proxied exchange in logs and traces.
type RequestID string

// SessionToken identifies a client session. Treat as a bearer credential.
type SessionToken string

const (
	requestPrefix = "req"

	// sessionTokenBytes yields 192 bits of entropy per token.
	sessionTokenBytes = 24
)

// Generator generates prefixed ULIDs.
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance.
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a ULID generator backed by crypto/rand.
func NewGenerator() *Generator {
	return &Generator{entropy: rand.Reader}
}

// NewGeneratorWithEntropy creates a generator with a custom entropy source.
// Useful for testing with deterministic entropy.
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{entropy: entropy}
}

// Generate creates a new ULID.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	return ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
}

// GenerateWithPrefix creates a prefixed ULID string.
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.Generate().String())
}

// NewRequestID generates a new request correlation ID.
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(requestPrefix))
}

// NewSessionToken generates an unguessable session token.
func NewSessionToken() SessionToken {
	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand never fails on supported platforms; a broken
		// entropy source is unrecoverable for a credential generator.
		panic(fmt.Sprintf("id: entropy source failed: %v", err))
	}
	return SessionToken(base64.RawURLEncoding.EncodeToString(buf))
}

func (id RequestID) String() string { return string(id) }
func (tok SessionToken) String() string { return string(tok) }

// IsValid checks whether an ID string is a prefixed ULID.
func IsValid(raw string) bool {
	if len(raw) < 5 || raw[3] != '_' {
		return false
	}
	_, err := ulid.Parse(raw[4:])
	return err == nil
}

// Timestamp extracts the creation time from a prefixed ULID.
func Timestamp(raw string) (time.Time, error) {
	if len(raw) < 5 || raw[3] != '_' {
		return time.Time{}, fmt.Errorf("id: %q is not a prefixed ULID", raw)
	}
	parsed, err := ulid.Parse(raw[4:])
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
