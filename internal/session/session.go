package session

import (
	"strings"
	"time"
)

// Cookie is one entry in a session's jar, stored verbatim as received
// from the origin.
type Cookie struct {
	Name     string     `json:"name"`
	Value    string     `json:"value"`
	Domain   string     `json:"domain"`
	Path     string     `json:"path"`
	Expires  *time.Time `json:"expires,omitempty"`
	HTTPOnly bool       `json:"http_only"`
	Secure   bool       `json:"secure"`
	SameSite string     `json:"same_site,omitempty"`
}

// Matches reports whether the cookie applies to a (domain, path) query:
// the cookie's domain must be a suffix of the query domain and its path
// a prefix of the query path. Expired cookies never match.
func (c *Cookie) Matches(domain, path string, now time.Time) bool {
	if c.Expires != nil && c.Expires.Before(now) {
		return false
	}
	if c.Domain != "" {
		d := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
		qd := strings.ToLower(domain)
		if qd != d && !strings.HasSuffix(qd, "."+d) {
			return false
		}
	}
	if c.Path != "" && !strings.HasPrefix(path, c.Path) {
		return false
	}
	return true
}

// Settings are the per-session feature toggles honored by the content
// transformer and the standard middleware.
type Settings struct {
	EnableJavaScript   bool `json:"enable_javascript"`
	EnableCookies      bool `json:"enable_cookies"`
	EnableLocalStorage bool `json:"enable_local_storage"`
	EnableWebSockets   bool `json:"enable_websockets"`
}

// DefaultSettings enables everything.
func DefaultSettings() Settings {
	return Settings{
		EnableJavaScript:   true,
		EnableCookies:      true,
		EnableLocalStorage: true,
		EnableWebSockets:   true,
	}
}

// Session is the server-held surrogate for one client's browsing state.
// The store owns the canonical instance; lookups hand out deep copies so
// concurrent exchanges never share the underlying maps.
type Session struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`

	Cookies        map[string]*Cookie `json:"cookies"`
	LocalStorage   map[string]string  `json:"local_storage"`
	SessionStorage map[string]string  `json:"session_storage"`

	// ProxyTarget optionally overrides the upstream relay for this client.
	ProxyTarget  string            `json:"proxy_target,omitempty"`
	UserAgent    string            `json:"user_agent,omitempty"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`

	Settings Settings `json:"settings"`
}

// clone returns a deep copy safe to hand outside the store's lock.
func (s *Session) clone() *Session {
	out := *s
	out.Cookies = make(map[string]*Cookie, len(s.Cookies))
	for name, c := range s.Cookies {
		cc := *c
		out.Cookies[name] = &cc
	}
	out.LocalStorage = copyStringMap(s.LocalStorage)
	out.SessionStorage = copyStringMap(s.SessionStorage)
	out.ExtraHeaders = copyStringMap(s.ExtraHeaders)
	return &out
}

func copyStringMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// CreateOptions seed a new session. Zero values fall back to defaults.
type CreateOptions struct {
	Settings     *Settings
	ProxyTarget  string
	UserAgent    string
	ExtraHeaders map[string]string
}

// Update is a shallow patch applied to an existing session. Nil fields
// are left untouched; ExtraHeaders entries merge over existing keys.
type Update struct {
	Settings     *Settings
	ProxyTarget  *string
	UserAgent    *string
	ExtraHeaders map[string]string
}

// Summary describes one session for stats output. It carries counts and
// timestamps only, never cookie or storage values.
type Summary struct {
	ID             string    `json:"id"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessed   time.Time `json:"last_accessed"`
	CookieCount    int       `json:"cookie_count"`
	LocalStorage   int       `json:"local_storage_keys"`
	SessionStorage int       `json:"session_storage_keys"`
}

// Stats is the store-level snapshot returned by Store.Stats.
type Stats struct {
	Sessions    int           `json:"sessions"`
	MaxSessions int           `json:"max_sessions"`
	Timeout     time.Duration `json:"timeout"`
	Summaries   []Summary     `json:"summaries"`
}
