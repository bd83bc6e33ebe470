package session

import (
	"errors"
	"sort"
	"time"
)

// Pair is one ordered key/value entry in an exported record. Maps are
// flattened to sorted pair slices so exports are byte-stable.
type Pair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Record is the lossless wire form of a session.
type Record struct {
	ID           string    `json:"id,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastAccessed time.Time `json:"last_accessed"`

	Cookies        []Cookie `json:"cookies"`
	LocalStorage   []Pair   `json:"local_storage"`
	SessionStorage []Pair   `json:"session_storage"`

	ProxyTarget  string   `json:"proxy_target,omitempty"`
	UserAgent    string   `json:"user_agent,omitempty"`
	ExtraHeaders []Pair   `json:"extra_headers"`
	Settings     Settings `json:"settings"`
}

// Export serializes the session to its record form.
func (s *MemoryStore) Export(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}

	rec := &Record{
		ID:             sess.ID,
		CreatedAt:      sess.CreatedAt,
		LastAccessed:   sess.LastAccessed,
		Cookies:        make([]Cookie, 0, len(sess.Cookies)),
		LocalStorage:   pairs(sess.LocalStorage),
		SessionStorage: pairs(sess.SessionStorage),
		ProxyTarget:    sess.ProxyTarget,
		UserAgent:      sess.UserAgent,
		ExtraHeaders:   pairs(sess.ExtraHeaders),
		Settings:       sess.Settings,
	}
	for _, c := range sess.Cookies {
		rec.Cookies = append(rec.Cookies, *c)
	}
	sort.Slice(rec.Cookies, func(i, j int) bool {
		return rec.Cookies[i].Name < rec.Cookies[j].Name
	})
	return rec, true
}

// Import installs a session from its record form. A record without an id
// gets a fresh token. Importing over an existing id replaces it.
func (s *MemoryStore) Import(rec *Record) (string, error) {
	if rec == nil {
		return "", errors.New("session: nil record")
	}

	now := time.Now()
	sess := &Session{
		ID:             rec.ID,
		CreatedAt:      rec.CreatedAt,
		LastAccessed:   now,
		Cookies:        make(map[string]*Cookie, len(rec.Cookies)),
		LocalStorage:   fromPairs(rec.LocalStorage),
		SessionStorage: fromPairs(rec.SessionStorage),
		ProxyTarget:    rec.ProxyTarget,
		UserAgent:      rec.UserAgent,
		ExtraHeaders:   fromPairs(rec.ExtraHeaders),
		Settings:       rec.Settings,
	}
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = now
	}
	for i := range rec.Cookies {
		c := rec.Cookies[i]
		sess.Cookies[c.Name] = &c
	}

	s.mu.Lock()
	if sess.ID == "" {
		sess.ID = newUniqueTokenLocked(s.sessions)
	}
	s.sessions[sess.ID] = sess
	s.sweepLocked(now)
	s.mu.Unlock()

	return sess.ID, nil
}

func pairs(m map[string]string) []Pair {
	out := make([]Pair, 0, len(m))
	for k, v := range m {
		out = append(out, Pair{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func fromPairs(in []Pair) map[string]string {
	out := make(map[string]string, len(in))
	for _, p := range in {
		out[p.Key] = p.Value
	}
	return out
}
