package session

import (
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/webveil/webveil/internal/infrastructure/logging"
	"github.com/webveil/webveil/internal/shared/id"
)

// Store is the session persistence seam. Call sites depend on this
// interface so the in-memory store can be swapped for an externally
// backed one without touching them.
type Store interface {
	Create(opts CreateOptions) *Session
	Get(id string) (*Session, bool)
	Update(id string, patch Update) bool
	Delete(id string) bool

	SetCookie(id string, c Cookie) bool
	Cookies(id, domain, path string) []Cookie

	SetLocalStorage(id, key, value string) bool
	LocalStorage(id, key string) (string, bool)
	SetSessionStorage(id, key, value string) bool
	SessionStorage(id, key string) (string, bool)

	Export(id string) (*Record, bool)
	Import(rec *Record) (string, error)

	Sweep(now time.Time) int
	Stats() Stats
	Close()
}

// Config bounds the in-memory store.
type Config struct {
	MaxSessions   int
	Timeout       time.Duration
	SweepInterval time.Duration

	// EvictionCounter, when set, counts sessions removed by the sweep.
	EvictionCounter prometheus.Counter
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxSessions:   1000,
		Timeout:       30 * time.Minute,
		SweepInterval: time.Minute,
	}
}

// MemoryStore keeps sessions in a mutex-guarded map. Exchanges run in
// parallel goroutines, so every map access goes through the lock; the
// sweep takes the same lock and therefore never reclaims a session out
// from under a running read or mutation.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	cfg      Config
	logger   *logging.Logger

	stop chan struct{}
	done chan struct{}
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a store and starts its sweep timer.
func NewMemoryStore(cfg Config, logger *logging.Logger) *MemoryStore {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = DefaultConfig().MaxSessions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultConfig().SweepInterval
	}
	if logger == nil {
		logger = logging.NewDefault()
	}

	s := &MemoryStore{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.sweepLoop()
	return s
}

// Close stops the sweep timer. The store remains usable afterwards.
func (s *MemoryStore) Close() {
	select {
	case <-s.stop:
	default:
		close(s.stop)
		<-s.done
	}
}

func (s *MemoryStore) sweepLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := s.Sweep(time.Now()); n > 0 {
				s.logger.Debug("session sweep", zap.Int("evicted", n))
			}
		case <-s.stop:
			return
		}
	}
}

// Create installs a new session and runs the eviction sweep.
func (s *MemoryStore) Create(opts CreateOptions) *Session {
	now := time.Now()
	sess := &Session{
		CreatedAt:      now,
		LastAccessed:   now,
		Cookies:        make(map[string]*Cookie),
		LocalStorage:   make(map[string]string),
		SessionStorage: make(map[string]string),
		ProxyTarget:    opts.ProxyTarget,
		UserAgent:      opts.UserAgent,
		ExtraHeaders:   copyStringMap(opts.ExtraHeaders),
		Settings:       DefaultSettings(),
	}
	if opts.Settings != nil {
		sess.Settings = *opts.Settings
	}

	s.mu.Lock()
	sess.ID = newUniqueTokenLocked(s.sessions)
	s.sessions[sess.ID] = sess
	s.sweepLocked(now)
	out := sess.clone()
	s.mu.Unlock()

	return out
}

// newUniqueTokenLocked draws tokens until one misses the map. With
// 192-bit tokens the loop body runs once outside of tests.
func newUniqueTokenLocked(existing map[string]*Session) string {
	for {
		tok := id.NewSessionToken().String()
		if _, ok := existing[tok]; !ok {
			return tok
		}
	}
}

// Get returns a snapshot of the session and slides its expiry window.
func (s *MemoryStore) Get(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.LastAccessed = time.Now()
	return sess.clone(), true
}

// Update shallow-merges patch into the session.
func (s *MemoryStore) Update(id string, patch Update) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	if patch.Settings != nil {
		sess.Settings = *patch.Settings
	}
	if patch.ProxyTarget != nil {
		sess.ProxyTarget = *patch.ProxyTarget
	}
	if patch.UserAgent != nil {
		sess.UserAgent = *patch.UserAgent
	}
	for k, v := range patch.ExtraHeaders {
		if sess.ExtraHeaders == nil {
			sess.ExtraHeaders = make(map[string]string)
		}
		sess.ExtraHeaders[k] = v
	}
	sess.LastAccessed = time.Now()
	return true
}

// Delete removes the session.
func (s *MemoryStore) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	return true
}

// SetCookie stores the cookie verbatim, keyed by name.
func (s *MemoryStore) SetCookie(id string, c Cookie) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	cc := c
	sess.Cookies[c.Name] = &cc
	sess.LastAccessed = time.Now()
	return true
}

// Cookies returns the cookies applying to (domain, path), sorted by name.
func (s *MemoryStore) Cookies(id, domain, path string) []Cookie {
	now := time.Now()
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	var out []Cookie
	for _, c := range sess.Cookies {
		if c.Matches(domain, path, now) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SetLocalStorage sets one key in the localStorage mirror.
func (s *MemoryStore) SetLocalStorage(id, key, value string) bool {
	return s.setStorage(id, key, value, false)
}

// LocalStorage reads one key from the localStorage mirror.
func (s *MemoryStore) LocalStorage(id, key string) (string, bool) {
	return s.storage(id, key, false)
}

// SetSessionStorage sets one key in the sessionStorage mirror.
func (s *MemoryStore) SetSessionStorage(id, key, value string) bool {
	return s.setStorage(id, key, value, true)
}

// SessionStorage reads one key from the sessionStorage mirror.
func (s *MemoryStore) SessionStorage(id, key string) (string, bool) {
	return s.storage(id, key, true)
}

func (s *MemoryStore) setStorage(id, key, value string, sessionScoped bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return false
	}
	if sessionScoped {
		sess.SessionStorage[key] = value
	} else {
		sess.LocalStorage[key] = value
	}
	sess.LastAccessed = time.Now()
	return true
}

func (s *MemoryStore) storage(id, key string, sessionScoped bool) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return "", false
	}
	m := sess.LocalStorage
	if sessionScoped {
		m = sess.SessionStorage
	}
	v, ok := m[key]
	return v, ok
}

// Sweep drops stale sessions first, then trims to capacity by least
// recent access. Staleness before capacity: the two bounds are
// independent and the TTL pass may already bring the store under limit.
func (s *MemoryStore) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

func (s *MemoryStore) sweepLocked(now time.Time) int {
	evicted := 0
	for key, sess := range s.sessions {
		if now.Sub(sess.LastAccessed) > s.cfg.Timeout {
			delete(s.sessions, key)
			evicted++
		}
	}

	if len(s.sessions) > s.cfg.MaxSessions {
		type entry struct {
			id       string
			accessed time.Time
		}
		entries := make([]entry, 0, len(s.sessions))
		for key, sess := range s.sessions {
			entries = append(entries, entry{key, sess.LastAccessed})
		}
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].accessed.Before(entries[j].accessed)
		})
		excess := len(s.sessions) - s.cfg.MaxSessions
		for _, e := range entries[:excess] {
			delete(s.sessions, e.id)
			evicted++
		}
	}
	if evicted > 0 && s.cfg.EvictionCounter != nil {
		s.cfg.EvictionCounter.Add(float64(evicted))
	}
	return evicted
}

// Stats returns store size, limits, and per-session summaries.
func (s *MemoryStore) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st := Stats{
		Sessions:    len(s.sessions),
		MaxSessions: s.cfg.MaxSessions,
		Timeout:     s.cfg.Timeout,
		Summaries:   make([]Summary, 0, len(s.sessions)),
	}
	for _, sess := range s.sessions {
		st.Summaries = append(st.Summaries, Summary{
			ID:             sess.ID,
			CreatedAt:      sess.CreatedAt,
			LastAccessed:   sess.LastAccessed,
			CookieCount:    len(sess.Cookies),
			LocalStorage:   len(sess.LocalStorage),
			SessionStorage: len(sess.SessionStorage),
		})
	}
	sort.Slice(st.Summaries, func(i, j int) bool {
		return st.Summaries[i].CreatedAt.Before(st.Summaries[j].CreatedAt)
	})
	return st
}
