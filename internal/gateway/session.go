package gateway

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultSessionTimeout is applied when a gateway is constructed without an
// explicit timeout.
const DefaultSessionTimeout = 30 * time.Minute

// Session is one active client event-stream binding: a random identifier
// the client attaches to its message-endpoint POSTs, the backend-agnostic
// side of §4.6.
type Session struct {
	ID            string
	CreatedAt     time.Time
	LastActivity  time.Time
	ClientName    string
	ClientVersion string
}

func (s *Session) touch() {
	s.LastActivity = time.Now()
}

func (s *Session) idleFor(now time.Time) time.Duration {
	return now.Sub(s.LastActivity)
}

// sessionStore owns the set of active sessions and the periodic sweep that
// evicts ones idle past the configured timeout.
type sessionStore struct {
	timeout time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session

	onEvict func(id string)
}

func newSessionStore(timeout time.Duration, onEvict func(id string)) *sessionStore {
	if timeout <= 0 {
		timeout = DefaultSessionTimeout
	}
	return &sessionStore{timeout: timeout, sessions: make(map[string]*Session), onEvict: onEvict}
}

// create mints a random session identifier, stamps creation and
// last-activity timestamps, and stores it.
func (s *sessionStore) create() *Session {
	now := time.Now()
	sess := &Session{ID: uuid.NewString(), CreatedAt: now, LastActivity: now}
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
	return sess
}

// touch returns the session for id and refreshes its last-activity stamp, the
// "each request with a session id refreshes last-activity" rule.
func (s *sessionStore) touch(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	sess.touch()
	return sess, true
}

func (s *sessionStore) remove(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

func (s *sessionStore) count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// sweepInterval is min(sessionTimeout/2, 60s), per §4.6.
func (s *sessionStore) sweepInterval() time.Duration {
	half := s.timeout / 2
	if half > 60*time.Second {
		return 60 * time.Second
	}
	if half <= 0 {
		return time.Second
	}
	return half
}

// sweep evicts every session whose idle time exceeds the configured
// timeout and invokes onEvict for each.
func (s *sessionStore) sweep() {
	now := time.Now()
	s.mu.Lock()
	var evicted []string
	for id, sess := range s.sessions {
		if sess.idleFor(now) > s.timeout {
			delete(s.sessions, id)
			evicted = append(evicted, id)
		}
	}
	s.mu.Unlock()
	if s.onEvict == nil {
		return
	}
	for _, id := range evicted {
		s.onEvict(id)
	}
}
