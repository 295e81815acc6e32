// Package localserver hosts the clean-room solving page and tracks the
// sessions it creates.
package localserver

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/turnstile-solver-go/internal/metrics"
	"github.com/Rorqualx/turnstile-solver-go/internal/stats"
	"github.com/Rorqualx/turnstile-solver-go/internal/types"
)

// Status is a session's lifecycle state. It only moves forward.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusCompleted Status = "completed"
)

// Session is one solving attempt served by /solve.
type Session struct {
	ID          string     `json:"id"`
	Sitekey     string     `json:"sitekey"`
	URL         string     `json:"url"`
	Action      string     `json:"action"`
	CData       string     `json:"cdata"`
	Status      Status     `json:"status"`
	Token       *string    `json:"token"`
	CreatedAt   time.Time  `json:"created_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

// Completed reports whether a token has arrived.
func (s Session) Completed() bool {
	return s.Status == StatusCompleted
}

// TokenValue returns the token, or "" while waiting.
func (s Session) TokenValue() string {
	if s.Token == nil {
		return ""
	}
	return *s.Token
}

// SessionRequest carries the /solve parameters echoed into a session.
type SessionRequest struct {
	Sitekey string
	URL     string
	Action  string
	CData   string
}

// Store is the in-memory session table. It is safe for concurrent use by the
// HTTP handlers and pollers.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	domains  *stats.Tracker
	now      func() time.Time
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
		domains:  stats.NewTracker(stats.DefaultMaxDomains),
		now:      time.Now,
	}
}

// Create registers a new waiting session with a fresh random id.
func (s *Store) Create(req SessionRequest) Session {
	sess := &Session{
		ID:        uuid.NewString(),
		Sitekey:   req.Sitekey,
		URL:       req.URL,
		Action:    req.Action,
		CData:     req.CData,
		Status:    StatusWaiting,
		CreatedAt: s.now(),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	n := len(s.sessions)
	s.mu.Unlock()

	metrics.UpdateSessionMetrics(n)
	s.domains.RecordSession(req.URL)
	return *sess
}

// Get returns a copy of the session.
func (s *Store) Get(id string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// Complete stores token on a waiting session. The first token wins: a later
// call for a completed session leaves it untouched and returns accepted=false.
func (s *Store) Complete(id, token string) (sess Session, accepted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.sessions[id]
	if !ok {
		return Session{}, false, types.ErrSessionNotFound
	}
	if cur.Status == StatusCompleted {
		return *cur, false, nil
	}

	now := s.now()
	tok := token
	cur.Token = &tok
	cur.Status = StatusCompleted
	cur.CompletedAt = &now
	s.domains.RecordToken(cur.URL, now.Sub(cur.CreatedAt))
	return *cur, true, nil
}

// All returns every session, oldest first.
func (s *Store) All() []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, *sess)
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// DomainStats returns per-domain session outcomes, busiest first. Counts
// outlive the sessions themselves.
func (s *Store) DomainStats() []stats.DomainStats {
	return s.domains.All()
}

// Len returns the number of sessions held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Cleanup removes sessions created more than maxAge ago and returns how many
// were removed. It runs on demand; nothing schedules it.
func (s *Store) Cleanup(maxAge time.Duration) int {
	cutoff := s.now().Add(-maxAge)

	s.mu.Lock()
	removed := 0
	for id, sess := range s.sessions {
		if sess.CreatedAt.Before(cutoff) {
			if !sess.Completed() {
				s.domains.RecordExpired(sess.URL)
			}
			delete(s.sessions, id)
			removed++
		}
	}
	n := len(s.sessions)
	s.mu.Unlock()

	if removed > 0 {
		log.Info().Int("removed", removed).Int("remaining", n).Msg("Cleaned up old sessions")
	}
	metrics.UpdateSessionMetrics(n)
	return removed
}
