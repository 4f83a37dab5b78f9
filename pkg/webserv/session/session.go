// Package session keeps cookie-backed client sessions.
//
// The Store is an explicit object handed to the connection layer; there is
// no package-level state. Sessions live in a bounded LRU and expire after a
// fixed TTL measured from their last visit.
package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/yourusername/webserv/pkg/webserv/http11"
)

// CookieName is the name of the session cookie.
const CookieName = "session_id"

// Session is the state kept for one client.
type Session struct {
	ID        string
	Created   time.Time
	LastVisit time.Time
	Visits    int
}

// Store is a bounded, expiring session table. Safe for concurrent use.
type Store struct {
	cache *expirable.LRU[string, *Session]
	now   func() time.Time
}

// NewStore creates a store holding at most capacity sessions, each
// expiring ttl after its last visit.
func NewStore(capacity int, ttl time.Duration) *Store {
	return &Store{
		cache: expirable.NewLRU[string, *Session](capacity, nil, ttl),
		now:   time.Now,
	}
}

// Touch records a visit for the session named by the request's cookie.
// When the request carries no valid session a new one is created and
// isNew is true; the caller must then send SetCookie(sess.ID).
func (s *Store) Touch(req *http11.Request) (sess *Session, isNew bool) {
	now := s.now()
	if id, ok := req.Cookie(CookieName); ok {
		if _, err := uuid.Parse(id); err == nil {
			if sess, ok := s.Lookup(id); ok {
				sess.Visits++
				sess.LastVisit = now
				// Re-adding refreshes the expiry.
				s.cache.Add(id, sess)
				return sess, false
			}
		}
	}

	sess = &Session{
		ID:        uuid.NewString(),
		Created:   now,
		LastVisit: now,
		Visits:    1,
	}
	s.cache.Add(sess.ID, sess)
	return sess, true
}

// Lookup returns the live session with the given id.
func (s *Store) Lookup(id string) (*Session, bool) {
	return s.cache.Get(id)
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	return s.cache.Len()
}

// SetCookie returns the Set-Cookie header value for a session id.
func SetCookie(id string) string {
	return CookieName + "=" + id + "; Path=/; HttpOnly"
}

// Apply adds a Set-Cookie header to successful responses for clients
// that do not hold a live session yet.
func (s *Store) Apply(req *http11.Request, resp *http11.Response) {
	if s == nil || req == nil || resp.Status < 200 || resp.Status >= 300 {
		return
	}
	sess, isNew := s.Touch(req)
	if isNew {
		resp.Header.Add(http11.HeaderSetCookie, SetCookie(sess.ID))
	}
}
