package clinical

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type session struct {
	coord    *Coordinator
	lastUsed time.Time
}

// Sessions holds one Coordinator per open visit session.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*session
	opts     Options
	now      func() time.Time
}

// NewSessions returns an empty session table whose coordinators share opts.
func NewSessions(opts Options) *Sessions {
	return &Sessions{
		sessions: make(map[string]*session),
		opts:     opts,
		now:      time.Now,
	}
}

// Open creates a coordinator for visit and returns its session id.
func (s *Sessions) Open(visit VisitRef) (string, *Coordinator, error) {
	if err := visit.validate(); err != nil {
		return "", nil, err
	}
	id := uuid.NewString()
	coord := NewCoordinator(visit, s.opts)
	s.mu.Lock()
	s.sessions[id] = &session{coord: coord, lastUsed: s.now()}
	s.mu.Unlock()
	return id, coord, nil
}

// Get returns the coordinator of an open session. A session opened under a
// different doctor or clinic is reported as not found.
func (s *Sessions) Get(id string, scope Scope) (*Coordinator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.coord.visit.Scope != scope {
		return nil, ErrSessionNotFound
	}
	sess.lastUsed = s.now()
	return sess.coord, nil
}

// Close drops a session.
func (s *Sessions) Close(id string, scope Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || sess.coord.visit.Scope != scope {
		return ErrSessionNotFound
	}
	delete(s.sessions, id)
	return nil
}

// Sweep closes sessions idle for longer than maxIdle and returns how many it closed.
func (s *Sessions) Sweep(maxIdle time.Duration) int {
	cutoff := s.now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, sess := range s.sessions {
		if sess.lastUsed.Before(cutoff) && !sess.coord.Submitting() {
			delete(s.sessions, id)
			n++
		}
	}
	return n
}

// Len returns the number of open sessions.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
