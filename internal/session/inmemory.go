package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memorySession struct {
	turns     []Turn
	expiresAt time.Time
}

// InMemory is a process-local session store with TTL-based expiry. Expired
// sessions are removed by Sweep, which the server runs on a schedule.
type InMemory struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	limit    int
	ttl      time.Duration
	now      func() time.Time
}

func NewInMemory(limit int, ttl time.Duration) *InMemory {
	if limit <= 0 {
		limit = 10
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &InMemory{
		sessions: make(map[string]*memorySession),
		limit:    limit,
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *InMemory) EnsureSession(_ context.Context, id string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id != "" {
		if sess, ok := s.sessions[id]; ok && sess.expiresAt.After(s.now()) {
			sess.expiresAt = s.now().Add(s.ttl)
			return id, nil
		}
	}
	newID := uuid.NewString()
	s.sessions[newID] = &memorySession{expiresAt: s.now().Add(s.ttl)}
	return newID, nil
}

func (s *InMemory) Append(_ context.Context, sessionID string, turns ...Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &memorySession{}
		s.sessions[sessionID] = sess
	}
	sess.turns = append(sess.turns, turns...)
	if len(sess.turns) > s.limit {
		sess.turns = sess.turns[len(sess.turns)-s.limit:]
	}
	sess.expiresAt = s.now().Add(s.ttl)
	return nil
}

func (s *InMemory) Recent(_ context.Context, sessionID string, n int) ([]Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	turns := sess.turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Sweep removes expired sessions and reports how many were dropped.
func (s *InMemory) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, sess := range s.sessions {
		if sess.expiresAt.Before(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}
