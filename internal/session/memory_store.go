package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. With a positive idle TTL, sessions untouched
// for longer than the TTL are dropped by a background sweeper.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[UserID]*Session
	ttl      time.Duration
	now      func() time.Time

	stop chan struct{}
	done chan struct{}
}

// NewMemoryStore creates a store; ttl <= 0 disables expiry.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	s := &MemoryStore{
		sessions: make(map[UserID]*Session),
		ttl:      ttl,
		now:      time.Now,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	if ttl <= 0 {
		close(s.done)
		return s
	}
	go func() {
		defer close(s.done)
		interval := ttl / 2
		if interval < time.Second {
			interval = time.Second
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Sweep()
			case <-s.stop:
				return
			}
		}
	}()
	return s
}

func (s *MemoryStore) Get(_ context.Context, id UserID) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[id]
	if !ok || s.expired(sess) {
		return New(), nil
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) Set(_ context.Context, id UserID, sess *Session) error {
	c := sess.Clone()
	c.UpdatedAt = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[id] = c
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, id UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Len returns the number of stored sessions.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Sweep drops expired sessions and returns how many were removed.
func (s *MemoryStore) Sweep() int {
	if s.ttl <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, sess := range s.sessions {
		if s.expired(sess) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) expired(sess *Session) bool {
	return s.ttl > 0 && s.now().Sub(sess.UpdatedAt) > s.ttl
}

// Close stops the sweeper.
func (s *MemoryStore) Close() error {
	select {
	case <-s.stop:
	default:
		close(s.stop)
	}
	<-s.done
	return nil
}
