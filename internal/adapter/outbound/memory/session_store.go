// Package memory provides the volatile in-process session store backend.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/internal/domain/session"
)

// SessionStore implements session.Store with a process-local map.
// Thread-safe for concurrent access; survives only for the process lifetime.
// Expiry is enforced lazily on read, with the sweeper as the authoritative
// cleanup path.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*session.Session
}

// NewSessionStore creates an empty in-memory session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*session.Session),
	}
}

// Create generates a fresh identifier and stores the record. The map insert
// happens under the write lock, so concurrent readers never observe a
// partial record.
func (s *SessionStore) Create(ctx context.Context, ownerID string, data map[string]any, ttl time.Duration) (*session.Session, error) {
	if ttl <= 0 {
		ttl = session.DefaultTTL
	}
	now := time.Now().UTC()
	sess := &session.Session{
		ID:        session.NewID(),
		OwnerID:   ownerID,
		Data:      session.Merge(nil, data),
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()

	return sess.Clone(), nil
}

// Get retrieves a session with lazy expiry: an expired record is removed as
// a side effect of the read that discovers it. The expiry check and the
// copy both happen under the lock, because Update mutates records in place.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	var (
		expired bool
		cp      *session.Session
	)
	if ok {
		if sess.IsExpired() {
			expired = true
		} else {
			cp = sess.Clone()
		}
	}
	s.mu.RUnlock()

	if !ok {
		return nil, session.ErrSessionNotFound
	}

	if expired {
		s.mu.Lock()
		// Re-check under the write lock; a concurrent update may have
		// extended the TTL between the two lock acquisitions.
		if cur, ok := s.sessions[id]; ok && cur.IsExpired() {
			delete(s.sessions, id)
		}
		s.mu.Unlock()
		return nil, session.ErrSessionExpired
	}

	return cp, nil
}

// Update merges data onto the stored record and optionally renews the TTL.
// Last-write-wins: concurrent updates to the same session may lose writes.
func (s *SessionStore) Update(ctx context.Context, id string, data map[string]any, ttl time.Duration) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[id]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	if sess.IsExpired() {
		delete(s.sessions, id)
		return nil, session.ErrSessionExpired
	}

	now := time.Now().UTC()
	if data != nil {
		sess.Data = session.Merge(sess.Data, data)
	}
	if ttl > 0 {
		sess.ExpiresAt = now.Add(ttl)
	}
	sess.UpdatedAt = now

	return sess.Clone(), nil
}

// Delete removes a session. Idempotent: absent ids return false, never an
// error.
func (s *SessionStore) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok, nil
}

// ListByOwner returns all live sessions belonging to ownerID.
func (s *SessionStore) ListByOwner(ctx context.Context, ownerID string) ([]*session.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*session.Session
	for _, sess := range s.sessions {
		if sess.OwnerID == ownerID && !sess.IsExpired() {
			out = append(out, sess.Clone())
		}
	}
	return out, nil
}

// SweepExpired removes all lapsed sessions and returns the count.
func (s *SessionStore) SweepExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.IsExpired() {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Size returns the number of records physically present, including records
// whose TTL has lapsed but which no read or sweep has removed yet. Used by
// the health check and by tests.
func (s *SessionStore) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Compile-time interface verification.
var _ session.Store = (*SessionStore)(nil)
