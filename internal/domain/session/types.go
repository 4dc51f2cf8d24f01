// Package session manages the lifecycle of client-scoped conversational
// state: TTL-bounded records behind a pluggable store, a single service
// facade that owns all mutation, and the background expiry sweeper.
package session

import (
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is the session time-to-live applied when a caller does not
// override it.
const DefaultTTL = 24 * time.Hour

// Session is the unit of client-scoped state. It accumulates conversational
// and tool context in Data across requests until the TTL lapses.
type Session struct {
	// ID is an opaque, globally unique identifier generated at creation.
	// Once a session is deleted its ID is never reused.
	ID string `json:"sessionId"`
	// OwnerID identifies the owning client context. Empty means anonymous.
	OwnerID string `json:"ownerId,omitempty"`
	// Data is the open key-value payload. Partial updates overlay onto it;
	// a nil value in the overlay clears the key.
	Data map[string]any `json:"data"`
	// CreatedAt is when the session was created (UTC).
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is set at creation and on every mutation (UTC).
	UpdatedAt time.Time `json:"updatedAt"`
	// ExpiresAt is the instant after which the session is logically gone.
	// TTL extension always recomputes it from now, never from CreatedAt.
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsExpired reports whether the session's TTL has lapsed.
func (s *Session) IsExpired() bool {
	return time.Now().UTC().After(s.ExpiresAt)
}

// Clone returns a deep copy so callers can never mutate stored state through
// a shared reference.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Data = cloneData(s.Data)
	return &cp
}

// NewID generates a fresh session identifier.
func NewID() string {
	return uuid.New().String()
}

// Merge overlays partial onto base and returns the result. Keys present in
// partial replace those in base; a nil value deletes the key. Neither input
// map is mutated.
func Merge(base, partial map[string]any) map[string]any {
	merged := cloneData(base)
	if merged == nil {
		merged = make(map[string]any, len(partial))
	}
	for k, v := range partial {
		if v == nil {
			delete(merged, k)
			continue
		}
		merged[k] = v
	}
	return merged
}

func cloneData(data map[string]any) map[string]any {
	if data == nil {
		return nil
	}
	cp := make(map[string]any, len(data))
	for k, v := range data {
		cp[k] = v
	}
	return cp
}
