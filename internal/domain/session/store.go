package session

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when a session does not exist or has
// expired. A deleted session is indistinguishable from one that never
// existed.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionExpired is returned by the lazy-expiry read path when a read
// discovers a stored-but-lapsed record and removes it. It wraps
// ErrSessionNotFound, so callers matching on not-found treat both the
// same; the dispatcher reports the finer classification while it lasts.
// Once the record is gone, later reads see plain ErrSessionNotFound.
var ErrSessionExpired = fmt.Errorf("session expired: %w", ErrSessionNotFound)

// ErrStoreUnavailable marks store-level I/O failures that are not
// attributable to caller input. Backends wrap it so the service layer can
// classify infrastructure errors without leaking backend-specific shapes.
var ErrStoreUnavailable = errors.New("session store unavailable")

// Store is the persistence contract every session backend satisfies.
// Implementations: in-memory map (process lifetime) and Redis (networked,
// native per-key expiry).
type Store interface {
	// Create generates a fresh unique identifier and persists the record.
	// The write is atomic relative to that identifier: concurrent readers
	// never observe a partial record. A ttl of zero applies DefaultTTL.
	Create(ctx context.Context, ownerID string, data map[string]any, ttl time.Duration) (*Session, error)

	// Get retrieves a session by ID with lazy expiry: a record whose
	// ExpiresAt has passed is deleted as a side effect and reported as
	// ErrSessionExpired; an id with no record is ErrSessionNotFound.
	Get(ctx context.Context, id string) (*Session, error)

	// Update overlays data onto the stored record (read-merge-write,
	// last-write-wins; concurrent updates to the same session may lose
	// writes). A positive ttl also renews ExpiresAt from now.
	Update(ctx context.Context, id string, data map[string]any, ttl time.Duration) (*Session, error)

	// Delete removes a session. It is idempotent: deleting an absent or
	// already-deleted id returns false, never an error.
	Delete(ctx context.Context, id string) (bool, error)

	// ListByOwner returns all live sessions belonging to ownerID.
	ListByOwner(ctx context.Context, ownerID string) ([]*Session, error)

	// SweepExpired scans for lapsed sessions and removes them, skipping
	// individual item failures without aborting the scan. It returns the
	// number of sessions removed.
	SweepExpired(ctx context.Context) (int, error)
}
