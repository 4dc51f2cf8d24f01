package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Config holds session service configuration.
type Config struct {
	// TTL is the default session time-to-live. Default: 24 hours.
	TTL time.Duration
}

// Service is the single authoritative facade over one store instance. It is
// constructed explicitly at process start and injected into the dispatcher;
// no other component writes session state.
type Service struct {
	store  Store
	ttl    time.Duration
	logger *slog.Logger
}

// NewService creates a Service wrapping the given store.
func NewService(store Store, cfg Config, logger *slog.Logger) *Service {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, ttl: ttl, logger: logger}
}

// DefaultTTL returns the service's configured default time-to-live.
func (s *Service) DefaultTTL() time.Duration {
	return s.ttl
}

// Create starts a new session for ownerID with the given initial data.
// A zero ttl applies the configured default.
func (s *Service) Create(ctx context.Context, ownerID string, data map[string]any, ttl time.Duration) (*Session, error) {
	if ttl == 0 {
		ttl = s.ttl
	}
	sess, err := s.store.Create(ctx, ownerID, data, ttl)
	if err != nil {
		return nil, s.classify("create", err)
	}
	s.logger.Debug("session created", "session_id", sess.ID, "owner_id", ownerID, "ttl", ttl)
	return sess, nil
}

// Get retrieves a live session. Expired or unknown ids yield
// ErrSessionNotFound; the lazy-expiry removal happens in the store.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, s.classify("get", err)
	}
	return sess, nil
}

// Update merges data onto the session. A positive ttl also renews the
// expiry from now.
func (s *Service) Update(ctx context.Context, id string, data map[string]any, ttl time.Duration) (*Session, error) {
	sess, err := s.store.Update(ctx, id, data, ttl)
	if err != nil {
		return nil, s.classify("update", err)
	}
	return sess, nil
}

// Extend renews the session's expiry from now without touching its data.
func (s *Service) Extend(ctx context.Context, id string, ttl time.Duration) (*Session, error) {
	if ttl == 0 {
		ttl = s.ttl
	}
	sess, err := s.store.Update(ctx, id, nil, ttl)
	if err != nil {
		return nil, s.classify("extend", err)
	}
	return sess, nil
}

// Touch renews the session's expiry on successful handler completion. The
// renewal is the larger of the default TTL and the time already remaining,
// so an implicit touch never truncates a session created with an explicitly
// longer lease.
func (s *Service) Touch(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	ttl := s.ttl
	if remaining := time.Until(sess.ExpiresAt); remaining > ttl {
		ttl = remaining
	}
	_, err = s.Extend(ctx, id, ttl)
	return err
}

// Delete terminates a session. Deleting an absent session returns false.
func (s *Service) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := s.store.Delete(ctx, id)
	if err != nil {
		return false, s.classify("delete", err)
	}
	if deleted {
		s.logger.Debug("session deleted", "session_id", id)
	}
	return deleted, nil
}

// ListByOwner enumerates the live sessions owned by ownerID.
func (s *Service) ListByOwner(ctx context.Context, ownerID string) ([]*Session, error) {
	sessions, err := s.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, s.classify("list", err)
	}
	return sessions, nil
}

// IsValid reports whether id resolves to a live, unexpired session. The
// check re-validates against the store on every call; it is never cached.
func (s *Service) IsValid(ctx context.Context, id string) bool {
	sess, err := s.Get(ctx, id)
	return err == nil && !sess.IsExpired()
}

// classify re-classifies store failures at the service boundary: not-found
// (including the expired flavor) passes through as-is, everything else
// surfaces as an infrastructure error.
func (s *Service) classify(op string, err error) error {
	if errors.Is(err, ErrSessionNotFound) {
		return err
	}
	if errors.Is(err, ErrStoreUnavailable) {
		return fmt.Errorf("session %s: %w", op, err)
	}
	return fmt.Errorf("session %s: %v: %w", op, err, ErrStoreUnavailable)
}
