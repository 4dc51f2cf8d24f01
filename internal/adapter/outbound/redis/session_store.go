// Package redis provides the networked session store backend. Records are
// serialized as single JSON string values with Redis-native per-key expiry,
// so physical removal of lapsed sessions is delegated to the backend and
// survives process restarts on a best-effort, TTL-bounded basis.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/agentrelay/agentrelay/internal/domain/session"
)

// DefaultKeyPrefix is prepended to session ids to form Redis keys.
const DefaultKeyPrefix = "session:"

// scanBatch is the COUNT hint passed to SCAN during owner listing and sweeps.
const scanBatch = 100

// Config holds the Redis backend configuration.
type Config struct {
	// Addr is the host:port of the Redis server.
	Addr string
	// Password is optional; empty means no AUTH.
	Password string
	// DB selects the logical database.
	DB int
	// KeyPrefix overrides DefaultKeyPrefix when non-empty.
	KeyPrefix string
}

// SessionStore implements session.Store on a Redis backend.
type SessionStore struct {
	client *redis.Client
	prefix string
	logger *slog.Logger
}

// NewSessionStore creates a Redis-backed session store. The connection is
// established lazily; Ping verifies reachability at boot.
func NewSessionStore(cfg Config, logger *slog.Logger) *SessionStore {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		client: redis.NewClient(&redis.Options{
			Addr:     cfg.Addr,
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
		prefix: prefix,
		logger: logger,
	}
}

// Ping verifies the backend is reachable. Called once at process start.
func (s *SessionStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %v: %w", err, session.ErrStoreUnavailable)
	}
	return nil
}

// Close releases the client's connection pool.
func (s *SessionStore) Close() error {
	return s.client.Close()
}

func (s *SessionStore) key(id string) string {
	return s.prefix + id
}

// Create generates a fresh identifier and writes the record with the
// backend's native expiry. SET NX makes the write atomic relative to the
// identifier: the key either exists fully or not at all.
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

	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, s.key(sess.ID), payload, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis set: %v: %w", err, session.ErrStoreUnavailable)
	}
	if !ok {
		// A UUID collision would be the only way here.
		return nil, fmt.Errorf("session id %s already exists: %w", sess.ID, session.ErrStoreUnavailable)
	}

	return sess, nil
}

// Get retrieves a session. Redis removes lapsed keys itself; the explicit
// expiry check covers clock skew between this process and the backend.
func (s *SessionStore) Get(ctx context.Context, id string) (*session.Session, error) {
	payload, err := s.client.Get(ctx, s.key(id)).Bytes()
	if err == redis.Nil {
		return nil, session.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %v: %w", err, session.ErrStoreUnavailable)
	}

	sess, err := decode(payload)
	if err != nil {
		return nil, err
	}

	if sess.IsExpired() {
		_, _ = s.Delete(ctx, id)
		return nil, session.ErrSessionExpired
	}

	return sess, nil
}

// Update is read-merge-write with last-write-wins semantics: no WATCH or
// optimistic locking, matching the documented weak consistency point for
// concurrent updates to the same session. A positive ttl renews the expiry
// from now; otherwise the remaining backend TTL is preserved.
func (s *SessionStore) Update(ctx context.Context, id string, data map[string]any, ttl time.Duration) (*session.Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	if data != nil {
		sess.Data = session.Merge(sess.Data, data)
	}
	if ttl > 0 {
		sess.ExpiresAt = now.Add(ttl)
	}
	sess.UpdatedAt = now

	payload, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("marshal session: %w", err)
	}

	expiry := time.Until(sess.ExpiresAt)
	if expiry <= 0 {
		// Raced with expiry between Get and here; treat as gone.
		_, _ = s.Delete(ctx, id)
		return nil, session.ErrSessionExpired
	}

	if err := s.client.Set(ctx, s.key(id), payload, expiry).Err(); err != nil {
		return nil, fmt.Errorf("redis set: %v: %w", err, session.ErrStoreUnavailable)
	}

	return sess, nil
}

// Delete removes a session key. Idempotent.
func (s *SessionStore) Delete(ctx context.Context, id string) (bool, error) {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("redis del: %v: %w", err, session.ErrStoreUnavailable)
	}
	return n > 0, nil
}

// ListByOwner scans the key space and filters by owner. Individual key
// failures (a key expiring mid-scan, a transient read error) are skipped.
func (s *SessionStore) ListByOwner(ctx context.Context, ownerID string) ([]*session.Session, error) {
	var out []*session.Session
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		payload, err := s.client.Get(ctx, iter.Val()).Bytes()
		if err != nil {
			continue
		}
		sess, err := decode(payload)
		if err != nil {
			s.logger.Warn("skipping undecodable session record", "key", iter.Val(), "error", err)
			continue
		}
		if sess.OwnerID == ownerID && !sess.IsExpired() {
			out = append(out, sess)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %v: %w", err, session.ErrStoreUnavailable)
	}
	return out, nil
}

// SweepExpired scans for records whose payload says they have lapsed but
// which the backend has not evicted yet (clock skew, persistence restores).
// Per-key failures are logged and skipped; the scan continues.
func (s *SessionStore) SweepExpired(ctx context.Context) (int, error) {
	removed := 0
	iter := s.client.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		payload, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			if err != redis.Nil {
				s.logger.Warn("sweep: skipping unreadable key", "key", key, "error", err)
			}
			continue
		}
		sess, err := decode(payload)
		if err != nil {
			s.logger.Warn("sweep: skipping undecodable key", "key", key, "error", err)
			continue
		}
		if !sess.IsExpired() {
			continue
		}
		if err := s.client.Del(ctx, key).Err(); err != nil {
			s.logger.Warn("sweep: delete failed", "key", key, "error", err)
			continue
		}
		removed++
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %v: %w", err, session.ErrStoreUnavailable)
	}
	return removed, nil
}

// decode unmarshals a stored payload into a session record.
func decode(payload []byte) (*session.Session, error) {
	var sess session.Session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return nil, fmt.Errorf("unmarshal session: %w", err)
	}
	return &sess, nil
}

// Compile-time interface verification.
var _ session.Store = (*SessionStore)(nil)
