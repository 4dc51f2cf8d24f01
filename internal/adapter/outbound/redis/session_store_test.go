package redis

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/agentrelay/agentrelay/internal/domain/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestStore starts an in-process Redis and a store on top of it. The
// server is torn down with the test.
func newTestStore(t *testing.T) (*SessionStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	store := NewSessionStore(Config{Addr: mr.Addr()}, testLogger())
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

// seedStale writes a record whose payload says it lapsed an hour ago but
// whose key carries no backend TTL, simulating clock skew or a persistence
// restore where Redis has not evicted the key.
func seedStale(t *testing.T, store *SessionStore, mr *miniredis.Miniredis, id, ownerID string) {
	t.Helper()
	now := time.Now().UTC()
	payload, err := json.Marshal(&session.Session{
		ID:        id,
		OwnerID:   ownerID,
		Data:      map[string]any{},
		CreatedAt: now.Add(-2 * time.Hour),
		UpdatedAt: now.Add(-2 * time.Hour),
		ExpiresAt: now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("marshal stale record: %v", err)
	}
	if err := mr.Set(store.key(id), string(payload)); err != nil {
		t.Fatalf("seed stale record: %v", err)
	}
}

func TestKeyPrefix(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		id   string
		want string
	}{
		{name: "default prefix", cfg: Config{Addr: "localhost:6379"}, id: "abc", want: "session:abc"},
		{name: "custom prefix", cfg: Config{Addr: "localhost:6379", KeyPrefix: "relay:sess:"}, id: "abc", want: "relay:sess:abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := NewSessionStore(tt.cfg, nil)
			defer store.Close()
			if got := store.key(tt.id); got != tt.want {
				t.Errorf("key(%q) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestRecordSerialization(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	sess := &session.Session{
		ID:        "s-1",
		OwnerID:   "alice",
		Data:      map[string]any{"topic": "x", "count": float64(3)},
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	}

	payload, err := json.Marshal(sess)
	if err != nil {
		t.Fatalf("marshal error = %v", err)
	}

	// Wire layout uses the documented camelCase member names.
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(payload, &wire); err != nil {
		t.Fatalf("unmarshal to map error = %v", err)
	}
	for _, member := range []string{"sessionId", "ownerId", "data", "createdAt", "updatedAt", "expiresAt"} {
		if _, ok := wire[member]; !ok {
			t.Errorf("serialized record missing member %q", member)
		}
	}

	got, err := decode(payload)
	if err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if got.ID != sess.ID || got.OwnerID != sess.OwnerID {
		t.Errorf("decode() = %+v, want id/owner %s/%s", got, sess.ID, sess.OwnerID)
	}
	if got.Data["topic"] != "x" || got.Data["count"] != float64(3) {
		t.Errorf("decode() Data = %v", got.Data)
	}
	if !got.ExpiresAt.Equal(sess.ExpiresAt) {
		t.Errorf("decode() ExpiresAt = %v, want %v", got.ExpiresAt, sess.ExpiresAt)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := decode([]byte("not-json")); err == nil {
		t.Error("decode() accepted garbage payload")
	}
}

func TestSessionStore_Ping(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	if err := store.Ping(ctx); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}

	mr.Close()
	if err := store.Ping(ctx); !errors.Is(err, session.ErrStoreUnavailable) {
		t.Errorf("Ping() after server close error = %v, want wrapped ErrStoreUnavailable", err)
	}
}

func TestSessionStore_CreateGetRoundTrip(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	created, err := store.Create(ctx, "alice", map[string]any{"topic": "tides"}, time.Hour)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if created.ID == "" {
		t.Fatal("Create() returned empty ID")
	}

	// The record is written under the prefixed key with a native TTL.
	key := store.key(created.ID)
	if !mr.Exists(key) {
		t.Fatalf("key %q missing after Create()", key)
	}
	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Hour {
		t.Errorf("key TTL = %v, want in (0, 1h]", ttl)
	}

	got, err := store.Get(ctx, created.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.OwnerID != "alice" || got.Data["topic"] != "tides" {
		t.Errorf("Get() = %+v, want alice / topic:tides", got)
	}
}

func TestSessionStore_NativeExpiry(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "", nil, time.Hour)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	mr.FastForward(2 * time.Hour)

	// The backend evicted the key; the read reports plain not-found.
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() after native expiry error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStore_LazyExpiryFallback(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	seedStale(t, store, mr, "stale-1", "alice")

	// The key survived the backend's TTL, so the payload check catches it:
	// expired on first read, physically removed as a side effect.
	if _, err := store.Get(ctx, "stale-1"); !errors.Is(err, session.ErrSessionExpired) {
		t.Fatalf("Get() error = %v, want ErrSessionExpired", err)
	}
	if mr.Exists(store.key("stale-1")) {
		t.Error("stale key still present after lazy-expiry read")
	}
	if _, err := store.Get(ctx, "stale-1"); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("second Get() error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStore_UpdateMergesAndRenews(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "", map[string]any{"a": float64(1)}, time.Hour)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	updated, err := store.Update(ctx, sess.ID, map[string]any{"b": float64(2)}, 2*time.Hour)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated.Data["a"] != float64(1) || updated.Data["b"] != float64(2) {
		t.Errorf("Update() Data = %v, want {a:1 b:2}", updated.Data)
	}
	if ttl := mr.TTL(store.key(sess.ID)); ttl <= time.Hour {
		t.Errorf("key TTL after renewal = %v, want > 1h", ttl)
	}

	// Zero ttl preserves the remaining backend expiry.
	if _, err := store.Update(ctx, sess.ID, map[string]any{"c": float64(3)}, 0); err != nil {
		t.Fatalf("Update(ttl=0) error = %v", err)
	}
	if ttl := mr.TTL(store.key(sess.ID)); ttl <= time.Hour {
		t.Errorf("key TTL after data-only update = %v, want > 1h", ttl)
	}

	if _, err := store.Update(ctx, "ghost", map[string]any{"a": 1}, 0); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Update() unknown id error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStore_DeleteIdempotence(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	sess, err := store.Create(ctx, "", nil, time.Hour)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	deleted, err := store.Delete(ctx, sess.ID)
	if err != nil || !deleted {
		t.Fatalf("Delete() = (%v, %v), want (true, nil)", deleted, err)
	}
	deleted, err = store.Delete(ctx, sess.ID)
	if err != nil || deleted {
		t.Fatalf("second Delete() = (%v, %v), want (false, nil)", deleted, err)
	}
	if _, err := store.Get(ctx, sess.ID); !errors.Is(err, session.ErrSessionNotFound) {
		t.Errorf("Get() after Delete() error = %v, want ErrSessionNotFound", err)
	}
}

func TestSessionStore_ListByOwner(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	a1, _ := store.Create(ctx, "alice", nil, time.Hour)
	a2, _ := store.Create(ctx, "alice", nil, time.Hour)
	_, _ = store.Create(ctx, "bob", nil, time.Hour)
	seedStale(t, store, mr, "stale-alice", "alice")

	got, err := store.ListByOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("ListByOwner() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("ListByOwner() returned %d sessions, want 2 (stale record filtered)", len(got))
	}
	ids := map[string]bool{got[0].ID: true, got[1].ID: true}
	if !ids[a1.ID] || !ids[a2.ID] {
		t.Errorf("ListByOwner() ids = %v, want %s and %s", ids, a1.ID, a2.ID)
	}
}

func TestSessionStore_SweepExpired(t *testing.T) {
	store, mr := newTestStore(t)
	ctx := context.Background()

	seedStale(t, store, mr, "stale-1", "alice")
	seedStale(t, store, mr, "stale-2", "bob")
	live, err := store.Create(ctx, "carol", nil, time.Hour)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	removed, err := store.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("SweepExpired() = %d, want 2", removed)
	}
	if mr.Exists(store.key("stale-1")) || mr.Exists(store.key("stale-2")) {
		t.Error("stale keys still present after sweep")
	}
	if _, err := store.Get(ctx, live.ID); err != nil {
		t.Errorf("live session missing after sweep: %v", err)
	}
}
