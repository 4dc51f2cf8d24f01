// Package transport binds session identifiers to live channel handles.
// Bindings are strictly process-local: a streaming affinity only holds
// within the process that created it, and nothing here is persisted.
package transport

import (
	"log/slog"
	"sync"
)

// Kind identifies a channel type. At most one live binding exists per
// (session id, kind) pair.
type Kind string

const (
	// KindStream is the server-push HTTP streaming channel (SSE).
	KindStream Kind = "stream"
	// KindPipe is the line-oriented process-pipe channel (stdio).
	KindPipe Kind = "pipe"
)

// Handle is a live channel endpoint. Close must be safe to call more than
// once; the registry closes handles it evicts or tears down.
type Handle interface {
	Close() error
}

type bindingKey struct {
	sessionID string
	kind      Kind
}

// Registry maintains the in-process map from session id to transport
// handle, keyed per channel kind. It is mutated only by the dispatcher's
// session-resolution step and by disconnect callbacks.
type Registry struct {
	mu       sync.Mutex
	bindings map[bindingKey]Handle
	logger   *slog.Logger
	onChange func(kind Kind, delta int) // optional metrics hook
}

// Option is a functional option for configuring the Registry.
type Option func(*Registry)

// WithLogger sets the registry logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// WithChangeHook installs a callback invoked with +1/-1 whenever a binding
// for the given kind is added or removed. Used to drive the active-bindings
// gauge.
func WithChangeHook(hook func(kind Kind, delta int)) Option {
	return func(r *Registry) {
		r.onChange = hook
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		bindings: make(map[bindingKey]Handle),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Bind associates handle with (sessionID, kind). An existing binding for
// the same pair is evicted: closed, logged, and replaced. The two bindings
// never coexist.
func (r *Registry) Bind(sessionID string, kind Kind, handle Handle) {
	key := bindingKey{sessionID: sessionID, kind: kind}

	r.mu.Lock()
	prior, evicting := r.bindings[key]
	r.bindings[key] = handle
	r.mu.Unlock()

	if evicting {
		r.logger.Info("evicted prior transport binding",
			"session_id", sessionID,
			"kind", string(kind),
		)
		_ = prior.Close()
		return
	}
	if r.onChange != nil {
		r.onChange(kind, +1)
	}
}

// Unbind removes the binding for (sessionID, kind) and closes its handle.
// Idempotent: unbinding an absent pair is a no-op.
func (r *Registry) Unbind(sessionID string, kind Kind) {
	key := bindingKey{sessionID: sessionID, kind: kind}

	r.mu.Lock()
	handle, ok := r.bindings[key]
	if ok {
		delete(r.bindings, key)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	_ = handle.Close()
	if r.onChange != nil {
		r.onChange(kind, -1)
	}
}

// UnbindHandle removes the binding for (sessionID, kind) only while handle
// is still the bound one, and closes it. A handle that was already evicted
// leaves its successor's binding untouched. Idempotent.
func (r *Registry) UnbindHandle(sessionID string, kind Kind, handle Handle) {
	key := bindingKey{sessionID: sessionID, kind: kind}

	r.mu.Lock()
	current, ok := r.bindings[key]
	if ok && current == handle {
		delete(r.bindings, key)
	} else {
		ok = false
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	_ = handle.Close()
	if r.onChange != nil {
		r.onChange(kind, -1)
	}
}

// Active returns the live handle for (sessionID, kind), or nil when none is
// bound.
func (r *Registry) Active(sessionID string, kind Kind) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bindings[bindingKey{sessionID: sessionID, kind: kind}]
}

// CloseSession removes and closes every binding for sessionID across all
// channel kinds. Called when a session is terminated or deleted.
func (r *Registry) CloseSession(sessionID string) {
	r.mu.Lock()
	var closing []Handle
	var kinds []Kind
	for key, handle := range r.bindings {
		if key.sessionID == sessionID {
			closing = append(closing, handle)
			kinds = append(kinds, key.kind)
			delete(r.bindings, key)
		}
	}
	r.mu.Unlock()

	for i, handle := range closing {
		_ = handle.Close()
		if r.onChange != nil {
			r.onChange(kinds[i], -1)
		}
	}
}

// CloseAll removes and closes every binding. Called at shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	closing := make([]Handle, 0, len(r.bindings))
	kinds := make([]Kind, 0, len(r.bindings))
	for key, handle := range r.bindings {
		closing = append(closing, handle)
		kinds = append(kinds, key.kind)
	}
	r.bindings = make(map[bindingKey]Handle)
	r.mu.Unlock()

	for i, handle := range closing {
		_ = handle.Close()
		if r.onChange != nil {
			r.onChange(kinds[i], -1)
		}
	}
}

// Len returns the number of live bindings. Used by tests and health checks.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.bindings)
}
