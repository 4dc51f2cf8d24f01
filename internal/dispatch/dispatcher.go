// Package dispatch routes validated request envelopes to method handlers.
// The dispatcher owns session resolution and the fixed method table; it is
// the only component that mutates the transport registry on the request
// path.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/agentrelay/agentrelay/internal/domain/session"
	"github.com/agentrelay/agentrelay/internal/port/outbound"
	"github.com/agentrelay/agentrelay/internal/transport"
	"github.com/agentrelay/agentrelay/pkg/rpc"
)

// DefaultQueryTimeout bounds a single upstream agent call. The upstream is
// a suspension point with a caller-visible timeout, never an unbounded wait.
const DefaultQueryTimeout = 60 * time.Second

// Call carries one request through handler execution. Handlers receive the
// resolved session id and raw parameters only, never a shared mutable
// reference into session state.
type Call struct {
	// SessionID is the resolved session id, or empty when the method needs
	// none. The initialize handler sets it when it creates a session.
	SessionID string
	// Created reports that this call created SessionID.
	Created bool
	// Params is the raw params member of the request envelope.
	Params json.RawMessage
}

// Result is the outcome of dispatching one envelope.
type Result struct {
	// Response is nil for notifications.
	Response *rpc.Response
	// SessionID is the session the call ran under, or empty.
	SessionID string
	// Created reports that the call created SessionID; transports use it to
	// return the new id to the caller.
	Created bool
}

// Handler executes one method.
type Handler func(ctx context.Context, call *Call) (any, error)

type methodEntry struct {
	handler Handler
	// needsSession rejects the call before handler execution when no
	// session id was supplied.
	needsSession bool
	// touches renews the session TTL after successful completion.
	touches bool
}

// Dispatcher validates, resolves, routes, and executes request envelopes
// against a fixed method table built once at construction.
type Dispatcher struct {
	sessions *session.Service
	invoker  outbound.AgentInvoker
	registry *transport.Registry
	logger   *slog.Logger

	serverName    string
	serverVersion string
	queryTimeout  time.Duration
	observer      func(method string, errCode int)

	methods map[string]methodEntry
}

// Option is a functional option for configuring the Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithServerInfo sets the name and version reported by initialize.
func WithServerInfo(name, version string) Option {
	return func(d *Dispatcher) {
		d.serverName = name
		d.serverVersion = version
	}
}

// WithQueryTimeout bounds each upstream agent query.
func WithQueryTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.queryTimeout = timeout
		}
	}
}

// WithObserver installs a callback invoked once per dispatched request with
// the method name and the response error code (0 on success). Used to drive
// request metrics.
func WithObserver(observer func(method string, errCode int)) Option {
	return func(d *Dispatcher) {
		d.observer = observer
	}
}

// NewDispatcher creates a dispatcher over the given service, invoker, and
// registry.
func NewDispatcher(sessions *session.Service, invoker outbound.AgentInvoker, registry *transport.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		sessions:      sessions,
		invoker:       invoker,
		registry:      registry,
		logger:        slog.Default(),
		serverName:    "agentrelay",
		serverVersion: "dev",
		queryTimeout:  DefaultQueryTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}

	d.methods = map[string]methodEntry{
		MethodInitialize:    {handler: d.handleInitialize, touches: true},
		MethodPing:          {handler: d.handlePing},
		MethodSessionUpdate: {handler: d.handleSessionUpdate, needsSession: true},
		MethodSessionExtend: {handler: d.handleSessionExtend, needsSession: true},
		MethodSessionEnd:    {handler: d.handleSessionEnd, needsSession: true},
		MethodSessionList:   {handler: d.handleSessionList},
		MethodAgentList:     {handler: d.handleAgentList},
		MethodAgentDescribe: {handler: d.handleAgentDescribe},
		MethodAgentQuery:    {handler: d.handleAgentQuery, needsSession: true, touches: true},
	}
	return d
}

// Methods returns the names in the routing table.
func (d *Dispatcher) Methods() []string {
	out := make([]string, 0, len(d.methods))
	for name := range d.methods {
		out = append(out, name)
	}
	return out
}

// Dispatch runs one validated request envelope. sessionID is the identifier
// the transport resolved (header or implicit pipe session), empty when the
// caller supplied none. The returned Result carries a nil Response for
// notifications.
func (d *Dispatcher) Dispatch(ctx context.Context, sessionID string, req *rpc.Request) *Result {
	entry, ok := d.methods[req.Method]
	if !ok {
		return d.fail(req, sessionID, rpc.Errorf(rpc.CodeMethodNotFound, "method %q not found", req.Method))
	}

	// A supplied session id must resolve, whatever the method. A stale or
	// unknown id is reported, never papered over with a fresh session.
	if sessionID != "" {
		if _, err := d.sessions.Get(ctx, sessionID); err != nil {
			return d.fail(req, sessionID, toRPCError(err))
		}
	} else if entry.needsSession {
		return d.fail(req, sessionID, rpc.NewError(rpc.CodeSessionNotFound, "no session identifier supplied"))
	}

	call := &Call{SessionID: sessionID, Params: req.Params}
	result, err := d.invoke(ctx, req.Method, entry, call)
	if err != nil {
		return d.fail(req, call.SessionID, toRPCError(err))
	}

	if entry.touches && call.SessionID != "" && !call.Created {
		if err := d.sessions.Touch(ctx, call.SessionID); err != nil {
			d.logger.Warn("session touch failed", "session_id", call.SessionID, "error", err)
		}
	}

	if d.observer != nil {
		d.observer(req.Method, 0)
	}
	if req.IsNotification() {
		return &Result{SessionID: call.SessionID, Created: call.Created}
	}
	return &Result{
		Response:  rpc.NewResult(req.ID, result),
		SessionID: call.SessionID,
		Created:   call.Created,
	}
}

// invoke runs the handler under a recover barrier so one request's panic
// cannot terminate the process or corrupt another request's state.
func (d *Dispatcher) invoke(ctx context.Context, method string, entry methodEntry, call *Call) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("handler panic recovered", "method", method, "panic", r)
			result, err = nil, rpc.NewError(rpc.CodeInternalError, "internal error")
		}
	}()
	return entry.handler(ctx, call)
}

func (d *Dispatcher) fail(req *rpc.Request, sessionID string, rpcErr *rpc.Error) *Result {
	if d.observer != nil {
		d.observer(req.Method, rpcErr.Code)
	}
	if req.IsNotification() {
		d.logger.Debug("dropping error response for notification",
			"method", req.Method,
			"code", rpcErr.Code,
		)
		return &Result{SessionID: sessionID}
	}
	return &Result{Response: rpc.NewErrorResponse(req.ID, rpcErr), SessionID: sessionID}
}

// toRPCError maps handler and service failures onto the envelope error
// taxonomy. Unclassified failures become an opaque internal error; backend
// detail never reaches the caller.
func toRPCError(err error) *rpc.Error {
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	switch {
	case errors.Is(err, session.ErrSessionExpired):
		return rpc.NewError(rpc.CodeSessionExpired, "session expired")
	case errors.Is(err, session.ErrSessionNotFound):
		return rpc.NewError(rpc.CodeSessionNotFound, "session not found")
	case errors.Is(err, session.ErrStoreUnavailable):
		return rpc.NewError(rpc.CodeInfrastructure, "session store unavailable")
	case errors.Is(err, outbound.ErrAgentNotFound):
		return rpc.NewError(rpc.CodeInvalidParams, "unknown agent")
	case errors.Is(err, outbound.ErrAgentUnavailable):
		return rpc.NewError(rpc.CodeInfrastructure, "agent runtime unavailable")
	case errors.Is(err, context.DeadlineExceeded):
		return rpc.NewError(rpc.CodeInfrastructure, "upstream timeout")
	default:
		return rpc.NewError(rpc.CodeInternalError, "internal error")
	}
}
