package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/agentrelay/agentrelay/internal/dispatch"
	"github.com/agentrelay/agentrelay/internal/domain/session"
	"github.com/agentrelay/agentrelay/internal/transport"
	"github.com/agentrelay/agentrelay/pkg/rpc"
)

// maxRequestBodySize is the maximum allowed request body size (1 MB).
const maxRequestBodySize = 1 << 20

// SessionIDHeader carries the session identifier on the streaming HTTP
// channel.
const SessionIDHeader = "Mcp-Session-Id"

// sseSendBuffer is the per-stream buffer for server-pushed messages.
const sseSendBuffer = 100

// sseHandle is the live handle for one server-push stream. It implements
// transport.Handle; the registry closes it on eviction and teardown.
type sseHandle struct {
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func newSSEHandle() *sseHandle {
	return &sseHandle{
		ch:   make(chan []byte, sseSendBuffer),
		done: make(chan struct{}),
	}
}

// Close releases the stream. Safe to call more than once.
func (h *sseHandle) Close() error {
	h.once.Do(func() {
		close(h.done)
	})
	return nil
}

// Send queues msg for delivery on the stream. It reports false when the
// stream is closed or its buffer is full; a slow consumer drops messages
// rather than blocking the sender.
func (h *sseHandle) Send(msg []byte) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.ch <- msg:
		return true
	default:
		return false
	}
}

// relayDeps bundles what the request handlers need.
type relayDeps struct {
	dispatcher *dispatch.Dispatcher
	sessions   *session.Service
	registry   *transport.Registry
	metrics    *Metrics
}

// relayHandler creates the main handler for the /mcp endpoint, routing by
// HTTP method: POST carries request envelopes, GET opens the server-push
// stream, DELETE terminates the session.
func relayHandler(deps relayDeps) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			handlePost(w, r, deps)
		case http.MethodGet:
			handleGet(w, r, deps)
		case http.MethodDelete:
			handleDelete(w, r, deps)
		case http.MethodOptions:
			handleOptions(w, r)
		default:
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		}
	})
}

// handlePost processes one request envelope. Malformed envelopes answer
// 400 with an error envelope; session resolution failures answer 404;
// infrastructure and internal failures answer 500. Handler-level errors
// ride a 200 like any JSON-RPC response.
func handlePost(w http.ResponseWriter, r *http.Request, deps relayDeps) {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		writeEnvelope(w, http.StatusBadRequest,
			rpc.NewErrorResponse(nil, rpc.NewError(rpc.CodeParseError, "content type must be application/json")))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer func() { _ = r.Body.Close() }()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			writeEnvelope(w, http.StatusBadRequest,
				rpc.NewErrorResponse(nil, rpc.NewError(rpc.CodeParseError, "request body too large (max 1MB)")))
			return
		}
		writeEnvelope(w, http.StatusBadRequest,
			rpc.NewErrorResponse(nil, rpc.NewError(rpc.CodeParseError, "failed to read request body")))
		return
	}

	req, parseErr := rpc.ParseRequest(body)
	if parseErr != nil {
		writeEnvelope(w, http.StatusBadRequest, rpc.NewErrorResponse(nil, parseErr))
		return
	}

	sessionID := r.Header.Get(SessionIDHeader)
	result := deps.dispatcher.Dispatch(r.Context(), sessionID, req)

	// The caller learns the session id through the same header: the new id
	// on the New-session path, the supplied one echoed otherwise.
	if result.SessionID != "" {
		w.Header().Set(SessionIDHeader, result.SessionID)
	}
	if deps.metrics != nil && result.Created {
		deps.metrics.SessionsCreated.Inc()
	}
	if deps.metrics != nil && req.Method == dispatch.MethodSessionEnd &&
		result.Response != nil && result.Response.Error == nil {
		deps.metrics.SessionsEnded.Inc()
	}

	if result.Response == nil {
		// Notification: nothing to answer.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	writeEnvelope(w, statusForError(result.Response.Error), result.Response)
}

// handleGet opens the server-push stream for an existing session. The
// binding is registered under the stream channel kind; binding again for
// the same session evicts the prior stream.
func handleGet(w http.ResponseWriter, r *http.Request, deps relayDeps) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		http.Error(w, SessionIDHeader+" header required", http.StatusBadRequest)
		return
	}

	if _, err := deps.sessions.Get(r.Context(), sessionID); err != nil {
		if errors.Is(err, session.ErrSessionNotFound) {
			http.Error(w, "session not found", http.StatusNotFound)
			return
		}
		http.Error(w, "session store unavailable", http.StatusInternalServerError)
		return
	}

	handle := newSSEHandle()
	deps.registry.Bind(sessionID, transport.KindStream, handle)
	// Disconnects unbind synchronously; an evicted handle leaves the
	// successor binding alone.
	defer deps.registry.UnbindHandle(sessionID, transport.KindStream, handle)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(SessionIDHeader, sessionID)

	_, _ = fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-handle.done:
			// Evicted by a newer stream or torn down with the session.
			return
		case msg, ok := <-handle.ch:
			if !ok {
				return
			}
			_, _ = fmt.Fprintf(w, "data: %s\n\n", msg)
			flusher.Flush()
		}
	}
}

// handleDelete terminates a session and closes all its transport bindings.
func handleDelete(w http.ResponseWriter, r *http.Request, deps relayDeps) {
	sessionID := r.Header.Get(SessionIDHeader)
	if sessionID == "" {
		http.Error(w, SessionIDHeader+" header required", http.StatusBadRequest)
		return
	}

	deleted, err := deps.sessions.Delete(r.Context(), sessionID)
	if err != nil {
		http.Error(w, "session store unavailable", http.StatusInternalServerError)
		return
	}
	if !deleted {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	deps.registry.CloseSession(sessionID)
	if deps.metrics != nil {
		deps.metrics.SessionsEnded.Inc()
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleOptions handles CORS preflight requests.
func handleOptions(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+SessionIDHeader)
	w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours
	w.WriteHeader(http.StatusNoContent)
}

// statusForError maps an envelope error onto the HTTP status line. The
// envelope in the body stays authoritative; the status is a transport
// convenience.
func statusForError(rpcErr *rpc.Error) int {
	if rpcErr == nil {
		return http.StatusOK
	}
	switch rpcErr.Code {
	case rpc.CodeParseError, rpc.CodeInvalidRequest:
		return http.StatusBadRequest
	case rpc.CodeSessionNotFound, rpc.CodeSessionExpired:
		return http.StatusNotFound
	case rpc.CodeInfrastructure, rpc.CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusOK
	}
}

// writeEnvelope serializes a response envelope with the given status.
func writeEnvelope(w http.ResponseWriter, status int, resp *rpc.Response) {
	payload, err := resp.Encode()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(payload)
}
