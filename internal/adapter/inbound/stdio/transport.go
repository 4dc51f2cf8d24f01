// Package stdio provides the process-pipe transport adapter for the relay.
// One pipe connection is one session scope: the transport creates an
// implicit session at start and every envelope on the pipe runs under it.
package stdio

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/agentrelay/agentrelay/internal/dispatch"
	"github.com/agentrelay/agentrelay/internal/domain/session"
	"github.com/agentrelay/agentrelay/internal/port/inbound"
	"github.com/agentrelay/agentrelay/internal/transport"
	"github.com/agentrelay/agentrelay/pkg/rpc"
)

const (
	// scannerInitialBufSize is the initial buffer size for the line scanner.
	scannerInitialBufSize = 256 * 1024 // 256KB

	// scannerMaxBufSize caps a single envelope line. Longer lines abort the
	// pipe with bufio.ErrTooLong.
	scannerMaxBufSize = 1024 * 1024 // 1MB
)

// pipeHandle is the registry handle for the pipe binding. Closing it makes
// the read loop exit after the in-flight line.
type pipeHandle struct {
	done chan struct{}
	once sync.Once
}

func newPipeHandle() *pipeHandle {
	return &pipeHandle{done: make(chan struct{})}
}

func (h *pipeHandle) Close() error {
	h.once.Do(func() {
		close(h.done)
	})
	return nil
}

func (h *pipeHandle) closed() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Transport is the inbound adapter reading newline-delimited envelopes
// from standard input and writing one response envelope per request line
// to standard output.
type Transport struct {
	dispatcher *dispatch.Dispatcher
	sessions   *session.Service
	registry   *transport.Registry
	logger     *slog.Logger

	in  io.Reader
	out io.Writer
}

// Option is a functional option for configuring Transport.
type Option func(*Transport)

// WithLogger sets the transport logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		t.logger = logger
	}
}

// WithStreams overrides the pipe endpoints. Used by tests; production runs
// on os.Stdin and os.Stdout.
func WithStreams(in io.Reader, out io.Writer) Option {
	return func(t *Transport) {
		t.in = in
		t.out = out
	}
}

// NewTransport creates the pipe transport over the given dispatcher,
// session service, and transport registry.
func NewTransport(dispatcher *dispatch.Dispatcher, sessions *session.Service, registry *transport.Registry, opts ...Option) *Transport {
	t := &Transport{
		dispatcher: dispatcher,
		sessions:   sessions,
		registry:   registry,
		logger:     slog.Default(),
		in:         os.Stdin,
		out:        os.Stdout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start creates the implicit session, binds the pipe channel, and serves
// request lines until EOF or context cancellation. Request-level failures
// answer with an error envelope; the pipe itself is never closed in
// response to a bad request.
func (t *Transport) Start(ctx context.Context) error {
	sess, err := t.sessions.Create(ctx, "", nil, 0)
	if err != nil {
		return fmt.Errorf("create pipe session: %w", err)
	}
	t.logger.Info("pipe transport started", "session_id", sess.ID)

	handle := newPipeHandle()
	t.registry.Bind(sess.ID, transport.KindPipe, handle)
	defer t.teardown(sess.ID, handle)

	scanner := bufio.NewScanner(t.in)
	buf := make([]byte, 0, scannerInitialBufSize)
	scanner.Buffer(buf, scannerMaxBufSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if handle.closed() {
			// Evicted or torn down with the session.
			return nil
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		req, parseErr := rpc.ParseRequest(line)
		if parseErr != nil {
			t.writeResponse(rpc.NewErrorResponse(nil, parseErr))
			continue
		}

		result := t.dispatcher.Dispatch(ctx, sess.ID, req)
		if result.Response != nil {
			t.writeResponse(result.Response)
		}
	}

	if err := scanner.Err(); err != nil {
		// Oversized or broken input is a stream-level failure; answer once,
		// then let the teardown run.
		t.writeResponse(rpc.NewErrorResponse(nil, rpc.NewError(rpc.CodeParseError, "unreadable input line")))
		return fmt.Errorf("pipe read: %w", err)
	}

	t.logger.Info("pipe transport reached EOF", "session_id", sess.ID)
	return nil
}

// writeResponse emits one envelope plus newline. Write failures are logged;
// there is no way to answer a client whose pipe is gone.
func (t *Transport) writeResponse(resp *rpc.Response) {
	payload, err := resp.Encode()
	if err != nil {
		t.logger.Error("encode response failed", "error", err)
		return
	}
	if _, err := t.out.Write(append(payload, '\n')); err != nil {
		t.logger.Warn("pipe write failed", "error", err)
	}
}

// teardown unbinds the pipe and removes the implicit session. The pipe
// session has no meaning beyond the connection that created it.
func (t *Transport) teardown(sessionID string, handle *pipeHandle) {
	t.registry.UnbindHandle(sessionID, transport.KindPipe, handle)
	if _, err := t.sessions.Delete(context.Background(), sessionID); err != nil {
		t.logger.Warn("pipe session cleanup failed", "session_id", sessionID, "error", err)
	}
	t.logger.Info("pipe transport closed", "session_id", sessionID)
}

// Close gracefully shuts down the transport. The read loop exits after the
// current line.
func (t *Transport) Close() error {
	return nil
}

// Compile-time check that Transport implements the inbound port.
var _ inbound.Transport = (*Transport)(nil)
