package agentrelay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// sessionIDHeader carries the session id on requests and responses.
const sessionIDHeader = "Mcp-Session-Id"

// maxResponseBodySize caps how much of a gateway response is read.
const maxResponseBodySize = 10 * 1024 * 1024 // 10MB

// Client is the agentrelay SDK client. It speaks the gateway's JSON-RPC
// API and tracks the session id across calls. Safe for concurrent use.
type Client struct {
	serverAddr string
	timeout    time.Duration
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.RWMutex
	sessionID string

	nextID atomic.Int64
}

// NewClient creates a new agentrelay SDK client. The server address is
// read from the AGENTRELAY_SERVER_ADDR environment variable by default.
// Options can be used to override the defaults.
func NewClient(opts ...Option) *Client {
	c := &Client{
		serverAddr: os.Getenv("AGENTRELAY_SERVER_ADDR"),
		timeout:    30 * time.Second,
		logger:     slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Timeout: c.timeout,
		}
	}

	return c
}

// SessionID returns the session id the client is currently attached to,
// or empty before Initialize.
func (c *Client) SessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}

// Initialize opens a session on the gateway, or attaches to the one set
// via WithSessionID. Subsequent calls run under the returned session.
func (c *Client) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	var result InitializeResult
	if err := c.call(ctx, "initialize", req, &result); err != nil {
		return nil, err
	}
	if result.Session != nil {
		c.mu.Lock()
		c.sessionID = result.Session.ID
		c.mu.Unlock()
	}
	return &result, nil
}

// Ping checks gateway liveness. It needs no session.
func (c *Client) Ping(ctx context.Context) error {
	return c.call(ctx, "ping", nil, nil)
}

// UpdateSession merges partial data into the session state. A nil value
// for a key deletes that key. ttlSeconds of zero slides the expiry by
// the server's default lifetime.
func (c *Client) UpdateSession(ctx context.Context, data map[string]any, ttlSeconds int64) (*Session, error) {
	params := map[string]any{"data": data}
	if ttlSeconds > 0 {
		params["ttlSeconds"] = ttlSeconds
	}
	var sess Session
	if err := c.call(ctx, "session/update", params, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// ExtendSession renews the session lease from now without touching data.
// ttlSeconds of zero applies the server's default lifetime.
func (c *Client) ExtendSession(ctx context.Context, ttlSeconds int64) (*Session, error) {
	params := map[string]any{}
	if ttlSeconds > 0 {
		params["ttlSeconds"] = ttlSeconds
	}
	var sess Session
	if err := c.call(ctx, "session/extend", params, &sess); err != nil {
		return nil, err
	}
	return &sess, nil
}

// EndSession terminates the session. The client forgets its session id
// regardless of outcome; a lapsed session is already gone.
func (c *Client) EndSession(ctx context.Context) error {
	err := c.call(ctx, "session/end", nil, nil)
	c.mu.Lock()
	c.sessionID = ""
	c.mu.Unlock()
	return err
}

// ListSessions enumerates the live sessions of one owner.
func (c *Client) ListSessions(ctx context.Context, ownerID string) ([]Session, error) {
	var result struct {
		Sessions []Session `json:"sessions"`
	}
	if err := c.call(ctx, "session/list", map[string]any{"ownerId": ownerID}, &result); err != nil {
		return nil, err
	}
	return result.Sessions, nil
}

// ListAgents returns the runtime's agent catalog.
func (c *Client) ListAgents(ctx context.Context) ([]AgentDescriptor, error) {
	var result struct {
		Agents []AgentDescriptor `json:"agents"`
	}
	if err := c.call(ctx, "agent/list", nil, &result); err != nil {
		return nil, err
	}
	return result.Agents, nil
}

// DescribeAgent returns one agent's descriptor.
func (c *Client) DescribeAgent(ctx context.Context, name string) (*AgentDescriptor, error) {
	var desc AgentDescriptor
	if err := c.call(ctx, "agent/describe", map[string]any{"name": name}, &desc); err != nil {
		return nil, err
	}
	return &desc, nil
}

// Query sends one conversational turn to the named agent under the
// client's session. The gateway merges any agent-returned state delta
// into the session before answering.
func (c *Client) Query(ctx context.Context, agent, prompt string) (*QueryResult, error) {
	var result QueryResult
	err := c.call(ctx, "agent/query", map[string]any{
		"agent":  agent,
		"prompt": prompt,
	}, &result)
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// rpcEnvelope is the wire shape of a gateway response.
type rpcEnvelope struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
	ID      json.RawMessage `json:"id"`
}

// call performs one JSON-RPC request. A non-nil result is unmarshaled
// into out; a JSON-RPC error is returned as *RPCError.
func (c *Client) call(ctx context.Context, method string, params, out any) error {
	if c.serverAddr == "" {
		return &ServerUnreachableError{Cause: fmt.Errorf("no server address configured (set AGENTRELAY_SERVER_ADDR or use WithServerAddr)")}
	}

	body := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"id":      c.nextID.Add(1),
	}
	if params != nil {
		body["params"] = params
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimSuffix(c.serverAddr, "/") + "/mcp"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if id := c.SessionID(); id != "" {
		req.Header.Set(sessionIDHeader, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &ServerUnreachableError{Cause: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return &ServerUnreachableError{Cause: err}
	}

	var env rpcEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if env.Error != nil {
		c.logger.Debug("rpc error", "method", method, "code", env.Error.Code, "message", env.Error.Message)
		return env.Error
	}

	// The gateway echoes the session id; pick it up on create paths.
	if id := resp.Header.Get(sessionIDHeader); id != "" {
		c.mu.Lock()
		c.sessionID = id
		c.mu.Unlock()
	}

	if out != nil && len(env.Result) > 0 {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}
	return nil
}
