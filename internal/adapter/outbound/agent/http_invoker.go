// Package agent provides invoker adapters for the upstream agent runtime.
package agent

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"

	"github.com/agentrelay/agentrelay/internal/port/outbound"
)

const (
	// maxResponseBodySize caps the response body read from the runtime.
	// Prevents OOM from a misbehaving upstream sending unbounded responses.
	maxResponseBodySize = 10 * 1024 * 1024 // 10MB

	// Upstream runtime methods.
	methodAgentsList     = "agents/list"
	methodAgentsDescribe = "agents/describe"
	methodAgentsQuery    = "agents/query"

	// wireCodeUnknownAgent is the runtime's error code for a name it does
	// not serve.
	wireCodeUnknownAgent = -32010
)

// HTTPInvoker reaches the agent runtime over HTTP, one JSON-RPC exchange
// per call. It implements the outbound.AgentInvoker interface.
type HTTPInvoker struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger

	nextID    atomic.Int64
	closeOnce sync.Once
}

// InvokerOption is a functional option for configuring HTTPInvoker.
type InvokerOption func(*HTTPInvoker)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) InvokerOption {
	return func(c *HTTPInvoker) {
		c.httpClient = client
	}
}

// WithTimeout sets the per-request timeout for the HTTP client.
func WithTimeout(d time.Duration) InvokerOption {
	return func(c *HTTPInvoker) {
		if c.httpClient != nil {
			c.httpClient.Timeout = d
		}
	}
}

// WithLogger sets the invoker logger.
func WithLogger(logger *slog.Logger) InvokerOption {
	return func(c *HTTPInvoker) {
		c.logger = logger
	}
}

// NewHTTPInvoker creates an invoker for the given runtime endpoint.
// The endpoint is the base URL of the runtime's JSON-RPC handler.
func NewHTTPInvoker(endpoint string, opts ...InvokerOption) *HTTPInvoker {
	c := &HTTPInvoker{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					MinVersion: tls.VersionTLS12,
				},
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ListAgents returns every agent the runtime exposes.
func (c *HTTPInvoker) ListAgents(ctx context.Context) ([]outbound.AgentDescriptor, error) {
	result, err := c.call(ctx, methodAgentsList, nil)
	if err != nil {
		return nil, err
	}

	var payload struct {
		Agents []outbound.AgentDescriptor `json:"agents"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		return nil, fmt.Errorf("decode agents list: %v: %w", err, outbound.ErrAgentUnavailable)
	}
	return payload.Agents, nil
}

// DescribeAgent returns the descriptor for one agent by name.
func (c *HTTPInvoker) DescribeAgent(ctx context.Context, name string) (*outbound.AgentDescriptor, error) {
	result, err := c.call(ctx, methodAgentsDescribe, map[string]any{"name": name})
	if err != nil {
		return nil, err
	}

	var desc outbound.AgentDescriptor
	if err := json.Unmarshal(result, &desc); err != nil {
		return nil, fmt.Errorf("decode agent descriptor: %v: %w", err, outbound.ErrAgentUnavailable)
	}
	return &desc, nil
}

// Query runs one conversational turn against the named agent.
func (c *HTTPInvoker) Query(ctx context.Context, req outbound.QueryRequest) (*outbound.QueryResult, error) {
	result, err := c.call(ctx, methodAgentsQuery, req)
	if err != nil {
		return nil, err
	}

	var out outbound.QueryResult
	if err := json.Unmarshal(result, &out); err != nil {
		return nil, fmt.Errorf("decode query result: %v: %w", err, outbound.ErrAgentUnavailable)
	}
	if out.Agent == "" {
		out.Agent = req.Agent
	}
	return &out, nil
}

// Close releases the client's idle connections. Idempotent.
func (c *HTTPInvoker) Close() error {
	c.closeOnce.Do(func() {
		c.httpClient.CloseIdleConnections()
	})
	return nil
}

// call performs one JSON-RPC exchange with the runtime and returns the
// result member. Transport and HTTP failures map to ErrAgentUnavailable;
// the runtime's unknown-agent error maps to ErrAgentNotFound.
func (c *HTTPInvoker) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	var rawParams json.RawMessage
	if params != nil {
		encoded, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		rawParams = encoded
	}

	id, err := jsonrpc.MakeID(float64(c.nextID.Add(1)))
	if err != nil {
		return nil, fmt.Errorf("make request id: %w", err)
	}
	body, err := jsonrpc.EncodeMessage(&jsonrpc.Request{
		ID:     id,
		Method: method,
		Params: rawParams,
	})
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("runtime request: %v: %w", err, outbound.ErrAgentUnavailable)
	}
	defer func() { _ = httpResp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBodySize))
	if err != nil {
		return nil, fmt.Errorf("read runtime response: %v: %w", err, outbound.ErrAgentUnavailable)
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		c.logger.Warn("agent runtime returned non-2xx status",
			"method", method,
			"status", httpResp.StatusCode,
		)
		return nil, fmt.Errorf("runtime status %d: %w", httpResp.StatusCode, outbound.ErrAgentUnavailable)
	}

	msg, err := jsonrpc.DecodeMessage(respBody)
	if err != nil {
		return nil, fmt.Errorf("decode runtime response: %v: %w", err, outbound.ErrAgentUnavailable)
	}
	resp, ok := msg.(*jsonrpc.Response)
	if !ok {
		return nil, fmt.Errorf("runtime sent a non-response message: %w", outbound.ErrAgentUnavailable)
	}

	if resp.Error != nil {
		// The SDK's response error type does not expose the wire code
		// through the error interface, so pull it from the raw body.
		code, message := wireError(respBody)
		if code == wireCodeUnknownAgent {
			return nil, fmt.Errorf("%s: %w", message, outbound.ErrAgentNotFound)
		}
		return nil, fmt.Errorf("runtime error %d: %s: %w", code, message, outbound.ErrAgentUnavailable)
	}

	return json.RawMessage(resp.Result), nil
}

// wireError extracts the error code and message from a raw response body.
func wireError(body []byte) (int, string) {
	var wire struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &wire); err != nil {
		return 0, "unparseable runtime error"
	}
	return wire.Error.Code, wire.Error.Message
}

// Compile-time interface verification.
var _ outbound.AgentInvoker = (*HTTPInvoker)(nil)
