// Package outbound defines the outbound port interfaces for reaching
// upstream agent runtimes.
package outbound

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrAgentNotFound reports that the upstream runtime does not know the
// named agent.
var ErrAgentNotFound = errors.New("agent not found")

// ErrAgentUnavailable reports that the upstream runtime could not be
// reached or returned a transport-level failure.
var ErrAgentUnavailable = errors.New("agent runtime unavailable")

// AgentDescriptor describes one agent exposed by the upstream runtime.
type AgentDescriptor struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// QueryRequest carries one conversational turn to an upstream agent.
// SessionData is the caller's accumulated session state, forwarded so
// the agent can ground its answer without holding state of its own.
type QueryRequest struct {
	Agent       string         `json:"agent"`
	Prompt      string         `json:"prompt"`
	SessionID   string         `json:"sessionId,omitempty"`
	SessionData map[string]any `json:"sessionData,omitempty"`
}

// QueryResult is the upstream agent's answer to a single query.
// StateDelta, when non-nil, is merged back into the caller's session.
type QueryResult struct {
	Agent      string          `json:"agent"`
	Output     json.RawMessage `json:"output"`
	StateDelta map[string]any  `json:"stateDelta,omitempty"`
}

// AgentInvoker is the outbound port for the upstream agent runtime.
// Adapters implement this per transport; every call is bounded by the
// caller's context.
type AgentInvoker interface {
	// ListAgents returns the descriptors of every agent the runtime exposes.
	ListAgents(ctx context.Context) ([]AgentDescriptor, error)

	// DescribeAgent returns the descriptor for one agent by name.
	// Returns ErrAgentNotFound when the runtime does not know the name.
	DescribeAgent(ctx context.Context, name string) (*AgentDescriptor, error)

	// Query runs one conversational turn against the named agent.
	Query(ctx context.Context, req QueryRequest) (*QueryResult, error)

	// Close releases the adapter's resources. Idempotent.
	Close() error
}
