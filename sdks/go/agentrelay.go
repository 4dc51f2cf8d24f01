// Package agentrelay provides a Go SDK for the agentrelay session gateway.
//
// agentrelay fronts an agent runtime with stateful, expiring sessions.
// This SDK speaks the gateway's JSON-RPC API over HTTP and tracks the
// session id transparently across calls. It uses only the Go standard
// library (net/http) with zero external dependencies.
//
// Quick start:
//
//	// Set AGENTRELAY_SERVER_ADDR, then:
//	client := agentrelay.NewClient()
//
//	_, err := client.Initialize(ctx, agentrelay.InitializeRequest{
//	    OwnerID: "agent-1",
//	    Data:    map[string]any{"topic": "tides"},
//	})
//	if err != nil {
//	    return err
//	}
//
//	result, err := client.Query(ctx, "planner", "what changed since yesterday?")
//	if err != nil {
//	    if errors.Is(err, agentrelay.ErrSessionExpired) {
//	        // re-initialize and retry
//	    }
//	}
package agentrelay

import (
	"encoding/json"
	"time"
)

// Session is a conversational session held by the gateway.
type Session struct {
	// ID is the opaque session identifier.
	ID string `json:"sessionId"`

	// OwnerID identifies the principal the session belongs to.
	OwnerID string `json:"ownerId,omitempty"`

	// Data is the session's conversational state.
	Data map[string]any `json:"data,omitempty"`

	// CreatedAt is when the session was opened.
	CreatedAt time.Time `json:"createdAt"`

	// UpdatedAt is when the session last changed.
	UpdatedAt time.Time `json:"updatedAt"`

	// ExpiresAt is when the session lapses unless renewed.
	ExpiresAt time.Time `json:"expiresAt"`
}

// ServerInfo identifies the gateway answering an initialize call.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// InitializeRequest opens or attaches to a session.
type InitializeRequest struct {
	// OwnerID optionally names the owning principal.
	OwnerID string `json:"ownerId,omitempty"`

	// Data seeds the session state.
	Data map[string]any `json:"data,omitempty"`

	// TTLSeconds overrides the server's default session lifetime.
	// Zero applies the default.
	TTLSeconds int64 `json:"ttlSeconds,omitempty"`
}

// InitializeResult is the gateway's answer to Initialize.
type InitializeResult struct {
	ServerInfo ServerInfo `json:"serverInfo"`
	Session    *Session   `json:"session"`
}

// AgentDescriptor describes one agent in the runtime's catalog.
type AgentDescriptor struct {
	Name         string   `json:"name"`
	Description  string   `json:"description,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// QueryResult is one answered conversational turn.
type QueryResult struct {
	// Agent is the agent that answered.
	Agent string `json:"agent"`

	// Output is the agent's raw answer payload.
	Output json.RawMessage `json:"output"`

	// SessionData is the session state after any agent-returned delta
	// was merged.
	SessionData map[string]any `json:"sessionData,omitempty"`
}
