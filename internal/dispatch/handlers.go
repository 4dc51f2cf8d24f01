package dispatch

import (
	"context"
	"encoding/json"
	"time"

	"github.com/agentrelay/agentrelay/internal/domain/session"
	"github.com/agentrelay/agentrelay/internal/port/outbound"
	"github.com/agentrelay/agentrelay/pkg/rpc"
)

// Method names in the routing table.
const (
	MethodInitialize    = "initialize"
	MethodPing          = "ping"
	MethodSessionUpdate = "session/update"
	MethodSessionExtend = "session/extend"
	MethodSessionEnd    = "session/end"
	MethodSessionList   = "session/list"
	MethodAgentList     = "agent/list"
	MethodAgentDescribe = "agent/describe"
	MethodAgentQuery    = "agent/query"
)

// decodeParams unmarshals the raw params member into v. Absent params leave
// v at its zero value.
func decodeParams(raw json.RawMessage, v any) *rpc.Error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return rpc.Errorf(rpc.CodeInvalidParams, "invalid params: %v", err)
	}
	return nil
}

// ttlFromSeconds converts a ttlSeconds parameter. Zero means "use the
// default"; negative values are a caller error.
func ttlFromSeconds(seconds int64) (time.Duration, *rpc.Error) {
	if seconds < 0 {
		return 0, rpc.NewError(rpc.CodeInvalidParams, "ttlSeconds must be non-negative")
	}
	return time.Duration(seconds) * time.Second, nil
}

type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

type initializeParams struct {
	OwnerID    string         `json:"ownerId"`
	Data       map[string]any `json:"data"`
	TTLSeconds int64          `json:"ttlSeconds"`
}

type initializeResult struct {
	ServerInfo serverInfo       `json:"serverInfo"`
	Session    *session.Session `json:"session"`
}

// handleInitialize opens the session scope. With no session id supplied it
// creates a fresh session; with one supplied it attaches to that session,
// which must resolve.
func (d *Dispatcher) handleInitialize(ctx context.Context, call *Call) (any, error) {
	var params initializeParams
	if rpcErr := decodeParams(call.Params, &params); rpcErr != nil {
		return nil, rpcErr
	}
	ttl, rpcErr := ttlFromSeconds(params.TTLSeconds)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var (
		sess *session.Session
		err  error
	)
	if call.SessionID == "" {
		sess, err = d.sessions.Create(ctx, params.OwnerID, params.Data, ttl)
		if err != nil {
			return nil, err
		}
		call.SessionID = sess.ID
		call.Created = true
	} else {
		sess, err = d.sessions.Get(ctx, call.SessionID)
		if err != nil {
			return nil, err
		}
	}

	return initializeResult{
		ServerInfo: serverInfo{Name: d.serverName, Version: d.serverVersion},
		Session:    sess,
	}, nil
}

// handlePing answers liveness probes. No session, no params.
func (d *Dispatcher) handlePing(_ context.Context, _ *Call) (any, error) {
	return struct{}{}, nil
}

type sessionUpdateParams struct {
	Data       map[string]any `json:"data"`
	TTLSeconds int64          `json:"ttlSeconds"`
}

// handleSessionUpdate merges partial data into the session. The expiry
// slides by the requested ttl, or by the default when none is given.
func (d *Dispatcher) handleSessionUpdate(ctx context.Context, call *Call) (any, error) {
	var params sessionUpdateParams
	if rpcErr := decodeParams(call.Params, &params); rpcErr != nil {
		return nil, rpcErr
	}
	ttl, rpcErr := ttlFromSeconds(params.TTLSeconds)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if ttl == 0 {
		ttl = d.sessions.DefaultTTL()
	}
	return d.sessions.Update(ctx, call.SessionID, params.Data, ttl)
}

type sessionExtendParams struct {
	TTLSeconds int64 `json:"ttlSeconds"`
}

// handleSessionExtend renews the expiry from now without touching data.
func (d *Dispatcher) handleSessionExtend(ctx context.Context, call *Call) (any, error) {
	var params sessionExtendParams
	if rpcErr := decodeParams(call.Params, &params); rpcErr != nil {
		return nil, rpcErr
	}
	ttl, rpcErr := ttlFromSeconds(params.TTLSeconds)
	if rpcErr != nil {
		return nil, rpcErr
	}
	return d.sessions.Extend(ctx, call.SessionID, ttl)
}

type sessionEndResult struct {
	Ended bool `json:"ended"`
}

// handleSessionEnd terminates the session and closes its transport
// bindings across all channel kinds.
func (d *Dispatcher) handleSessionEnd(ctx context.Context, call *Call) (any, error) {
	ended, err := d.sessions.Delete(ctx, call.SessionID)
	if err != nil {
		return nil, err
	}
	d.registry.CloseSession(call.SessionID)
	return sessionEndResult{Ended: ended}, nil
}

type sessionListParams struct {
	OwnerID string `json:"ownerId"`
}

type sessionListResult struct {
	Sessions []*session.Session `json:"sessions"`
}

// handleSessionList enumerates the live sessions of one owner.
func (d *Dispatcher) handleSessionList(ctx context.Context, call *Call) (any, error) {
	var params sessionListParams
	if rpcErr := decodeParams(call.Params, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.OwnerID == "" {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "ownerId is required")
	}

	sessions, err := d.sessions.ListByOwner(ctx, params.OwnerID)
	if err != nil {
		return nil, err
	}
	if sessions == nil {
		sessions = []*session.Session{}
	}
	return sessionListResult{Sessions: sessions}, nil
}

type agentListResult struct {
	Agents []outbound.AgentDescriptor `json:"agents"`
}

// handleAgentList returns the upstream runtime's agent catalog.
func (d *Dispatcher) handleAgentList(ctx context.Context, _ *Call) (any, error) {
	ctx, cancel := context.WithTimeout(ctx, d.queryTimeout)
	defer cancel()

	agents, err := d.invoker.ListAgents(ctx)
	if err != nil {
		return nil, err
	}
	if agents == nil {
		agents = []outbound.AgentDescriptor{}
	}
	return agentListResult{Agents: agents}, nil
}

type agentDescribeParams struct {
	Name string `json:"name"`
}

// handleAgentDescribe returns one agent's descriptor.
func (d *Dispatcher) handleAgentDescribe(ctx context.Context, call *Call) (any, error) {
	var params agentDescribeParams
	if rpcErr := decodeParams(call.Params, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.Name == "" {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "name is required")
	}

	ctx, cancel := context.WithTimeout(ctx, d.queryTimeout)
	defer cancel()
	return d.invoker.DescribeAgent(ctx, params.Name)
}

type agentQueryParams struct {
	Agent  string `json:"agent"`
	Prompt string `json:"prompt"`
}

type agentQueryResult struct {
	Agent       string          `json:"agent"`
	Output      json.RawMessage `json:"output"`
	SessionData map[string]any  `json:"sessionData,omitempty"`
}

// handleAgentQuery forwards one conversational turn to the upstream agent,
// passing a snapshot of the session's data, and merges any returned state
// delta back into the session before answering.
func (d *Dispatcher) handleAgentQuery(ctx context.Context, call *Call) (any, error) {
	var params agentQueryParams
	if rpcErr := decodeParams(call.Params, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.Agent == "" {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "agent is required")
	}
	if params.Prompt == "" {
		return nil, rpc.NewError(rpc.CodeInvalidParams, "prompt is required")
	}

	sess, err := d.sessions.Get(ctx, call.SessionID)
	if err != nil {
		return nil, err
	}

	queryCtx, cancel := context.WithTimeout(ctx, d.queryTimeout)
	defer cancel()
	result, err := d.invoker.Query(queryCtx, outbound.QueryRequest{
		Agent:       params.Agent,
		Prompt:      params.Prompt,
		SessionID:   call.SessionID,
		SessionData: sess.Data,
	})
	if err != nil {
		return nil, err
	}

	out := agentQueryResult{
		Agent:       result.Agent,
		Output:      result.Output,
		SessionData: sess.Data,
	}
	if result.StateDelta != nil {
		updated, err := d.sessions.Update(ctx, call.SessionID, result.StateDelta, 0)
		if err != nil {
			return nil, err
		}
		out.SessionData = updated.Data
	}
	return out, nil
}
