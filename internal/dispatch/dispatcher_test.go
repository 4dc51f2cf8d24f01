package dispatch

import (
	"context"
	"encoding/json"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentrelay/agentrelay/internal/adapter/outbound/agent"
	"github.com/agentrelay/agentrelay/internal/adapter/outbound/memory"
	"github.com/agentrelay/agentrelay/internal/domain/session"
	"github.com/agentrelay/agentrelay/internal/port/outbound"
	"github.com/agentrelay/agentrelay/internal/transport"
	"github.com/agentrelay/agentrelay/pkg/rpc"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *memory.SessionStore, *transport.Registry) {
	t.Helper()
	store := memory.NewSessionStore()
	svc := session.NewService(store, session.Config{TTL: time.Hour}, nil)
	reg := transport.NewRegistry()
	disp := NewDispatcher(svc, agent.NewMockInvoker(), reg, WithServerInfo("agentrelay", "test"))
	return disp, store, reg
}

func request(t *testing.T, method string, params any, id string) *rpc.Request {
	t.Helper()
	req := &rpc.Request{JSONRPC: rpc.Version, Method: method, ID: json.RawMessage(id)}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			t.Fatalf("marshal params: %v", err)
		}
		req.Params = raw
	}
	return req
}

// initialize opens a session and returns its id.
func initialize(t *testing.T, disp *Dispatcher, params any) string {
	t.Helper()
	res := disp.Dispatch(context.Background(), "", request(t, MethodInitialize, params, `1`))
	if res.Response.Error != nil {
		t.Fatalf("initialize error = %v", res.Response.Error)
	}
	if !res.Created || res.SessionID == "" {
		t.Fatalf("initialize Result = %+v, want created session", res)
	}
	return res.SessionID
}

func TestDispatch_InitializeCreatesSession(t *testing.T) {
	disp, store, _ := newTestDispatcher(t)

	res := disp.Dispatch(context.Background(), "", request(t, MethodInitialize, map[string]any{
		"ownerId": "alice",
		"data":    map[string]any{"topic": "tides"},
	}, `1`))

	if res.Response.Error != nil {
		t.Fatalf("Dispatch() error = %v", res.Response.Error)
	}
	if !res.Created || res.SessionID == "" {
		t.Fatalf("Result = %+v, want created session", res)
	}
	if store.Size() != 1 {
		t.Errorf("store Size() = %d, want 1", store.Size())
	}

	result, ok := res.Response.Result.(initializeResult)
	if !ok {
		t.Fatalf("Result type = %T", res.Response.Result)
	}
	if result.ServerInfo.Name != "agentrelay" || result.Session.ID != res.SessionID {
		t.Errorf("initialize result = %+v", result)
	}
	if result.Session.OwnerID != "alice" || result.Session.Data["topic"] != "tides" {
		t.Errorf("session = %+v", result.Session)
	}
}

func TestDispatch_InitializeAttachesToExistingSession(t *testing.T) {
	disp, _, _ := newTestDispatcher(t)
	id := initialize(t, disp, nil)

	res := disp.Dispatch(context.Background(), id, request(t, MethodInitialize, nil, `2`))
	if res.Response.Error != nil {
		t.Fatalf("Dispatch() error = %v", res.Response.Error)
	}
	if res.Created {
		t.Error("re-initialize with a live id must not create a session")
	}
	if res.SessionID != id {
		t.Errorf("SessionID = %q, want %q", res.SessionID, id)
	}
}

func TestDispatch_UnknownSessionNeverFabricatesOne(t *testing.T) {
	disp, store, _ := newTestDispatcher(t)

	res := disp.Dispatch(context.Background(), "ghost", request(t, MethodSessionUpdate, map[string]any{
		"data": map[string]any{"k": "v"},
	}, `1`))

	if res.Response.Error == nil || res.Response.Error.Code != rpc.CodeSessionNotFound {
		t.Fatalf("Dispatch() error = %v, want code %d", res.Response.Error, rpc.CodeSessionNotFound)
	}
	if store.Size() != 0 {
		t.Errorf("store Size() = %d, a session was fabricated", store.Size())
	}

	// Even initialize must not fabricate when the caller names a stale id.
	res = disp.Dispatch(context.Background(), "ghost", request(t, MethodInitialize, nil, `2`))
	if res.Response.Error == nil || res.Response.Error.Code != rpc.CodeSessionNotFound {
		t.Fatalf("initialize with stale id error = %v, want code %d", res.Response.Error, rpc.CodeSessionNotFound)
	}
	if store.Size() != 0 {
		t.Errorf("store Size() = %d after stale-id initialize, want 0", store.Size())
	}
}

func TestDispatch_ExpiredSessionClassification(t *testing.T) {
	store := memory.NewSessionStore()
	svc := session.NewService(store, session.Config{TTL: time.Hour}, nil)
	disp := NewDispatcher(svc, agent.NewMockInvoker(), transport.NewRegistry())

	sess, err := store.Create(context.Background(), "", nil, time.Millisecond)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	res := disp.Dispatch(context.Background(), sess.ID, request(t, MethodPing, nil, `1`))
	if res.Response.Error == nil || res.Response.Error.Code != rpc.CodeSessionExpired {
		t.Fatalf("first dispatch error = %v, want code %d", res.Response.Error, rpc.CodeSessionExpired)
	}

	// The expiry read removed the record; the id is now simply unknown.
	res = disp.Dispatch(context.Background(), sess.ID, request(t, MethodPing, nil, `2`))
	if res.Response.Error == nil || res.Response.Error.Code != rpc.CodeSessionNotFound {
		t.Fatalf("second dispatch error = %v, want code %d", res.Response.Error, rpc.CodeSessionNotFound)
	}
}

func TestDispatch_MethodNotFound(t *testing.T) {
	disp, _, _ := newTestDispatcher(t)

	res := disp.Dispatch(context.Background(), "", request(t, "no/such/method", nil, `1`))
	if res.Response.Error == nil || res.Response.Error.Code != rpc.CodeMethodNotFound {
		t.Fatalf("Dispatch() error = %v, want code %d", res.Response.Error, rpc.CodeMethodNotFound)
	}
}

func TestDispatch_InvalidParams(t *testing.T) {
	disp, _, _ := newTestDispatcher(t)
	id := initialize(t, disp, nil)

	tests := []struct {
		name   string
		sid    string
		method string
		params any
	}{
		{name: "negative ttl", sid: id, method: MethodSessionExtend, params: map[string]any{"ttlSeconds": -1}},
		{name: "non-object data", sid: id, method: MethodSessionUpdate, params: map[string]any{"data": "not-a-map"}},
		{name: "list without owner", sid: "", method: MethodSessionList, params: map[string]any{}},
		{name: "describe without name", sid: "", method: MethodAgentDescribe, params: map[string]any{}},
		{name: "query without prompt", sid: id, method: MethodAgentQuery, params: map[string]any{"agent": "echo"}},
		{name: "query unknown agent", sid: id, method: MethodAgentQuery, params: map[string]any{"agent": "ghost", "prompt": "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := disp.Dispatch(context.Background(), tt.sid, request(t, tt.method, tt.params, `1`))
			if res.Response.Error == nil || res.Response.Error.Code != rpc.CodeInvalidParams {
				t.Errorf("Dispatch() error = %v, want code %d", res.Response.Error, rpc.CodeInvalidParams)
			}
		})
	}
}

func TestDispatch_SessionUpdateMergesData(t *testing.T) {
	disp, _, _ := newTestDispatcher(t)
	id := initialize(t, disp, map[string]any{"data": map[string]any{"a": 1, "b": 2}})

	res := disp.Dispatch(context.Background(), id, request(t, MethodSessionUpdate, map[string]any{
		"data": map[string]any{"b": nil, "c": 3},
	}, `2`))
	if res.Response.Error != nil {
		t.Fatalf("Dispatch() error = %v", res.Response.Error)
	}

	sess, ok := res.Response.Result.(*session.Session)
	if !ok {
		t.Fatalf("Result type = %T", res.Response.Result)
	}
	if sess.Data["a"] != float64(1) || sess.Data["c"] != float64(3) {
		t.Errorf("Data = %v, want a:1 c:3", sess.Data)
	}
	if _, ok := sess.Data["b"]; ok {
		t.Errorf("Data = %v, null member must clear the key", sess.Data)
	}
}

func TestDispatch_SessionEndClosesBindings(t *testing.T) {
	disp, store, reg := newTestDispatcher(t)
	id := initialize(t, disp, nil)

	var closed atomic.Bool
	reg.Bind(id, transport.KindStream, closeFunc(func() { closed.Store(true) }))

	res := disp.Dispatch(context.Background(), id, request(t, MethodSessionEnd, nil, `2`))
	if res.Response.Error != nil {
		t.Fatalf("Dispatch() error = %v", res.Response.Error)
	}
	if result := res.Response.Result.(sessionEndResult); !result.Ended {
		t.Error("session/end reported ended=false for a live session")
	}
	if !closed.Load() {
		t.Error("session/end left the transport binding open")
	}
	if reg.Len() != 0 {
		t.Errorf("registry Len() = %d, want 0", reg.Len())
	}
	if store.Size() != 0 {
		t.Errorf("store Size() = %d, want 0", store.Size())
	}
}

func TestDispatch_SessionList(t *testing.T) {
	disp, _, _ := newTestDispatcher(t)
	initialize(t, disp, map[string]any{"ownerId": "alice"})
	initialize(t, disp, map[string]any{"ownerId": "alice"})
	initialize(t, disp, map[string]any{"ownerId": "bob"})

	res := disp.Dispatch(context.Background(), "", request(t, MethodSessionList, map[string]any{"ownerId": "alice"}, `9`))
	if res.Response.Error != nil {
		t.Fatalf("Dispatch() error = %v", res.Response.Error)
	}
	result := res.Response.Result.(sessionListResult)
	if len(result.Sessions) != 2 {
		t.Errorf("session/list returned %d sessions, want 2", len(result.Sessions))
	}
}

func TestDispatch_AgentQueryMergesStateDelta(t *testing.T) {
	disp, _, _ := newTestDispatcher(t)
	id := initialize(t, disp, map[string]any{"data": map[string]any{"turns": 1}})

	res := disp.Dispatch(context.Background(), id, request(t, MethodAgentQuery, map[string]any{
		"agent":  "recorder",
		"prompt": "hello",
	}, `2`))
	if res.Response.Error != nil {
		t.Fatalf("Dispatch() error = %v", res.Response.Error)
	}

	result := res.Response.Result.(agentQueryResult)
	if result.Agent != "recorder" {
		t.Errorf("Agent = %q", result.Agent)
	}
	if result.SessionData["lastPrompt"] != "hello" || result.SessionData["turns"] != float64(2) {
		t.Errorf("SessionData = %v, want merged state delta", result.SessionData)
	}
}

func TestDispatch_TouchOnSuccessOnly(t *testing.T) {
	disp, store, _ := newTestDispatcher(t)
	id := initialize(t, disp, map[string]any{"ttlSeconds": 60})

	before, err := store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// A failing call must not slide the expiry.
	disp.Dispatch(context.Background(), id, request(t, MethodAgentQuery, map[string]any{"agent": "ghost", "prompt": "x"}, `2`))
	after, _ := store.Get(context.Background(), id)
	if !after.ExpiresAt.Equal(before.ExpiresAt) {
		t.Errorf("failed call moved ExpiresAt from %v to %v", before.ExpiresAt, after.ExpiresAt)
	}

	// A successful call slides it by the default TTL (one hour here).
	disp.Dispatch(context.Background(), id, request(t, MethodAgentQuery, map[string]any{"agent": "echo", "prompt": "x"}, `3`))
	after, _ = store.Get(context.Background(), id)
	if !after.ExpiresAt.After(before.ExpiresAt) {
		t.Errorf("successful call did not slide ExpiresAt past %v", before.ExpiresAt)
	}
}

func TestDispatch_NotificationGetsNoResponse(t *testing.T) {
	disp, _, _ := newTestDispatcher(t)

	res := disp.Dispatch(context.Background(), "", &rpc.Request{JSONRPC: rpc.Version, Method: MethodPing})
	if res.Response != nil {
		t.Errorf("notification Response = %+v, want nil", res.Response)
	}

	// Errors for notifications are dropped, not answered.
	res = disp.Dispatch(context.Background(), "", &rpc.Request{JSONRPC: rpc.Version, Method: "no/such"})
	if res.Response != nil {
		t.Errorf("notification error Response = %+v, want nil", res.Response)
	}
}

func TestDispatch_NullIDEchoesNullID(t *testing.T) {
	disp, _, _ := newTestDispatcher(t)

	// An explicit null id is a request, not a notification: it gets a
	// response whose id is null.
	res := disp.Dispatch(context.Background(), "", request(t, MethodPing, nil, `null`))
	if res.Response == nil {
		t.Fatal("null-id request got no response")
	}
	if string(res.Response.ID) != "null" {
		t.Errorf("Response.ID = %s, want null", res.Response.ID)
	}
	if res.Response.Error != nil {
		t.Errorf("Response.Error = %v, want nil", res.Response.Error)
	}
}

func TestDispatch_PanicRecovered(t *testing.T) {
	store := memory.NewSessionStore()
	svc := session.NewService(store, session.Config{TTL: time.Hour}, nil)
	disp := NewDispatcher(svc, panicInvoker{}, transport.NewRegistry())

	res := disp.Dispatch(context.Background(), "", request(t, MethodAgentList, nil, `1`))
	if res.Response.Error == nil || res.Response.Error.Code != rpc.CodeInternalError {
		t.Fatalf("Dispatch() error = %v, want code %d", res.Response.Error, rpc.CodeInternalError)
	}
}

func TestDispatch_InfrastructureClassification(t *testing.T) {
	store := memory.NewSessionStore()
	svc := session.NewService(store, session.Config{TTL: time.Hour}, nil)
	disp := NewDispatcher(svc, unavailableInvoker{}, transport.NewRegistry())

	res := disp.Dispatch(context.Background(), "", request(t, MethodAgentList, nil, `1`))
	if res.Response.Error == nil || res.Response.Error.Code != rpc.CodeInfrastructure {
		t.Fatalf("Dispatch() error = %v, want code %d", res.Response.Error, rpc.CodeInfrastructure)
	}
}

func TestDispatch_MethodTableComplete(t *testing.T) {
	disp, _, _ := newTestDispatcher(t)

	want := []string{
		MethodAgentDescribe, MethodAgentList, MethodAgentQuery,
		MethodInitialize, MethodPing,
		MethodSessionEnd, MethodSessionExtend, MethodSessionList, MethodSessionUpdate,
	}
	got := disp.Methods()
	sort.Strings(got)
	if len(got) != len(want) {
		t.Fatalf("Methods() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Methods()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDispatch_ObserverSeesOutcome(t *testing.T) {
	store := memory.NewSessionStore()
	svc := session.NewService(store, session.Config{TTL: time.Hour}, nil)

	type seen struct {
		method string
		code   int
	}
	var calls []seen
	disp := NewDispatcher(svc, agent.NewMockInvoker(), transport.NewRegistry(),
		WithObserver(func(method string, code int) {
			calls = append(calls, seen{method: method, code: code})
		}))

	disp.Dispatch(context.Background(), "", request(t, MethodPing, nil, `1`))
	disp.Dispatch(context.Background(), "", request(t, "no/such", nil, `2`))

	if len(calls) != 2 {
		t.Fatalf("observer saw %d calls, want 2", len(calls))
	}
	if calls[0] != (seen{method: MethodPing, code: 0}) {
		t.Errorf("calls[0] = %+v", calls[0])
	}
	if calls[1] != (seen{method: "no/such", code: rpc.CodeMethodNotFound}) {
		t.Errorf("calls[1] = %+v", calls[1])
	}
}

// closeFunc adapts a func into a transport.Handle.
type closeFunc func()

func (f closeFunc) Close() error { f(); return nil }

// panicInvoker blows up on every call, for the recover barrier test.
type panicInvoker struct{}

func (panicInvoker) ListAgents(context.Context) ([]outbound.AgentDescriptor, error) {
	panic("invoker exploded")
}
func (panicInvoker) DescribeAgent(context.Context, string) (*outbound.AgentDescriptor, error) {
	panic("invoker exploded")
}
func (panicInvoker) Query(context.Context, outbound.QueryRequest) (*outbound.QueryResult, error) {
	panic("invoker exploded")
}
func (panicInvoker) Close() error { return nil }

// unavailableInvoker always reports the runtime as unreachable.
type unavailableInvoker struct{}

func (unavailableInvoker) ListAgents(context.Context) ([]outbound.AgentDescriptor, error) {
	return nil, outbound.ErrAgentUnavailable
}
func (unavailableInvoker) DescribeAgent(context.Context, string) (*outbound.AgentDescriptor, error) {
	return nil, outbound.ErrAgentUnavailable
}
func (unavailableInvoker) Query(context.Context, outbound.QueryRequest) (*outbound.QueryResult, error) {
	return nil, outbound.ErrAgentUnavailable
}
func (unavailableInvoker) Close() error { return nil }
