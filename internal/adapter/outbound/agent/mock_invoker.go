package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentrelay/agentrelay/internal/port/outbound"
)

// MockInvoker is a self-contained invoker for development mode: a fixed
// agent catalog and deterministic answers, no network. The echo agent
// reflects the prompt back; the recorder agent additionally returns a
// state delta so the merge-back path can be exercised end to end.
type MockInvoker struct {
	agents []outbound.AgentDescriptor
}

// NewMockInvoker creates the development-mode invoker.
func NewMockInvoker() *MockInvoker {
	return &MockInvoker{
		agents: []outbound.AgentDescriptor{
			{
				Name:         "echo",
				Description:  "Reflects the prompt back unchanged.",
				Capabilities: []string{"query"},
			},
			{
				Name:         "recorder",
				Description:  "Echoes the prompt and records it into session state.",
				Capabilities: []string{"query", "state"},
			},
		},
	}
}

func (m *MockInvoker) ListAgents(_ context.Context) ([]outbound.AgentDescriptor, error) {
	out := make([]outbound.AgentDescriptor, len(m.agents))
	copy(out, m.agents)
	return out, nil
}

func (m *MockInvoker) DescribeAgent(_ context.Context, name string) (*outbound.AgentDescriptor, error) {
	for _, desc := range m.agents {
		if desc.Name == name {
			d := desc
			return &d, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", name, outbound.ErrAgentNotFound)
}

func (m *MockInvoker) Query(ctx context.Context, req outbound.QueryRequest) (*outbound.QueryResult, error) {
	if _, err := m.DescribeAgent(ctx, req.Agent); err != nil {
		return nil, err
	}

	output, err := json.Marshal(map[string]any{"text": req.Prompt})
	if err != nil {
		return nil, fmt.Errorf("marshal mock output: %w", err)
	}

	result := &outbound.QueryResult{
		Agent:  req.Agent,
		Output: output,
	}
	if req.Agent == "recorder" {
		turns := 0.0
		if prior, ok := req.SessionData["turns"].(float64); ok {
			turns = prior
		}
		result.StateDelta = map[string]any{
			"lastPrompt": req.Prompt,
			"turns":      turns + 1,
		}
	}
	return result, nil
}

func (m *MockInvoker) Close() error { return nil }

// Compile-time interface verification.
var _ outbound.AgentInvoker = (*MockInvoker)(nil)
