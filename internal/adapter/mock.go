package adapter

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/xunmengshe2x/Claudable/internal/message"
)

// MockAdapter is a deterministic adapter for tests and demos.
type MockAdapter struct {
	name string
	// Unavailable makes the adapter report itself as missing.
	Unavailable bool

	mu    sync.Mutex
	calls int
}

// NewMockAdapter returns a mock registered under name.
func NewMockAdapter(name string) *MockAdapter {
	if name == "" {
		name = "mock"
	}
	return &MockAdapter{name: name}
}

func (m *MockAdapter) Name() string { return m.name }

// Calls reports how many executions were started.
func (m *MockAdapter) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockAdapter) CheckAvailability(ctx context.Context) (Availability, error) {
	if m.Unavailable {
		return Availability{Error: "mock adapter disabled"}, nil
	}
	return Availability{Available: true, Configured: true, Version: "mock", DefaultModel: "mock-model", Models: []string{"mock-model"}}, nil
}

func (m *MockAdapter) ExecuteWithStreaming(ctx context.Context, req ExecutionRequest) (iter.Seq[message.Message], error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	f := message.Factory{Adapter: m.name, SessionID: req.SessionID, ProjectPath: req.ProjectPath}
	if m.Unavailable {
		return Single(f.Error(message.KindUnavailable, "mock adapter disabled", nil)), nil
	}

	m.mu.Lock()
	m.calls++
	m.mu.Unlock()

	script := []message.Message{
		f.Status("mock session ready", map[string]any{"initial": req.IsInitialPrompt}),
		f.New(message.RoleAssistant, message.TypeChat, "Hello from the mock adapter.", nil),
		f.New(message.RoleAssistant, message.TypeToolUse, "**Read** `README.md`", map[string]any{"tool_name": "read", "tool_input": map[string]any{"path": "README.md"}}),
		f.New(message.RoleAssistant, message.TypeChat, "Done: "+req.Instruction, nil),
		f.New(message.RoleSystem, message.TypeResult, "Mock turn completed", map[string]any{"hidden_from_ui": true}),
	}
	var used atomic.Bool
	return func(yield func(message.Message) bool) {
		if !used.CompareAndSwap(false, true) {
			yield(f.Error(message.KindProtocol, "message stream already consumed; start a new execution", nil))
			return
		}
		for _, msg := range script {
			if ctx.Err() != nil {
				yield(f.Error(message.KindCancelled, "execution cancelled", nil))
				return
			}
			if !yield(msg) {
				return
			}
		}
	}, nil
}
