package testutil

import (
	"context"
	"strings"
	"sync"

	"lumen/provider"
)

// MockProvider implements provider.Provider for tests. With no funcs set it
// streams Deltas one by one.
type MockProvider struct {
	ChatFunc     func(ctx context.Context, messages []provider.Message, callback provider.StreamCallback) error
	CompleteFunc func(ctx context.Context, messages []provider.Message) (string, error)

	Deltas []string
	Model  string
	Kind   provider.ProviderType

	mu       sync.Mutex
	received [][]provider.Message
}

// NewMockProvider creates a mock that streams deltas.
func NewMockProvider(deltas ...string) *MockProvider {
	return &MockProvider{
		Deltas: deltas,
		Model:  "mock-model",
		Kind:   provider.ProviderTypeOpenAI,
	}
}

func (m *MockProvider) Chat(ctx context.Context, messages []provider.Message, callback provider.StreamCallback) error {
	m.record(messages)
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, messages, callback)
	}

	for _, d := range m.Deltas {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := callback(d); err != nil {
			return err
		}
	}
	return nil
}

func (m *MockProvider) Complete(ctx context.Context, messages []provider.Message) (string, error) {
	m.record(messages)
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, messages)
	}
	return strings.Join(m.Deltas, ""), nil
}

func (m *MockProvider) GetModel() string {
	return m.Model
}

func (m *MockProvider) Type() provider.ProviderType {
	return m.Kind
}

// Received returns the message lists passed to Chat and Complete.
func (m *MockProvider) Received() [][]provider.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]provider.Message(nil), m.received...)
}

func (m *MockProvider) record(messages []provider.Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.received = append(m.received, append([]provider.Message(nil), messages...))
}
