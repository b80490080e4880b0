package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/mnema-ai/mnema/internal/domain"
)

// MockProvider is an in-memory model provider for tests and offline runs.
// Responses can be scripted per prompt or set globally; every call is
// recorded.
type MockProvider struct {
	mu sync.Mutex

	// Response is returned when no scripted entry matches.
	Response string
	// Responses maps exact prompts to scripted replies.
	Responses map[string]string
	// Err, when set, is returned by every Generate call.
	Err error
	// Unavailable makes Available report false.
	Unavailable bool

	GenerateCalls []string
}

func NewMockProvider() *MockProvider {
	return &MockProvider{Responses: map[string]string{}}
}

func (m *MockProvider) Info() domain.ModelInfo {
	return domain.ModelInfo{
		Name:             "mock",
		Provider:         ProviderMock,
		MaxContextTokens: 8192,
	}
}

func (m *MockProvider) Available(_ context.Context) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.Unavailable
}

func (m *MockProvider) Generate(_ context.Context, prompt string, _ *domain.RoleContext, _ []domain.Turn, _ string, _ domain.GenerateOptions) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.GenerateCalls = append(m.GenerateCalls, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	if resp, ok := m.Responses[prompt]; ok {
		return resp, nil
	}
	if m.Response != "" {
		return m.Response, nil
	}
	return fmt.Sprintf("mock response %d", len(m.GenerateCalls)), nil
}

var _ domain.ModelProvider = (*MockProvider)(nil)
