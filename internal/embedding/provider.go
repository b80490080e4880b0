// Package embedding converts text into fixed-dimension vectors via remote
// APIs and provides the similarity math used across the memory subsystem.
package embedding

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mnema-ai/mnema/internal/domain"
)

// Provider constants
const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
	ProviderMock   = "mock"
)

const requestTimeout = 30 * time.Second

// NewClient creates an embedding client based on the provider name.
func NewClient(provider, apiKey string) (domain.EmbeddingClient, error) {
	switch provider {
	case ProviderGemini:
		if apiKey == "" {
			return nil, domain.E(domain.KindMissingConfig, "GEMINI_API_KEY is required for the gemini embedding provider")
		}
		return NewGeminiClient(apiKey), nil

	case ProviderOpenAI:
		if apiKey == "" {
			return nil, domain.E(domain.KindMissingConfig, "OPENAI_API_KEY is required for the openai embedding provider")
		}
		return NewOpenAIClient(apiKey), nil

	case ProviderMock:
		return NewMockClient(8), nil

	default:
		return nil, domain.E(domain.KindInvalidConfig,
			fmt.Sprintf("unknown embedding provider: %s (valid options: gemini, openai, mock)", provider))
	}
}

// classifyStatus maps an HTTP response onto the remote-API error taxonomy.
func classifyStatus(status int, body string) domain.ErrorKind {
	switch {
	case status == http.StatusTooManyRequests || strings.Contains(body, "rate_limit"):
		return domain.KindRateLimit
	case status == http.StatusUnauthorized || status == http.StatusForbidden || strings.Contains(body, "authentication"):
		return domain.KindAuth
	default:
		return domain.KindProvider
	}
}
