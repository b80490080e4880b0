// Package llm hosts the model providers, the response cache and the fallback
// router that together turn prompts into response text.
package llm

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

const (
	requestTimeout     = 60 * time.Second
	defaultTemperature = 0.7
	defaultMaxTokens   = 1024
)

// NewClient creates a model provider based on the provider name. The cache
// may be nil to disable response caching.
func NewClient(provider, apiKey string, cache *ResponseCache) (domain.ModelProvider, error) {
	switch provider {
	case ProviderGemini:
		if apiKey == "" {
			return nil, domain.E(domain.KindMissingConfig, "GEMINI_API_KEY is required for the gemini provider")
		}
		return NewGeminiClient(apiKey, cache), nil

	case ProviderOpenAI:
		if apiKey == "" {
			return nil, domain.E(domain.KindMissingConfig, "OPENAI_API_KEY is required for the openai provider")
		}
		return NewOpenAIClient(apiKey, cache), nil

	case ProviderMock:
		return NewMockProvider(), nil

	default:
		return nil, domain.E(domain.KindInvalidConfig,
			fmt.Sprintf("unknown LLM provider: %s (valid options: gemini, openai, mock)", provider))
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

// composeSystemPrompt builds the system prompt: fixed identity, persona
// fields verbatim, and the emotional-context block when tone guidance is
// present.
func composeSystemPrompt(role *domain.RoleContext, memoryContext string) string {
	var sb strings.Builder
	sb.WriteString(identityPrompt)

	if role != nil {
		sb.WriteString("\n\nYou are currently playing the role of ")
		if role.Name != "" {
			sb.WriteString(role.Name)
		} else {
			sb.WriteString("an assistant")
		}
		sb.WriteString(".")
		if role.Personality != "" {
			sb.WriteString("\nPersonality: " + role.Personality)
		}
		if role.SpeakingStyle != "" {
			sb.WriteString("\nSpeaking style: " + role.SpeakingStyle)
		}
		if role.KnowledgeAreas != "" {
			sb.WriteString("\nKnowledge areas: " + role.KnowledgeAreas)
		}
		if role.Behaviors != "" {
			sb.WriteString("\nBehaviors: " + role.Behaviors)
		}
	}

	if memoryContext != "" {
		sb.WriteString("\n\n" + memoryContext)
	}

	if role != nil && role.ToneGuidance != "" {
		sb.WriteString("\n\n--- Current Emotional Context ---\n")
		sb.WriteString(role.ToneGuidance)
		sb.WriteString("\n---")
	}

	return sb.String()
}

// normalizeOptions fills in provider defaults for unset knobs.
func normalizeOptions(opts domain.GenerateOptions) domain.GenerateOptions {
	if opts.Temperature == 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.MaxTokens == 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	return opts
}

// cacheable reports whether a call may be served from the response cache.
// Only the mid-range temperature band is cached; anything hotter or colder
// is intentionally non-deterministic or too deterministic to be worth it.
func cacheable(opts domain.GenerateOptions) bool {
	return !opts.BypassCache && opts.Temperature >= 0.6 && opts.Temperature <= 0.8
}
