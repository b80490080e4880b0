package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/mnema-ai/mnema/internal/domain"
	"golang.org/x/time/rate"
)

const (
	openAIChatURL   = "https://api.openai.com/v1/chat/completions"
	openAIModelsURL = "https://api.openai.com/v1/models"
	openAIModel     = "gpt-4o-mini"
)

type OpenAIClient struct {
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *ResponseCache
}

func NewOpenAIClient(apiKey string, cache *ResponseCache) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
		cache:      cache,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	TopP        float64       `json:"top_p,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) Info() domain.ModelInfo {
	return domain.ModelInfo{
		Name:              openAIModel,
		Provider:          ProviderOpenAI,
		MaxContextTokens:  128000,
		SupportsStreaming: true,
		CostPer1KTokens:   0.00015,
	}
}

func (c *OpenAIClient) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, openAIModelsURL, nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *OpenAIClient) Generate(ctx context.Context, prompt string, role *domain.RoleContext, history []domain.Turn, memoryContext string, opts domain.GenerateOptions) (string, error) {
	opts = normalizeOptions(opts)

	var fp string
	if c.cache != nil && cacheable(opts) {
		fp = Fingerprint(prompt, role, history)
		if text, ok := c.cache.Get(fp); ok {
			return text, nil
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return "", domain.Wrap(domain.KindProvider, "model throttle wait", err)
	}

	messages := []chatMessage{{Role: "system", Content: composeSystemPrompt(role, memoryContext)}}
	for _, turn := range history {
		r := turn.Role
		if r != "user" && r != "assistant" {
			r = "user"
		}
		messages = append(messages, chatMessage{Role: r, Content: turn.Content})
	}
	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{
		Model:       openAIModel,
		Messages:    messages,
		Temperature: opts.Temperature,
		MaxTokens:   opts.MaxTokens,
		TopP:        opts.TopP,
		Stop:        opts.StopSequences,
	})
	if err != nil {
		return "", domain.Wrap(domain.KindProvider, "marshal chat request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIChatURL, bytes.NewReader(body))
	if err != nil {
		return "", domain.Wrap(domain.KindProvider, "create chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", domain.Wrap(domain.KindProvider, "chat request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", domain.Wrap(domain.KindProvider, "read chat response", err)
	}

	if resp.StatusCode != http.StatusOK {
		kind := classifyStatus(resp.StatusCode, string(respBody))
		return "", domain.E(kind, fmt.Sprintf("chat API returned status %d", resp.StatusCode))
	}

	var result chatResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", domain.Wrap(domain.KindProvider, "unmarshal chat response", err)
	}
	if result.Error != nil {
		return "", domain.E(domain.KindProvider, "chat API error: "+result.Error.Message)
	}
	if len(result.Choices) == 0 {
		return "", domain.E(domain.KindProvider, "chat API returned no choices")
	}

	text := strings.TrimSpace(result.Choices[0].Message.Content)
	if fp != "" {
		_ = c.cache.Set(fp, prompt, text)
	}
	return text, nil
}
