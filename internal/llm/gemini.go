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
	geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	geminiModel   = "gemini-2.0-flash"
)

type GeminiClient struct {
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *ResponseCache
}

func NewGeminiClient(apiKey string, cache *ResponseCache) *GeminiClient {
	return &GeminiClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
		cache:      cache,
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiGenerationConfig struct {
	Temperature     float64  `json:"temperature"`
	MaxOutputTokens int      `json:"maxOutputTokens,omitempty"`
	TopP            float64  `json:"topP,omitempty"`
	TopK            int      `json:"topK,omitempty"`
	StopSequences   []string `json:"stopSequences,omitempty"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent         `json:"systemInstruction,omitempty"`
	Contents          []geminiContent        `json:"contents"`
	GenerationConfig  geminiGenerationConfig `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *GeminiClient) Info() domain.ModelInfo {
	return domain.ModelInfo{
		Name:              geminiModel,
		Provider:          ProviderGemini,
		MaxContextTokens:  1048576,
		SupportsStreaming: true,
		CostPer1KTokens:   0.0001,
	}
}

func (c *GeminiClient) Available(ctx context.Context) bool {
	url := fmt.Sprintf("%s/models/%s", geminiBaseURL, geminiModel)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return false
	}
	req.Header.Set("x-goog-api-key", c.apiKey)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

func (c *GeminiClient) Generate(ctx context.Context, prompt string, role *domain.RoleContext, history []domain.Turn, memoryContext string, opts domain.GenerateOptions) (string, error) {
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

	reqBody := geminiRequest{
		SystemInstruction: &geminiContent{
			Parts: []geminiPart{{Text: composeSystemPrompt(role, memoryContext)}},
		},
		GenerationConfig: geminiGenerationConfig{
			Temperature:     opts.Temperature,
			MaxOutputTokens: opts.MaxTokens,
			TopP:            opts.TopP,
			TopK:            opts.TopK,
			StopSequences:   opts.StopSequences,
		},
	}
	for _, turn := range history {
		r := "user"
		if turn.Role == "assistant" {
			r = "model"
		}
		reqBody.Contents = append(reqBody.Contents, geminiContent{Role: r, Parts: []geminiPart{{Text: turn.Content}}})
	}
	reqBody.Contents = append(reqBody.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: prompt}}})

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", domain.Wrap(domain.KindProvider, "marshal chat request", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", geminiBaseURL, geminiModel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", domain.Wrap(domain.KindProvider, "create chat request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

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

	var result geminiResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", domain.Wrap(domain.KindProvider, "unmarshal chat response", err)
	}
	if result.Error != nil {
		return "", domain.E(domain.KindProvider, "chat API error: "+result.Error.Message)
	}
	if len(result.Candidates) == 0 || len(result.Candidates[0].Content.Parts) == 0 {
		return "", domain.E(domain.KindProvider, "chat API returned no candidates")
	}

	var sb strings.Builder
	for _, part := range result.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	text := strings.TrimSpace(sb.String())

	if fp != "" {
		_ = c.cache.Set(fp, prompt, text)
	}
	return text, nil
}
