package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/mnema-ai/mnema/internal/domain"
	"golang.org/x/time/rate"
)

const (
	geminiEmbeddingURL   = "https://generativelanguage.googleapis.com/v1beta/models/%s:embedContent"
	geminiEmbeddingModel = "text-embedding-004"
	geminiDimension      = 768
)

type GeminiClient struct {
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
	}
}

type geminiEmbedRequest struct {
	Model   string `json:"model"`
	Content struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"content"`
}

type geminiEmbedResponse struct {
	Embedding struct {
		Values []float32 `json:"values"`
	} `json:"embedding"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *GeminiClient) Dimension() int { return geminiDimension }

func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, geminiDimension), nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.Wrap(domain.KindProvider, "embedding throttle wait", err)
	}

	reqBody := geminiEmbedRequest{Model: "models/" + geminiEmbeddingModel}
	reqBody.Content.Parts = []struct {
		Text string `json:"text"`
	}{{Text: text}}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, domain.Wrap(domain.KindProvider, "marshal embedding request", err)
	}

	url := fmt.Sprintf(geminiEmbeddingURL, geminiEmbeddingModel)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, domain.Wrap(domain.KindProvider, "create embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.Wrap(domain.KindProvider, "embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Wrap(domain.KindProvider, "read embedding response", err)
	}

	if resp.StatusCode != http.StatusOK {
		kind := classifyStatus(resp.StatusCode, string(respBody))
		return nil, domain.E(kind, fmt.Sprintf("embedding API returned status %d", resp.StatusCode))
	}

	var result geminiEmbedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, domain.Wrap(domain.KindProvider, "unmarshal embedding response", err)
	}
	if result.Error != nil {
		return nil, domain.E(domain.KindProvider, "embedding API error: "+result.Error.Message)
	}
	if len(result.Embedding.Values) == 0 {
		return nil, domain.E(domain.KindProvider, "embedding API returned no values")
	}
	return result.Embedding.Values, nil
}
