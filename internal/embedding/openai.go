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
	openAIEmbeddingURL   = "https://api.openai.com/v1/embeddings"
	openAIEmbeddingModel = "text-embedding-3-small"
	openAIDimension      = 1536
)

type OpenAIClient struct {
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewOpenAIClient(apiKey string) *OpenAIClient {
	return &OpenAIClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: requestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(5), 10),
	}
}

type openAIEmbedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *OpenAIClient) Dimension() int { return openAIDimension }

func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return make([]float32, openAIDimension), nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, domain.Wrap(domain.KindProvider, "embedding throttle wait", err)
	}

	body, err := json.Marshal(openAIEmbedRequest{Model: openAIEmbeddingModel, Input: text})
	if err != nil {
		return nil, domain.Wrap(domain.KindProvider, "marshal embedding request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, openAIEmbeddingURL, bytes.NewReader(body))
	if err != nil {
		return nil, domain.Wrap(domain.KindProvider, "create embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

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

	var result openAIEmbedResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, domain.Wrap(domain.KindProvider, "unmarshal embedding response", err)
	}
	if result.Error != nil {
		return nil, domain.E(domain.KindProvider, "embedding API error: "+result.Error.Message)
	}
	if len(result.Data) == 0 {
		return nil, domain.E(domain.KindProvider, "embedding API returned no data")
	}
	return result.Data[0].Embedding, nil
}
