package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"sync"
)

// MockClient is a deterministic embedding client for testing. By default it
// hashes the input into a stable pseudo-vector; set Vectors to control the
// output for specific inputs, or Err to force a failure. Safe for concurrent
// use; embeddings are generated on background goroutines.
type MockClient struct {
	mu sync.Mutex

	Dim     int
	Vectors map[string][]float32
	Err     error

	// Call tracking for assertions
	EmbedCalls []string
}

func NewMockClient(dim int) *MockClient {
	return &MockClient{Dim: dim, Vectors: map[string][]float32{}}
}

func (c *MockClient) Dimension() int { return c.Dim }

func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.EmbedCalls = append(c.EmbedCalls, text)
	if c.Err != nil {
		return nil, c.Err
	}
	if text == "" {
		return make([]float32, c.Dim), nil
	}
	if v, ok := c.Vectors[text]; ok {
		return v, nil
	}

	// Stable pseudo-embedding: seed an LCG from the FNV hash of the text.
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	state := h.Sum64()
	v := make([]float32, c.Dim)
	var norm float64
	for i := range v {
		state = state*6364136223846793005 + 1442695040888963407
		v[i] = float32(int64(state>>33))/float32(1<<30) - 1
		norm += float64(v[i]) * float64(v[i])
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}
	return v, nil
}
