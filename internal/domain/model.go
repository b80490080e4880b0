package domain

import "context"

// RoleContext carries the persona fields injected verbatim into the model's
// system prompt, plus an optional tone hint from sentiment analysis.
type RoleContext struct {
	Name           string
	Personality    string
	SpeakingStyle  string
	KnowledgeAreas string
	Behaviors      string
	ToneGuidance   string
}

// Turn is one entry of an alternating conversation history.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// GenerateOptions tune a single model call.
type GenerateOptions struct {
	Temperature   float64
	MaxTokens     int
	TopP          float64
	TopK          int
	StopSequences []string
	BypassCache   bool
}

// ModelInfo describes a provider's capabilities.
type ModelInfo struct {
	Name              string
	Provider          string
	MaxContextTokens  int
	SupportsStreaming bool
	CostPer1KTokens   float64
}

// ModelProvider converts a prompt plus context into response text.
// Implementations map remote failures onto KindRateLimit, KindAuth and
// KindProvider so the router can decide whether to fall back.
type ModelProvider interface {
	Generate(ctx context.Context, prompt string, role *RoleContext, history []Turn, memoryContext string, opts GenerateOptions) (string, error)
	Info() ModelInfo
	Available(ctx context.Context) bool
}

// EmbeddingClient converts text into a fixed-dimension vector. Empty input
// yields a zero vector of the provider's native dimension, never an error.
type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

// Sentiment is the classified emotion of a user utterance.
type Sentiment struct {
	PrimaryEmotion string `json:"primary_emotion"`
	Intensity      int    `json:"intensity"`
	Explanation    string `json:"explanation"`
}

// NeutralSentiment is the safe default when classification fails.
func NeutralSentiment() Sentiment {
	return Sentiment{PrimaryEmotion: "neutral", Intensity: 3}
}

// ToneAdjustment is the sentiment-derived tweak applied to a model call.
type ToneAdjustment struct {
	Temperature  float64
	ToneGuidance string
}
