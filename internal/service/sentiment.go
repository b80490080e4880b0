package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mnema-ai/mnema/internal/domain"
	"github.com/mnema-ai/mnema/internal/llm"
	"go.uber.org/zap"
)

// Temperature bounds after sentiment adjustment.
const (
	minAdjustedTemperature = 0.4
	maxAdjustedTemperature = 0.9
	baseTemperature        = 0.7
)

// SentimentAnalyzer classifies the emotional tone of a message so replies
// can be tuned to it. Classification is best-effort: any failure falls back
// to the neutral default.
type SentimentAnalyzer struct {
	provider domain.ModelProvider
	logger   *zap.Logger
}

func NewSentimentAnalyzer(provider domain.ModelProvider, logger *zap.Logger) *SentimentAnalyzer {
	return &SentimentAnalyzer{provider: provider, logger: logger}
}

// Analyze returns the classified sentiment of message, or the neutral
// default when the model call or parsing fails.
func (s *SentimentAnalyzer) Analyze(ctx context.Context, message string) domain.Sentiment {
	if s.provider == nil || strings.TrimSpace(message) == "" {
		return domain.NeutralSentiment()
	}

	prompt := fmt.Sprintf(llm.SentimentPrompt, message)
	raw, err := s.provider.Generate(ctx, prompt, nil, nil, "", domain.GenerateOptions{
		Temperature: 0.1,
		MaxTokens:   128,
		BypassCache: true,
	})
	if err != nil {
		s.logger.Warn("sentiment call failed", zap.Error(err))
		return domain.NeutralSentiment()
	}
	return parseSentiment(raw)
}

// parseSentiment reads the first JSON object in raw, clamping intensity and
// lowercasing the emotion. Anything unparseable yields the neutral default.
func parseSentiment(raw string) domain.Sentiment {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return domain.NeutralSentiment()
	}

	var parsed domain.Sentiment
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return domain.NeutralSentiment()
	}

	parsed.PrimaryEmotion = strings.ToLower(strings.TrimSpace(parsed.PrimaryEmotion))
	if parsed.PrimaryEmotion == "" {
		return domain.NeutralSentiment()
	}
	if parsed.Intensity < 1 {
		parsed.Intensity = 1
	}
	if parsed.Intensity > 5 {
		parsed.Intensity = 5
	}
	return parsed
}

// toneProfile maps an emotion family onto a temperature shift direction and
// a tone instruction for the system prompt.
type toneProfile struct {
	tempShiftPerIntensity float64
	guidance              string
}

var toneProfiles = map[string]toneProfile{
	"happiness":      {0.05, "The user is in a positive mood. Match their energy with a warm, upbeat tone."},
	"excitement":     {0.05, "The user is excited. Share their enthusiasm while staying helpful."},
	"gratitude":      {0.05, "The user is expressing gratitude. Acknowledge it warmly and briefly."},
	"sadness":        {-0.05, "The user seems sad. Be gentle, empathetic and supportive. Avoid forced cheerfulness."},
	"disappointment": {-0.05, "The user is disappointed. Acknowledge their feelings and focus on being constructive."},
	"anger":          {-0.05, "The user is frustrated or angry. Stay calm, acknowledge the issue, and be direct and solution-focused."},
	"disgust":        {-0.05, "The user is displeased. Stay measured and address their concern head-on."},
	"fear":           {-0.05, "The user seems anxious. Be reassuring and clear. Break things into manageable steps."},
	"anxiety":        {-0.05, "The user seems anxious. Be reassuring and clear. Break things into manageable steps."},
	"confusion":      {-0.05, "The user is confused. Explain simply and clearly, one idea at a time."},
	"surprise":       {0.05, "The user is surprised. Provide context and explanation for what happened."},
}

// Adjustment converts a sentiment into a temperature and tone tweak for the
// next model call. Neutral and unknown emotions leave the defaults alone.
func (s *SentimentAnalyzer) Adjustment(sentiment domain.Sentiment) domain.ToneAdjustment {
	profile, ok := toneProfiles[sentiment.PrimaryEmotion]
	if !ok {
		return domain.ToneAdjustment{Temperature: baseTemperature}
	}

	temp := baseTemperature + profile.tempShiftPerIntensity*float64(sentiment.Intensity)
	if temp < minAdjustedTemperature {
		temp = minAdjustedTemperature
	}
	if temp > maxAdjustedTemperature {
		temp = maxAdjustedTemperature
	}
	return domain.ToneAdjustment{Temperature: temp, ToneGuidance: profile.guidance}
}
