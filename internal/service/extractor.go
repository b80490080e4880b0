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

// MemoryExtractor asks the model for structured facts worth keeping from a
// user utterance. Extraction is best-effort: any model or parse failure
// yields an empty list, never an error.
type MemoryExtractor struct {
	provider domain.ModelProvider
	logger   *zap.Logger
}

func NewMemoryExtractor(provider domain.ModelProvider, logger *zap.Logger) *MemoryExtractor {
	return &MemoryExtractor{provider: provider, logger: logger}
}

// Extract returns the structured memories found in message. userContext is
// optional background (e.g. known facts) prepended to the prompt.
func (e *MemoryExtractor) Extract(ctx context.Context, message, userContext string) []domain.ExtractedMemory {
	if e.provider == nil || strings.TrimSpace(message) == "" {
		return nil
	}

	contextBlock := ""
	if userContext != "" {
		contextBlock = "Known user context:\n" + userContext + "\n\n"
	}
	prompt := fmt.Sprintf(llm.ExtractionPrompt, contextBlock, message)

	raw, err := e.provider.Generate(ctx, prompt, nil, nil, "", domain.GenerateOptions{
		Temperature: 0.2,
		MaxTokens:   512,
		BypassCache: true,
	})
	if err != nil {
		e.logger.Warn("memory extraction call failed", zap.Error(err))
		return nil
	}

	records := parseExtraction(raw)
	if len(records) > 0 {
		e.logger.Debug("extracted memories", zap.Int("count", len(records)))
	}
	return records
}

// rawExtraction uses pointers so missing keys are distinguishable from
// zero values.
type rawExtraction struct {
	Content    *string  `json:"content"`
	Category   *string  `json:"category"`
	Importance *float64 `json:"importance"`
}

// parseExtraction pulls the outermost JSON array out of a model response.
// Elements missing any of the three keys are dropped; importance is clamped
// to the ingestion range. Unparseable input yields nil.
func parseExtraction(raw string) []domain.ExtractedMemory {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil
	}

	var items []rawExtraction
	if err := json.Unmarshal([]byte(raw[start:end+1]), &items); err != nil {
		return nil
	}

	out := make([]domain.ExtractedMemory, 0, len(items))
	for _, it := range items {
		if it.Content == nil || it.Category == nil || it.Importance == nil {
			continue
		}
		content := strings.TrimSpace(*it.Content)
		if content == "" {
			continue
		}
		category := strings.ToLower(strings.TrimSpace(*it.Category))
		if category == "" {
			category = domain.DefaultCategory
		}
		imp := int(*it.Importance)
		if imp < domain.MinImportance {
			imp = domain.MinImportance
		}
		if imp > domain.MaxImportance {
			imp = domain.MaxImportance
		}
		out = append(out, domain.ExtractedMemory{Content: content, Category: category, Importance: imp})
	}
	return out
}
