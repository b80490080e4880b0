package llm

import (
	"context"

	"github.com/mnema-ai/mnema/internal/domain"
	"go.uber.org/zap"
)

// Router tries an ordered list of providers. Remote-API failures (rate
// limit, auth, provider error) advance to the next provider; anything else
// surfaces immediately.
type Router struct {
	providers []domain.ModelProvider
	logger    *zap.Logger
}

func NewRouter(providers []domain.ModelProvider, logger *zap.Logger) *Router {
	return &Router{providers: providers, logger: logger}
}

// Primary returns the first provider, or nil when none are configured.
func (r *Router) Primary() domain.ModelProvider {
	if len(r.providers) == 0 {
		return nil
	}
	return r.providers[0]
}

// Generate runs the call against the provider chain and reports which
// provider served it. With useFallbacks false the first failure is final.
func (r *Router) Generate(ctx context.Context, prompt string, role *domain.RoleContext, history []domain.Turn, memoryContext string, opts domain.GenerateOptions, useFallbacks bool) (string, string, error) {
	if len(r.providers) == 0 {
		return "", "", domain.E(domain.KindMissingConfig, "no model providers configured")
	}

	var lastErr error
	for i, p := range r.providers {
		text, err := p.Generate(ctx, prompt, role, history, memoryContext, opts)
		if err == nil {
			if i > 0 {
				r.logger.Info("served by fallback provider",
					zap.String("provider", p.Info().Name),
					zap.Int("position", i))
			}
			return text, p.Info().Name, nil
		}

		lastErr = err
		if !useFallbacks || !domain.Retriable(err) {
			return "", p.Info().Name, err
		}
		r.logger.Warn("provider failed, trying next",
			zap.String("provider", p.Info().Name),
			zap.String("kind", string(domain.KindOf(err))),
			zap.Error(err))
	}
	return "", "", lastErr
}
