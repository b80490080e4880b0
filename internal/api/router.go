// Package api wires stores, providers and services into the HTTP surface.
package api

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mnema-ai/mnema/internal/api/handlers"
	mw "github.com/mnema-ai/mnema/internal/api/middleware"
	"github.com/mnema-ai/mnema/internal/config"
	"github.com/mnema-ai/mnema/internal/domain"
	"github.com/mnema-ai/mnema/internal/embedding"
	"github.com/mnema-ai/mnema/internal/llm"
	"github.com/mnema-ai/mnema/internal/service"
	"github.com/mnema-ai/mnema/internal/store"
	"go.uber.org/zap"
)

// App holds the router and background services for lifecycle management.
type App struct {
	Router      *chi.Mux
	Chat        *service.ChatService
	Maintenance *service.MaintenanceScheduler

	startTime    time.Time
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

func NewApp(db *sql.DB, logger *zap.Logger) *App {
	// Stores
	userStore := store.NewUserStore(db)
	roleStore := store.NewRoleStore(db)
	conversationStore := store.NewConversationStore(db)
	memoryStore := store.NewMemoryStore(db)
	embeddingStore := store.NewEmbeddingStore(db)
	consolidationStore := store.NewConsolidationStore(db)
	summaryStore := store.NewSummaryStore(db)

	// Response cache
	cache, err := llm.NewResponseCache(config.ResponseCacheDir(),
		time.Duration(config.ResponseCacheTTLSeconds())*time.Second)
	if err != nil {
		logger.Warn("response cache disabled", zap.Error(err))
		cache = nil
	}

	// Model provider chain: configured primary, then the OpenAI fallback
	// when enabled and distinct.
	var providers []domain.ModelProvider
	primary, err := llm.NewClient(config.LLMProvider(), providerKey(config.LLMProvider()), cache)
	if err != nil {
		logger.Warn("primary model provider unavailable",
			zap.String("provider", config.LLMProvider()), zap.Error(err))
	} else {
		providers = append(providers, primary)
		logger.Info("model provider initialized", zap.String("provider", config.LLMProvider()))
	}
	if config.OpenAIEnabled() && config.LLMProvider() != llm.ProviderOpenAI {
		fallback, err := llm.NewClient(llm.ProviderOpenAI, config.OpenAIAPIKey(), cache)
		if err != nil {
			logger.Warn("openai fallback unavailable", zap.Error(err))
		} else {
			providers = append(providers, fallback)
			logger.Info("fallback model provider initialized", zap.String("provider", llm.ProviderOpenAI))
		}
	}
	router := llm.NewRouter(providers, logger)

	embedder, err := embedding.NewClient(config.EmbeddingProvider(), providerKey(config.EmbeddingProvider()))
	if err != nil {
		logger.Warn("embedding client unavailable, semantic retrieval disabled",
			zap.String("provider", config.EmbeddingProvider()), zap.Error(err))
		embedder = embedding.NewMockClient(768)
	}

	// Services
	extractor := service.NewMemoryExtractor(router.Primary(), logger)
	manager := service.NewMemoryManager(memoryStore, embeddingStore, embedder, extractor, logger)
	sentiment := service.NewSentimentAnalyzer(router.Primary(), logger)
	limiter := service.NewRateLimiter(
		time.Duration(config.RateLimitWindow())*time.Second,
		config.RateLimitMaxRequests(),
		config.AdminUserIDs())
	consolidator := service.NewConsolidator(memoryStore, embeddingStore, consolidationStore,
		summaryStore, router, service.ConsolidatorConfig{MarkSources: true}, logger)
	decay := service.NewDecayEngine(memoryStore, logger)
	maintenance := service.NewMaintenanceScheduler(memoryStore, conversationStore, consolidator,
		decay, cache, db, time.Duration(config.MaintenanceIntervalHours())*time.Hour, logger)
	chat := service.NewChatService(userStore, roleStore, conversationStore, manager, sentiment,
		router, limiter, config.MaxConversationHistory(), logger)

	// Handlers
	verbosity := config.ErrorVerbosity()
	chatHandler := handlers.NewChatHandler(chat, verbosity, logger)
	memoryHandler := handlers.NewMemoryHandler(manager, memoryStore, verbosity, logger)
	maintenanceHandler := handlers.NewMaintenanceHandler(maintenance, verbosity, logger)

	r := chi.NewRouter()
	app := &App{
		Router:      r,
		Chat:        chat,
		Maintenance: maintenance,
		startTime:   time.Now(),
	}

	metricsCollector := mw.NewMetricsCollector(&app.requestCount, &app.errorCount)

	// Global middleware (order matters)
	r.Use(mw.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metricsCollector.Middleware)
	r.Use(mw.Logging(logger))
	r.Use(middleware.Recoverer)
	r.Use(mw.RateLimit(config.RateLimitRPS(), config.RateLimitBurst()))

	r.Get("/health", healthHandler(db))
	r.Get("/metrics", app.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/chat", chatHandler.Converse)

		r.Route("/users/{id}/memories", func(r chi.Router) {
			r.Get("/", memoryHandler.List)
			r.Post("/", memoryHandler.Create)
		})
		r.Delete("/memories/{id}", memoryHandler.Delete)

		r.Post("/maintenance/run", maintenanceHandler.Run)
	})

	return app
}

// providerKey maps a provider name to its configured credential.
func providerKey(provider string) string {
	switch provider {
	case "openai":
		return config.OpenAIAPIKey()
	case "gemini":
		return config.GeminiAPIKey()
	default:
		return ""
	}
}

func healthHandler(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "error", "error": err.Error()})
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}

func (app *App) metricsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var memStats runtime.MemStats
		runtime.ReadMemStats(&memStats)

		uptime := time.Since(app.startTime)
		response := map[string]any{
			"uptime_seconds": uptime.Seconds(),
			"uptime_human":   uptime.Round(time.Second).String(),
			"request_count":  app.requestCount.Load(),
			"error_count":    app.errorCount.Load(),
			"goroutines":     runtime.NumGoroutine(),
			"memory": map[string]any{
				"alloc_mb":       float64(memStats.Alloc) / 1024 / 1024,
				"total_alloc_mb": float64(memStats.TotalAlloc) / 1024 / 1024,
				"sys_mb":         float64(memStats.Sys) / 1024 / 1024,
				"num_gc":         memStats.NumGC,
			},
			"go_version": runtime.Version(),
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(response)
	}
}

// Compile-time interface checks for the store layer.
var (
	_ domain.UserStore          = (*store.UserStore)(nil)
	_ domain.RoleStore          = (*store.RoleStore)(nil)
	_ domain.ConversationStore  = (*store.ConversationStore)(nil)
	_ domain.MemoryStore        = (*store.MemoryStore)(nil)
	_ domain.EmbeddingIndex     = (*store.EmbeddingStore)(nil)
	_ domain.RelationshipStore  = (*store.RelationshipStore)(nil)
	_ domain.ConsolidationStore = (*store.ConsolidationStore)(nil)
	_ domain.SummaryStore       = (*store.SummaryStore)(nil)
)
