package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Load reads the .env file specified by MNEMA_ENV (or .env by default),
// then loads the corresponding .secret sidecar if it exists.
// All config is flat env vars read via os.Getenv after loading.
func Load() error {
	envFile := os.Getenv("MNEMA_ENV")
	if envFile == "" {
		envFile = ".env"
	}

	_ = godotenv.Load(envFile)
	_ = godotenv.Load(envFile + ".secret")

	return nil
}

func ServerPort() int {
	port, err := strconv.Atoi(os.Getenv("SERVER_PORT"))
	if err != nil {
		return 8080
	}
	return port
}

func ServerAddr() string {
	return fmt.Sprintf(":%d", ServerPort())
}

func DatabasePath() string {
	p := os.Getenv("DATABASE_PATH")
	if p == "" {
		return "mnema.db"
	}
	return p
}

func TelegramBotToken() string {
	return os.Getenv("TELEGRAM_BOT_TOKEN")
}

func GeminiAPIKey() string {
	return os.Getenv("GEMINI_API_KEY")
}

func OpenAIAPIKey() string {
	return os.Getenv("OPENAI_API_KEY")
}

// OpenAIEnabled gates the OpenAI fallback providers.
func OpenAIEnabled() bool {
	v := strings.ToLower(os.Getenv("ENABLE_OPENAI"))
	return v == "1" || v == "true" || v == "yes"
}

// LLMProvider returns the configured primary model provider.
// Valid values: gemini, openai, mock. Defaults to "gemini".
func LLMProvider() string {
	p := os.Getenv("LLM_PROVIDER")
	if p == "" {
		return "gemini"
	}
	return p
}

// EmbeddingProvider returns the configured primary embedding provider.
// Valid values: gemini, openai, mock. Defaults to "gemini".
func EmbeddingProvider() string {
	p := os.Getenv("EMBEDDING_PROVIDER")
	if p == "" {
		return "gemini"
	}
	return p
}

// MaxConversationHistory is the number of history turns passed to the model.
func MaxConversationHistory() int {
	n, err := strconv.Atoi(os.Getenv("MAX_CONVERSATION_HISTORY"))
	if err != nil || n <= 0 {
		return 10
	}
	return n
}

func DefaultLanguage() string {
	l := os.Getenv("DEFAULT_LANGUAGE")
	if l == "" {
		return "en"
	}
	return l
}

// LogLevel returns the log level (debug, info, warn, error).
func LogLevel() string {
	level := os.Getenv("LOG_LEVEL")
	if level == "" {
		return "info"
	}
	return strings.ToLower(level)
}

// AdminUserIDs parses the comma-separated admin list. Malformed entries are
// skipped.
func AdminUserIDs() []int64 {
	raw := os.Getenv("ADMIN_USER_IDS")
	if raw == "" {
		return nil
	}
	var ids []int64
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids
}

// RateLimitWindow is the sliding-window size in seconds.
func RateLimitWindow() int {
	n, err := strconv.Atoi(os.Getenv("RATE_LIMIT_WINDOW"))
	if err != nil || n <= 0 {
		return 60
	}
	return n
}

// RateLimitMaxRequests is the per-user request budget within the window.
func RateLimitMaxRequests() int {
	n, err := strconv.Atoi(os.Getenv("RATE_LIMIT_MAX_REQUESTS"))
	if err != nil || n <= 0 {
		return 20
	}
	return n
}

// ResponseCacheDir is where model responses are cached on disk.
func ResponseCacheDir() string {
	d := os.Getenv("RESPONSE_CACHE_DIR")
	if d == "" {
		return "cache"
	}
	return d
}

// ResponseCacheTTLSeconds bounds cache entry age. Default one hour.
func ResponseCacheTTLSeconds() int {
	n, err := strconv.Atoi(os.Getenv("RESPONSE_CACHE_TTL_SECONDS"))
	if err != nil || n <= 0 {
		return 3600
	}
	return n
}

// MaintenanceIntervalHours is the cadence of the background maintenance loop.
func MaintenanceIntervalHours() int {
	n, err := strconv.Atoi(os.Getenv("MAINTENANCE_INTERVAL_HOURS"))
	if err != nil || n <= 0 {
		return 24
	}
	return n
}

// RateLimitRPS is the per-IP request budget for the HTTP middleware.
func RateLimitRPS() float64 {
	rps, err := strconv.ParseFloat(os.Getenv("RATE_LIMIT_RPS"), 64)
	if err != nil || rps <= 0 {
		return 100
	}
	return rps
}

// RateLimitBurst is the burst size for the HTTP middleware.
func RateLimitBurst() int {
	burst, err := strconv.Atoi(os.Getenv("RATE_LIMIT_BURST"))
	if err != nil || burst <= 0 {
		return 20
	}
	return burst
}

// ErrorVerbosity controls how much detail user-facing error replies carry:
// 0 silent, 1 generic message, 2 message plus error kind, 3 full detail.
func ErrorVerbosity() int {
	n, err := strconv.Atoi(os.Getenv("ERROR_VERBOSITY"))
	if err != nil || n < 0 || n > 3 {
		return 1
	}
	return n
}

// Validate checks that the configured providers have credentials.
func Validate() error {
	switch LLMProvider() {
	case "gemini":
		if GeminiAPIKey() == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
	case "openai":
		if OpenAIAPIKey() == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case "mock":
	default:
		return fmt.Errorf("unknown LLM provider: %s (valid options: gemini, openai, mock)", LLMProvider())
	}
	if OpenAIEnabled() && OpenAIAPIKey() == "" {
		return fmt.Errorf("ENABLE_OPENAI is set but OPENAI_API_KEY is empty")
	}
	return nil
}
