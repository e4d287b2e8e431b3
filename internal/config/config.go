package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application.
type Config struct {
	Addr      string
	DBDSN     string
	RedisAddr string
	JWTSecret string

	// Completion provider (OpenAI-compatible API)
	AIAPIKey        string
	AIBaseURL       string
	AIModel         string
	AIVisionModel   string // forced when a message carries attachments
	AIMaxTokens     int
	EmbeddingModel  string
	SystemPrompt    string
	ChunkWordCount  int // words per streamed chunk event
	ContextTokenCap int // approximate token budget for one turn's context
}

// Load reads configuration from environment variables.
// In development it loads from a .env file if present.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		Addr:            getEnv("ADDR", ":8080"),
		DBDSN:           os.Getenv("DB_DSN"),
		RedisAddr:       getEnv("REDIS_ADDR", "localhost:6379"),
		JWTSecret:       os.Getenv("JWT_SECRET"),
		AIAPIKey:        os.Getenv("AI_API_KEY"),
		AIBaseURL:       getEnv("AI_BASE_URL", "https://api.openai.com/v1"),
		AIModel:         getEnv("AI_MODEL", "gpt-4o-mini"),
		AIVisionModel:   getEnv("AI_VISION_MODEL", "gpt-4o"),
		AIMaxTokens:     getEnvInt("AI_MAX_TOKENS", 1024),
		EmbeddingModel:  getEnv("AI_EMBEDDING_MODEL", "text-embedding-3-small"),
		SystemPrompt:    getEnv("SYSTEM_PROMPT", "You are a helpful assistant."),
		ChunkWordCount:  getEnvInt("CHUNK_WORD_COUNT", 2),
		ContextTokenCap: getEnvInt("CONTEXT_TOKEN_CAP", 4000),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
