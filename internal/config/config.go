package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server
	Port string
	Env  string

	// Database
	DatabaseURL string

	// Redis
	RedisURL string

	// JWT
	JWTSecret string

	// Providers, keyed by environment variable name. Missing keys make the
	// provider's models require a per-user key.
	ProviderKeys map[string]string

	GeminiConcurrentReqs int

	// Rate limits
	GenerateRatePerMin int
	AuthRatePerMin     int

	// Workers
	WorkerCount int

	// Frontend
	FrontendURL string
}

// providerEnvKeys lists the upstream credentials read from the environment.
var providerEnvKeys = []string{
	"GEMINI_API_KEY",
	"GROQ_API_KEY",
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
	"DEEPSEEK_API_KEY",
}

func Load() *Config {
	// Load .env file if it exists
	godotenv.Load()

	cfg := &Config{
		Port:                 getEnvOrDefault("PORT", "8080"),
		Env:                  getEnvOrDefault("ENV", "development"),
		DatabaseURL:          mustGetEnv("DATABASE_URL"),
		RedisURL:             mustGetEnv("REDIS_URL"),
		JWTSecret:            mustGetEnv("JWT_SECRET"),
		ProviderKeys:         make(map[string]string),
		GeminiConcurrentReqs: getEnvAsIntOrDefault("GEMINI_CONCURRENT_REQUESTS", 5),
		GenerateRatePerMin:   getEnvAsIntOrDefault("GENERATE_RATE_PER_MINUTE", 30),
		AuthRatePerMin:       getEnvAsIntOrDefault("AUTH_RATE_PER_MINUTE", 10),
		WorkerCount:          getEnvAsIntOrDefault("WORKER_COUNT", 2),
		FrontendURL:          getEnvOrDefault("FRONTEND_URL", "http://localhost:5173"),
	}

	for _, key := range providerEnvKeys {
		if v := os.Getenv(key); v != "" {
			cfg.ProviderKeys[key] = v
		}
	}

	return cfg
}

// IsDevelopment reports whether error details may be returned to clients.
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

func mustGetEnv(key string) string {
	val := os.Getenv(key)
	if val == "" {
		panic(fmt.Sprintf("required environment variable %s is not set", key))
	}
	return val
}

func getEnvOrDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

func getEnvAsIntOrDefault(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}
