package config

import (
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	Port          string
	AllowedOrigin string

	// DatabaseURL empty selects the in-memory repository.
	DatabaseURL string

	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	MetricsTTLSeconds int

	AuthSecret            string
	AccessTokenTTLMinutes int

	ExportDir  string
	AppVersion string
}

func (c Config) Address() string {
	return ":" + c.Port
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real environment variables win.
func Load() Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("[config] loaded .env file")
	}

	return Config{
		Port:                  getEnv("PORT", "8080"),
		AllowedOrigin:         getEnv("ALLOWED_ORIGIN", "http://localhost:5173"),
		DatabaseURL:           strings.TrimSpace(os.Getenv("DATABASE_URL")),
		RedisAddr:             strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword:         os.Getenv("REDIS_PASSWORD"),
		RedisDB:               getEnvInt("REDIS_DB", 0),
		MetricsTTLSeconds:     getEnvInt("METRICS_CACHE_TTL_SECONDS", 30),
		AuthSecret:            strings.TrimSpace(os.Getenv("AUTH_SECRET")),
		AccessTokenTTLMinutes: getEnvInt("ACCESS_TOKEN_TTL_MINUTES", 480),
		ExportDir:             strings.TrimSpace(os.Getenv("EXPORT_DIR")),
		AppVersion:            getEnv("APP_VERSION", "dev"),
	}
}

func getEnv(key, fallback string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("[config] WARN: invalid %s=%q, using %d", key, raw, fallback)
		return fallback
	}
	return value
}
