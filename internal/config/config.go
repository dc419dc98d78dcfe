package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

type Config struct {
	Port     string
	LogLevel string

	NoditAPIKey   string
	NoditBaseURL  string
	NoditNetwork  string
	NoditTimeout  time.Duration
	NoditRPS      int
	NoditPageSize int
	MaxTxPages    int

	RedisHost     string
	RedisPort     string
	RedisPassword string
	CacheTTL      time.Duration

	CORSAllowedOrigins []string
	CORSAllowedHeaders []string
	CORSAllowedMethods []string
	CORSDebug          bool

	OutputDir string
}

// Load reads an optional .env file and then the process environment.
func Load() *Config {
	l := log.WithFields(log.Fields{
		"package": "config",
		"func":    "Load",
	})
	if err := godotenv.Load(); err != nil {
		l.Debugf("no .env file loaded: %v", err)
	}
	c := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		NoditAPIKey:   getEnv("NODIT_API_KEY", "demo-key"),
		NoditBaseURL:  strings.TrimRight(getEnv("NODIT_BASE_URL", "https://web3.nodit.io/v1"), "/"),
		NoditNetwork:  getEnv("NODIT_NETWORK", "mainnet"),
		NoditTimeout:  getEnvAsDuration("NODIT_TIMEOUT", 30*time.Second),
		NoditRPS:      getEnvAsInt("NODIT_RPS", 10),
		NoditPageSize: getEnvAsInt("NODIT_PAGE_SIZE", 1000),
		MaxTxPages:    getEnvAsInt("MAX_TX_PAGES", 0),

		RedisHost:     getEnv("REDIS_HOST", ""),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		CacheTTL:      getEnvAsDuration("CACHE_TTL", 5*time.Minute),

		CORSAllowedOrigins: splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		CORSAllowedHeaders: splitList(getEnv("CORS_ALLOWED_HEADERS", "Content-Type,Authorization")),
		CORSAllowedMethods: splitList(getEnv("CORS_ALLOWED_METHODS", "GET,POST,OPTIONS")),
		CORSDebug:          getEnv("CORS_DEBUG", "false") == "true",

		OutputDir: getEnv("OUTPUT_DIR", "."),
	}
	if c.NoditAPIKey == "demo-key" {
		l.Warn("NODIT_API_KEY not set, using demo-key")
	}
	return c
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		log.Warnf("invalid integer for %s (%q), using default %d", key, v, fallback)
		return fallback
	}
	return i
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Warnf("invalid duration for %s (%q), using default %s", key, v, fallback)
		return fallback
	}
	return d
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
