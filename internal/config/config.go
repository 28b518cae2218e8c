package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the quote bot service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	LogMode          string

	AllowAnyOrigin bool

	// BotName is the command prefix, e.g. "bb quote alice".
	BotName string

	// QuoteStore selects the record store backend: auto|postgres|sqlite|memory.
	QuoteStore            string
	DatabaseURL           string
	SQLitePath            string
	TablePrefix           string
	TextSearchConfig      string
	QuoteCacheSize        int
	QuoteLimit            int
	QuoteMashLimit        int
	QuoteTouchTimeout     time.Duration
	QuoteSerializeRetries int
}

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "brobbot"),
		LogMode:          envOrDefault("APP_LOG_MODE", "dev"),
		AllowAnyOrigin:   false,
		BotName:          envOrDefault("BROBBOT_BOT_NAME", "bb"),
		QuoteStore:       strings.ToLower(envOrDefault("QUOTE_STORE", "auto")),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		SQLitePath:       stringsTrimSpace("QUOTE_SQLITE_PATH"),
		TablePrefix:      stringsTrimSpace("QUOTE_TABLE_PREFIX"),
		TextSearchConfig: envOrDefault("QUOTE_TEXT_SEARCH_CONFIG", "english"),
		// Matches the historical default of the chat bot.
		QuoteCacheSize:        25,
		QuoteLimit:            1,
		QuoteMashLimit:        10,
		QuoteTouchTimeout:     5 * time.Second,
		QuoteSerializeRetries: 3,
		ShutdownTimeout:       15 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.QuoteCacheSize, err = intFromEnv("BROBBOT_QUOTE_CACHE_SIZE", cfg.QuoteCacheSize)
	if err != nil {
		return Config{}, err
	}
	cfg.QuoteLimit, err = intFromEnv("QUOTE_LIMIT", cfg.QuoteLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.QuoteMashLimit, err = intFromEnv("QUOTE_MASH_LIMIT", cfg.QuoteMashLimit)
	if err != nil {
		return Config{}, err
	}
	cfg.QuoteTouchTimeout, err = durationFromEnv("QUOTE_TOUCH_TIMEOUT", cfg.QuoteTouchTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.QuoteSerializeRetries, err = intFromEnv("QUOTE_SERIALIZE_RETRIES", cfg.QuoteSerializeRetries)
	if err != nil {
		return Config{}, err
	}

	if cfg.QuoteCacheSize <= 0 {
		return Config{}, fmt.Errorf("BROBBOT_QUOTE_CACHE_SIZE must be positive")
	}
	if cfg.QuoteLimit <= 0 {
		return Config{}, fmt.Errorf("QUOTE_LIMIT must be positive")
	}
	if cfg.QuoteMashLimit <= 0 {
		return Config{}, fmt.Errorf("QUOTE_MASH_LIMIT must be positive")
	}
	if cfg.QuoteTouchTimeout <= 0 {
		return Config{}, fmt.Errorf("QUOTE_TOUCH_TIMEOUT must be positive")
	}
	if cfg.QuoteSerializeRetries < 0 {
		return Config{}, fmt.Errorf("QUOTE_SERIALIZE_RETRIES must be >= 0")
	}
	if strings.ContainsAny(cfg.BotName, " \t") {
		return Config{}, fmt.Errorf("BROBBOT_BOT_NAME must be a single word, got %q", cfg.BotName)
	}
	if cfg.TablePrefix != "" && !identPattern.MatchString(cfg.TablePrefix) {
		return Config{}, fmt.Errorf("QUOTE_TABLE_PREFIX must be a plain identifier, got %q", cfg.TablePrefix)
	}
	if !identPattern.MatchString(cfg.TextSearchConfig) {
		return Config{}, fmt.Errorf("QUOTE_TEXT_SEARCH_CONFIG must be a plain identifier, got %q", cfg.TextSearchConfig)
	}

	switch cfg.QuoteStore {
	case "auto", "memory":
	case "postgres":
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("QUOTE_STORE=postgres requires DATABASE_URL")
		}
	case "sqlite":
		if cfg.SQLitePath == "" {
			return Config{}, fmt.Errorf("QUOTE_STORE=sqlite requires QUOTE_SQLITE_PATH")
		}
	default:
		return Config{}, fmt.Errorf("invalid QUOTE_STORE: %q (expected auto|postgres|sqlite|memory)", cfg.QuoteStore)
	}

	return cfg, nil
}

// ResolvedQuoteStore maps "auto" onto a concrete backend.
func (c Config) ResolvedQuoteStore() string {
	if c.QuoteStore != "" && c.QuoteStore != "auto" {
		return c.QuoteStore
	}
	switch {
	case c.DatabaseURL != "":
		return "postgres"
	case c.SQLitePath != "":
		return "sqlite"
	default:
		return "memory"
	}
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
