// Package config reads server settings from the environment, loading a .env
// file first when one exists.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port      string
	DBPath    string
	LogLevel  string
	LogFormat string
	BaseURL   string

	// APIKeyPepper keys the API key hash. Changing it invalidates every key.
	APIKeyPepper string
	// ProviderToken guards the /internal routes. Empty disables them.
	ProviderToken string

	RateLimit  int
	RateWindow time.Duration

	PostmarkToken string
	FromEmail     string

	// AllowedOrigins are extra Origin host patterns accepted on WebSocket
	// upgrades.
	AllowedOrigins []string
}

// Load reads .env files (missing files are ignored) and then the AISLE_*
// environment variables. Variables already set in the environment win over
// the file.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	cfg := &Config{
		Port:           getenv("AISLE_PORT", "8080"),
		DBPath:         getenv("AISLE_DB_PATH", "aisle.db"),
		LogLevel:       getenv("AISLE_LOG_LEVEL", "info"),
		LogFormat:      getenv("AISLE_LOG_FORMAT", "text"),
		APIKeyPepper:   os.Getenv("AISLE_API_KEY_PEPPER"),
		ProviderToken:  os.Getenv("AISLE_PROVIDER_TOKEN"),
		PostmarkToken:  os.Getenv("AISLE_POSTMARK_TOKEN"),
		FromEmail:      os.Getenv("AISLE_FROM_EMAIL"),
		AllowedOrigins: splitList(os.Getenv("AISLE_ALLOWED_ORIGINS")),
	}
	cfg.BaseURL = getenv("AISLE_BASE_URL", "http://localhost:"+cfg.Port)

	var err error
	if cfg.RateLimit, err = intEnv("AISLE_RATE_LIMIT", 100); err != nil {
		return nil, err
	}
	if cfg.RateWindow, err = durationEnv("AISLE_RATE_WINDOW", time.Minute); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func intEnv(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer, got %q", key, v)
	}
	return n, nil
}

func durationEnv(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%s must be a positive duration, got %q", key, v)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
