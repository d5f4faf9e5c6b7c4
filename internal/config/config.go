package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v2"
)

// Config is the immutable process configuration. It is assembled once
// at startup from environment variables (plus an optional .env file)
// and passed by reference; nothing re-reads the environment later.
type Config struct {
	ListenAddr string

	DatabaseURL string
	RedisURL    string

	UpstreamURL           string
	UpstreamBasicUser     string
	UpstreamBasicPassword string
	UpstreamInsecureTLS   bool
	UpstreamTimeout       time.Duration

	SigningSecret string
	BackendURL    string

	CORSOrigins    []string
	CookieSecure   bool
	CookieSameSite string

	// ZNC → RUB conversion for the mock payment gateway.
	CurrencyRate decimal.Decimal

	// Token prices in ZNC keyed by duration hours. Defaults may be
	// overridden by a YAML pricing file.
	TokenPrices map[int]decimal.Decimal

	HealthCheckInterval time.Duration
}

// DefaultTokenPrices is the fixed price table for user-purchasable
// durations.
func DefaultTokenPrices() map[int]decimal.Decimal {
	return map[int]decimal.Decimal{
		1:   decimal.RequireFromString("1.00"),
		12:  decimal.RequireFromString("10.00"),
		24:  decimal.RequireFromString("18.00"),
		168: decimal.RequireFromString("100.00"),
		720: decimal.RequireFromString("300.00"),
	}
}

// Load reads configuration from the environment. A .env file in the
// working directory is honored when present.
func Load() (*Config, error) {
	// Missing .env is fine; explicit environment always wins.
	_ = godotenv.Load()

	cfg := &Config{
		ListenAddr:            getEnv("LISTEN_ADDR", ":8000"),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		RedisURL:              getEnv("REDIS_URL", "redis://localhost:6379/0"),
		UpstreamURL:           os.Getenv("UPSTREAM_URL"),
		UpstreamBasicUser:     os.Getenv("UPSTREAM_BASIC_AUTH_USER"),
		UpstreamBasicPassword: os.Getenv("UPSTREAM_BASIC_AUTH_PASSWORD"),
		UpstreamInsecureTLS:   getBool("UPSTREAM_INSECURE_TLS", true),
		UpstreamTimeout:       getDuration("UPSTREAM_TIMEOUT", 30*time.Second),
		SigningSecret:         os.Getenv("SIGNING_SECRET"),
		BackendURL:            getEnv("BACKEND_URL", "http://localhost:8000"),
		CookieSecure:          getBool("COOKIE_SECURE", true),
		CookieSameSite:        getEnv("COOKIE_SAMESITE", "lax"),
		TokenPrices:           DefaultTokenPrices(),
		HealthCheckInterval:   getDuration("HEALTH_CHECK_INTERVAL", 5*time.Minute),
	}

	if cfg.UpstreamURL == "" {
		return nil, fmt.Errorf("config: UPSTREAM_URL must be set")
	}
	if cfg.SigningSecret == "" {
		return nil, fmt.Errorf("config: SIGNING_SECRET must be set")
	}

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		for _, o := range strings.Split(origins, ",") {
			cfg.CORSOrigins = append(cfg.CORSOrigins, strings.TrimSpace(o))
		}
	}

	rate := getEnv("CURRENCY_RATE_RUB", "1.00")
	parsed, err := decimal.NewFromString(rate)
	if err != nil {
		return nil, fmt.Errorf("config: invalid CURRENCY_RATE_RUB %q: %w", rate, err)
	}
	cfg.CurrencyRate = parsed

	if path := os.Getenv("PRICING_FILE"); path != "" {
		if err := cfg.loadPricing(path); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// loadPricing overlays prices from a YAML file of the form:
//
//	prices:
//	  24: "18.00"
//	  720: "300.00"
func (c *Config) loadPricing(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: open pricing file: %w", err)
	}
	defer f.Close()

	var doc struct {
		Prices map[int]string `yaml:"prices"`
	}
	if err := yaml.NewDecoder(f).Decode(&doc); err != nil {
		return fmt.Errorf("config: decode pricing file: %w", err)
	}

	for hours, raw := range doc.Prices {
		price, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("config: invalid price %q for %dh: %w", raw, hours, err)
		}
		c.TokenPrices[hours] = price
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
