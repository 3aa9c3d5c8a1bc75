package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

const (
	GatewayModeRazorpay = "razorpay"
	GatewayModeFake     = "fake"

	LedgerDriverMemory = "memory"
	LedgerDriverSQLite = "sqlite"
)

// Config holds everything the server reads from the environment.
// An empty WebhookSecret makes the webhook endpoint refuse every delivery.
type Config struct {
	Port           string
	Env            string
	Debug          bool
	KeyID          string
	KeySecret      string
	WebhookSecret  string
	GatewayURL     string
	GatewayMode    string
	GatewayTimeout time.Duration
	JWTSecret      string
	APIClients     map[string]string // map[APIKey]APISecret
	LedgerDriver   string
	DatabasePath   string
	CORSOrigins    []string
}

// Load reads configuration from the process environment
func Load() (*Config, error) {
	return FromLookup(os.LookupEnv)
}

// FromLookup builds a Config from any env-style lookup function
func FromLookup(lookup func(string) (string, bool)) (*Config, error) {
	get := func(key, fallback string) string {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
		return fallback
	}

	cfg := &Config{
		Port:          get("PORT", "8080"),
		Env:           get("ENV", "development"),
		Debug:         get("DEBUG", "false") == "true",
		KeyID:         get("RAZORPAY_KEY_ID", ""),
		KeySecret:     get("RAZORPAY_KEY_SECRET", ""),
		WebhookSecret: get("RAZORPAY_WEBHOOK_SECRET", ""),
		GatewayURL:    get("RAZORPAY_API_URL", "https://api.razorpay.com/v1"),
		GatewayMode:   get("GATEWAY_MODE", GatewayModeRazorpay),
		JWTSecret:     get("JWT_SECRET", ""),
		LedgerDriver:  get("LEDGER_DRIVER", LedgerDriverMemory),
		DatabasePath:  get("DATABASE_PATH", "payrelay.db"),
		CORSOrigins:   splitList(get("CORS_ORIGINS", "*")),
	}

	timeout, err := time.ParseDuration(get("GATEWAY_TIMEOUT", "10s"))
	if err != nil {
		return nil, fmt.Errorf("invalid GATEWAY_TIMEOUT: %w", err)
	}
	cfg.GatewayTimeout = timeout

	cfg.APIClients, err = parseClients(get("API_CLIENTS", ""))
	if err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// IsProduction reports whether ENV is production
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) validate() error {
	if c.KeyID == "" || c.KeySecret == "" {
		return errors.New("RAZORPAY_KEY_ID and RAZORPAY_KEY_SECRET are required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.GatewayMode {
	case GatewayModeRazorpay, GatewayModeFake:
	default:
		return fmt.Errorf("unknown GATEWAY_MODE %q", c.GatewayMode)
	}
	switch c.LedgerDriver {
	case LedgerDriverMemory, LedgerDriverSQLite:
	default:
		return fmt.Errorf("unknown LEDGER_DRIVER %q", c.LedgerDriver)
	}
	return nil
}

// parseClients reads "key:secret,key:secret"
func parseClients(raw string) (map[string]string, error) {
	clients := make(map[string]string)
	for _, pair := range splitList(raw) {
		key, secret, ok := strings.Cut(pair, ":")
		if !ok || key == "" || secret == "" {
			return nil, fmt.Errorf("invalid API_CLIENTS entry %q", pair)
		}
		clients[key] = secret
	}
	return clients, nil
}

func splitList(raw string) []string {
	var out []string
	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
