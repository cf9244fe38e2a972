// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the WhisperChat service.
package server

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// OverflowPolicy selects what the accept loop does when every worker slot
// is taken: block until one frees up, or reject the connection outright.
type OverflowPolicy string

// Supported overflow policies.
const (
	OverflowBlock  OverflowPolicy = "block"
	OverflowReject OverflowPolicy = "reject"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int           `json:"burst"`
	RefillInterval time.Duration `json:"refill_interval"`
}

// Config holds the server configuration settings including transport
// addresses, the credential store location, and connection limits.
type Config struct {
	ChatAddr       string         `json:"chat_addr"`
	HTTPAddr       string         `json:"http_addr"`
	CredentialFile string         `json:"credential_file"`
	AllowedOrigins []string       `json:"allowed_origins"`
	MaxMessageSize int64          `json:"max_message_size"`
	RateLimit      RateLimitConfig `json:"rate_limit"`
	MaxConnections int            `json:"max_connections"`
	OverflowPolicy OverflowPolicy `json:"overflow_policy"`
}

var (
	configMu        sync.RWMutex
	activeConfig    Config
	allowedOrigins  map[string]struct{}
	allowAllOrigins bool
)

func init() {
	SetConfig(nil)
}

func defaultConfig() Config {
	return Config{
		ChatAddr:       ":59001",
		HTTPAddr:       ":8080",
		CredentialFile: "users.dat",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize: 512,
		RateLimit: RateLimitConfig{
			Burst:          5,
			RefillInterval: time.Second,
		},
		MaxConnections: 20,
		OverflowPolicy: OverflowReject,
	}
}

func sanitizeConfig(cfg Config) Config {
	if cfg.ChatAddr == "" {
		cfg.ChatAddr = ":59001"
	}

	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	if cfg.CredentialFile == "" {
		cfg.CredentialFile = "users.dat"
	}

	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 512
	}

	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 5
	}

	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = time.Second
	}

	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 20
	}

	if cfg.OverflowPolicy != OverflowBlock && cfg.OverflowPolicy != OverflowReject {
		cfg.OverflowPolicy = OverflowReject
	}

	normalizedOrigins, allowAll := normalizeOrigins(cfg.AllowedOrigins)
	cfg.AllowedOrigins = normalizedOrigins

	configMu.Lock()
	defer configMu.Unlock()

	activeConfig = cfg
	allowAllOrigins = allowAll
	allowedOrigins = make(map[string]struct{}, len(normalizedOrigins))
	for _, origin := range normalizedOrigins {
		allowedOrigins[origin] = struct{}{}
	}

	return cfg
}

// SetConfig applies the provided configuration. Passing nil resets to defaults.
func SetConfig(cfg *Config) {
	if cfg == nil {
		defaultCfg := defaultConfig()
		sanitizeConfig(defaultCfg)
		return
	}

	sanitized := Config{
		ChatAddr:       cfg.ChatAddr,
		HTTPAddr:       cfg.HTTPAddr,
		CredentialFile: cfg.CredentialFile,
		AllowedOrigins: append([]string(nil), cfg.AllowedOrigins...),
		MaxMessageSize: cfg.MaxMessageSize,
		RateLimit: RateLimitConfig{
			Burst:          cfg.RateLimit.Burst,
			RefillInterval: cfg.RateLimit.RefillInterval,
		},
		MaxConnections: cfg.MaxConnections,
		OverflowPolicy: cfg.OverflowPolicy,
	}
	sanitizeConfig(sanitized)
}

func currentConfig() Config {
	configMu.RLock()
	defer configMu.RUnlock()

	cfg := activeConfig
	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// NewConfig creates a Config instance populated with default values for all settings.
func NewConfig() *Config {
	cfg := defaultConfig()
	return &cfg
}

// NewConfigFromEnv creates a Config instance from environment variables.
// Falls back to default values if environment variables are not set.
func NewConfigFromEnv() *Config {
	cfg := defaultConfig()

	// Load CHAT_ADDR
	if addr := os.Getenv("CHAT_ADDR"); addr != "" {
		cfg.ChatAddr = addr
	}

	// Load HTTP_ADDR
	if addr := os.Getenv("HTTP_ADDR"); addr != "" {
		cfg.HTTPAddr = addr
	}

	// Load CREDENTIAL_FILE
	if path := os.Getenv("CREDENTIAL_FILE"); path != "" {
		cfg.CredentialFile = path
	}

	// Load ALLOWED_ORIGINS
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = parseOrigins(origins)
	}

	// Load MAX_MESSAGE_SIZE
	if maxSize := os.Getenv("MAX_MESSAGE_SIZE"); maxSize != "" {
		cfg.MaxMessageSize = parseMaxMessageSize(maxSize, cfg.MaxMessageSize)
	}

	// Load RATE_LIMIT_BURST
	if burst := os.Getenv("RATE_LIMIT_BURST"); burst != "" {
		cfg.RateLimit.Burst = parseIntValue(burst, cfg.RateLimit.Burst)
	}

	// Load RATE_LIMIT_REFILL_INTERVAL
	if interval := os.Getenv("RATE_LIMIT_REFILL_INTERVAL"); interval != "" {
		cfg.RateLimit.RefillInterval = parseRefillInterval(interval, cfg.RateLimit.RefillInterval)
	}

	// Load MAX_CONNECTIONS
	if limit := os.Getenv("MAX_CONNECTIONS"); limit != "" {
		cfg.MaxConnections = parseIntValue(limit, cfg.MaxConnections)
	}

	// Load OVERFLOW_POLICY
	if policy := os.Getenv("OVERFLOW_POLICY"); policy != "" {
		cfg.OverflowPolicy = OverflowPolicy(strings.ToLower(strings.TrimSpace(policy)))
	}

	return &cfg
}

// LoadConfigFile reads a JSON configuration file. Fields absent from the
// file keep their defaults after sanitization. Durations are given in
// nanoseconds, matching encoding/json's handling of time.Duration.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := defaultConfig()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	return &cfg, nil
}

func parseOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseMaxMessageSize(value string, defaultValue int64) int64 {
	if size, err := strconv.ParseInt(value, 10, 64); err == nil && size > 0 {
		return size
	}
	return defaultValue
}

func parseIntValue(value string, defaultValue int) int {
	if parsed, err := strconv.Atoi(value); err == nil && parsed > 0 {
		return parsed
	}
	return defaultValue
}

func parseRefillInterval(value string, defaultValue time.Duration) time.Duration {
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	return defaultValue
}
