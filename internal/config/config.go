// Package config loads the closed, validated configuration struct the rest
// of the service reads from once at process start. Nothing downstream reads
// the environment directly; a prefixed env key falls back to its shared
// default when the prefixed one is unset.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Env is the closed deployment-environment enum.
type Env string

const (
	EnvLocal      Env = "local"
	EnvStaging    Env = "staging"
	EnvProduction Env = "production"
)

// BreakerConfig is the circuit-breaker threshold table.
type BreakerConfig struct {
	Failures      int
	WindowSeconds int
	OpenSeconds   int
}

// OutboundHTTPConfig bounds the process-wide pooled transport to the model
// provider.
type OutboundHTTPConfig struct {
	TimeoutSeconds          int
	ConnectTimeoutSeconds   int
	ReadTimeoutSeconds      int
	MaxConnections          int
	MaxKeepaliveConnections int
	KeepaliveExpirySeconds  int
}

// TierCaps maps entitlement tier to its deep-think pass-count cap.
var TierCaps = map[string]int{"FREE": 0, "PRO": 3, "MAX": 5}

// Config is the single validated struct loaded once at process start and
// immutable afterward. Unknown env keys are ignored rather than rejected
// (the closed struct itself is the allowlist).
type Config struct {
	AppEnv          Env
	DebugErrors     bool
	LogLevel        string
	RequestIDHeader string

	ModelProvider              string
	ModelName                  string
	ModelBaseURL               string
	ModelAPIKey                string
	ModelCallsEnabled          bool
	ModelTimeoutSeconds        int
	ModelConnectTimeoutSeconds int
	ModelMaxOutputTokens       int
	ModelMaxInputTokens        int
	ModelMaxTotalTokens        int
	Breaker                    BreakerConfig

	APIChatTotalTimeoutMs int
	ModelCallTimeoutMs    int
	Outbound              OutboundHTTPConfig

	MinPassTimeoutMs int
	MinBudgetPerPass int
	MaxPassesEver    int

	DeepthinkEnabled          bool
	DeepthinkTotalBudgetUnits int
	DeepthinkTotalTimeoutMs   int
	DefaultEntitlementTier    string

	BackendPublicBaseURL string
	CORSOrigins          []string

	RateLimitPerMinute int

	SessionStoreDir   string
	SessionTTLSeconds int
	TraceLogDir       string
}

// Load reads process environment (after optionally loading a local .env via
// godotenv in non-production) into a validated Config. Production readiness
// is enforced here: missing required production values is fatal.
func Load() (Config, error) {
	appEnv := Env(getenv("APP_ENV", string(EnvLocal)))
	if appEnv != EnvProduction {
		_ = godotenv.Load() // best-effort; absence of .env is not an error
	}

	cfg := Config{
		AppEnv:          appEnv,
		DebugErrors:     getenvBool("DEBUG_ERRORS", appEnv != EnvProduction),
		LogLevel:        getenv("LOG_LEVEL", "info"),
		RequestIDHeader: getenv("REQUEST_ID_HEADER", "X-Request-ID"),

		ModelProvider:              getenv("MODEL_PROVIDER", "openai-compatible"),
		ModelName:                  getenv("MODEL_NAME", "gpt-4o-mini"),
		ModelBaseURL:               getenv("MODEL_BASE_URL", "https://api.openai.com/v1"),
		ModelAPIKey:                getenvTiered("MODEL", "API_KEY", ""),
		ModelCallsEnabled:          getenvBool("MODEL_CALLS_ENABLED", true),
		ModelTimeoutSeconds:        getenvInt("MODEL_TIMEOUT_SECONDS", 12),
		ModelConnectTimeoutSeconds: getenvInt("MODEL_CONNECT_TIMEOUT_SECONDS", 3),
		ModelMaxOutputTokens:       getenvInt("MODEL_MAX_OUTPUT_TOKENS", 800),
		ModelMaxInputTokens:        getenvInt("MODEL_MAX_INPUT_TOKENS", 4000),
		ModelMaxTotalTokens:        getenvInt("MODEL_MAX_TOTAL_TOKENS", 4800),
		Breaker: BreakerConfig{
			Failures:      getenvInt("BREAKER_FAILURES", 5),
			WindowSeconds: getenvInt("BREAKER_WINDOW_SECONDS", 60),
			OpenSeconds:   getenvInt("BREAKER_OPEN_SECONDS", 30),
		},

		APIChatTotalTimeoutMs: getenvInt("API_CHAT_TOTAL_TIMEOUT_MS", 20000),
		ModelCallTimeoutMs:    getenvInt("MODEL_CALL_TIMEOUT_MS", 12000),
		Outbound: OutboundHTTPConfig{
			TimeoutSeconds:          getenvInt("OUTBOUND_TIMEOUT_S", 8),
			ConnectTimeoutSeconds:   getenvInt("OUTBOUND_CONNECT_TIMEOUT_S", 3),
			ReadTimeoutSeconds:      getenvInt("OUTBOUND_READ_TIMEOUT_S", 8),
			MaxConnections:          getenvInt("OUTBOUND_MAX_CONN", 20),
			MaxKeepaliveConnections: getenvInt("OUTBOUND_MAX_KEEPALIVE", 10),
			KeepaliveExpirySeconds:  getenvInt("OUTBOUND_KEEPALIVE_EXPIRY_S", 30),
		},

		MinPassTimeoutMs: getenvInt("MIN_PASS_TIMEOUT_MS", 250),
		MinBudgetPerPass: getenvInt("MIN_BUDGET_PER_PASS", 50),
		MaxPassesEver:    getenvInt("MAX_PASSES_EVER", 5),

		DeepthinkEnabled:          getenvBool("DEEPTHINK_ENABLED", true),
		DeepthinkTotalBudgetUnits: getenvInt("DEEPTHINK_TOTAL_BUDGET_UNITS", 300),
		DeepthinkTotalTimeoutMs:   getenvInt("DEEPTHINK_TOTAL_TIMEOUT_MS", 1500),
		DefaultEntitlementTier:    getenv("DEFAULT_ENTITLEMENT_TIER", "PRO"),

		BackendPublicBaseURL: getenv("BACKEND_PUBLIC_BASE_URL", ""),
		CORSOrigins:          splitNonEmpty(getenv("CORS_ORIGINS", "")),

		RateLimitPerMinute: getenvInt("RATE_LIMIT_PER_MINUTE", 60),

		SessionStoreDir:   getenv("SESSION_STORE_DIR", ""),
		SessionTTLSeconds: getenvInt("SESSION_TTL_SECONDS", 3600),
		TraceLogDir:       getenv("TRACE_LOG_DIR", ""),
	}

	if err := cfg.validateProduction(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validateProduction() error {
	if c.AppEnv != EnvProduction {
		return nil
	}
	var missing []string
	if c.BackendPublicBaseURL == "" {
		missing = append(missing, "BACKEND_PUBLIC_BASE_URL")
	}
	if len(c.CORSOrigins) == 0 {
		missing = append(missing, "CORS_ORIGINS")
	}
	if c.ModelAPIKey == "" && c.ModelProvider != "local" && c.ModelProvider != "custom" {
		missing = append(missing, "MODEL_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("config: missing required production env vars: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// getenvTiered resolves "{prefix}_{key}", falling back to the shared
// "{key}" when the prefixed variable is unset.
func getenvTiered(prefix, key, def string) string {
	if v := os.Getenv(prefix + "_" + key); v != "" {
		return v
	}
	return getenv(key, def)
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
