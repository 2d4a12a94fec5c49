// Package config loads the gateway configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/vitwit/paygate/replay"
	"github.com/vitwit/paygate/types"
	"github.com/vitwit/paygate/utils"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Server configuration
	ServerAddr    string `validate:"required"`
	LogLevel      string `validate:"oneof=debug info warn error"`
	EnableMetrics bool

	// Chain configuration
	Network             types.Network
	Mode                types.VerificationMode `validate:"oneof=direct contract"`
	ReceiverAddress     string                 `validate:"omitempty,evmaddr"`
	ContractAddress     string                 `validate:"omitempty,evmaddr"`
	RPCTimeout          time.Duration          `validate:"gt=0"`
	RPCRateLimit        int                    `validate:"gte=0"`
	ConfirmationTimeout time.Duration          `validate:"gt=0"`

	PricingFile string

	// Replay protection storage
	ReplayStore    string `validate:"oneof=memory bolt postgres"`
	ReplayBoltPath string `validate:"required_if=ReplayStore bolt"`
	DatabaseURL    string `validate:"required_if=ReplayStore postgres"`

	// Payment events; empty disables publishing
	NATSURL string

	// AI providers
	UseMockAI       bool
	OpenAIAPIKey    string
	GoogleAPIKey    string
	GroqAPIKey      string
	AIFailurePolicy string        `validate:"oneof=none retry"`
	AITimeout       time.Duration `validate:"gt=0"`

	// Inbound rate limiting per client; zero RPS disables it
	RateLimitRPS   float64 `validate:"gte=0"`
	RateLimitBurst int     `validate:"gte=0"`
	// Proxies (IPs or CIDRs) whose X-Forwarded-For is honoured
	TrustedProxies []string `validate:"dive,cidr|ip"`
}

// Load reads configuration from environment variables and validates it.
// All problems are reported at once.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.ServerAddr = getEnvOrDefault("SERVER_ADDR", "")
	if cfg.ServerAddr == "" {
		cfg.ServerAddr = ":" + getEnvOrDefault("PORT", "3000")
	}
	cfg.LogLevel = strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info"))

	// Chain configuration
	network := types.CronosTestnet
	network.RPCURL = getEnvOrDefault("RPC_URL", getEnvOrDefault("CRONOS_RPC_URL", network.RPCURL))
	network.Name = getEnvOrDefault("CHAIN_NAME", network.Name)
	network.Currency = getEnvOrDefault("CURRENCY", network.Currency)
	network.ExplorerURL = getEnvOrDefault("EXPLORER_URL", network.ExplorerURL)

	chainID, err := parseInt("CHAIN_ID", int(network.ChainID))
	if err != nil {
		errs = append(errs, err)
	}
	network.ChainID = int64(chainID)

	decimals, err := parseInt("NATIVE_DECIMALS", int(network.Decimals))
	if err != nil {
		errs = append(errs, err)
	}
	network.Decimals = int32(decimals)
	cfg.Network = network

	cfg.Mode = types.VerificationMode(strings.ToLower(getEnvOrDefault("VERIFICATION_MODE", string(types.ModeDirect))))
	cfg.ReceiverAddress = os.Getenv("SERVER_WALLET_ADDRESS")
	cfg.ContractAddress = os.Getenv("CONTRACT_ADDRESS")

	if cfg.RPCTimeout, err = parseDuration("RPC_TIMEOUT", "15s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.RPCRateLimit, err = parseInt("RPC_RATE_LIMIT", 0); err != nil {
		errs = append(errs, err)
	}
	if cfg.ConfirmationTimeout, err = parseDuration("CONFIRMATION_TIMEOUT", "60s"); err != nil {
		errs = append(errs, err)
	}

	cfg.PricingFile = os.Getenv("PRICING_FILE")

	// Replay protection storage
	cfg.ReplayStore = strings.ToLower(getEnvOrDefault("REPLAY_STORE", replay.StoreMemory))
	cfg.ReplayBoltPath = getEnvOrDefault("REPLAY_BOLT_PATH", "paygate.db")
	cfg.DatabaseURL = os.Getenv("DATABASE_URL")

	cfg.NATSURL = os.Getenv("NATS_URL")

	// AI providers
	if cfg.UseMockAI, err = parseBool("USE_MOCK_AI", false); err != nil {
		errs = append(errs, err)
	}
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	cfg.GroqAPIKey = os.Getenv("GROQ_API_KEY")
	cfg.AIFailurePolicy = strings.ToLower(getEnvOrDefault("AI_FAILURE_POLICY", "none"))
	if cfg.AITimeout, err = parseDuration("AI_TIMEOUT", "60s"); err != nil {
		errs = append(errs, err)
	}

	// Inbound rate limiting
	if cfg.RateLimitRPS, err = parseFloat("RATE_LIMIT_RPS", 5); err != nil {
		errs = append(errs, err)
	}
	if cfg.RateLimitBurst, err = parseInt("RATE_LIMIT_BURST", 10); err != nil {
		errs = append(errs, err)
	}
	cfg.TrustedProxies = parseList("TRUSTED_PROXIES")
	if cfg.EnableMetrics, err = parseBool("ENABLE_METRICS", true); err != nil {
		errs = append(errs, err)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MustLoad is like Load but panics if configuration is invalid.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}
	return cfg
}

// Validate checks the struct tags and the rules that span fields. A missing
// receiving or contract address is not an error here: the server starts and
// reports the misconfiguration per request.
func (c *Config) Validate() error {
	var errs []error

	if err := utils.ValidateStruct(c); err != nil {
		errs = append(errs, err)
	}
	if c.Network.RPCURL == "" {
		errs = append(errs, fmt.Errorf("RPC_URL is required"))
	}
	if c.Network.ChainID <= 0 {
		errs = append(errs, fmt.Errorf("CHAIN_ID must be positive"))
	}
	if c.Network.Decimals < 0 || c.Network.Decimals > 36 {
		errs = append(errs, fmt.Errorf("NATIVE_DECIMALS must be between 0 and 36"))
	}
	if c.RateLimitRPS > 0 && c.RateLimitBurst < 1 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BURST must be at least 1 when RATE_LIMIT_RPS is set"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %v", errs)
	}
	return nil
}

// ProviderKeys reports which upstream providers have an API key.
func (c *Config) ProviderKeys() map[string]string {
	return map[string]string{
		"openai": c.OpenAIAPIKey,
		"gemini": c.GoogleAPIKey,
		"groq":   c.GroqAPIKey,
	}
}

// getEnvOrDefault returns the environment variable value or a default if not set.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", key, value, err)
	}
	return result, nil
}

func parseBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: invalid boolean %q: %w", key, value, err)
	}
	return result, nil
}

// parseList splits a comma-separated variable, dropping empty items.
func parseList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
