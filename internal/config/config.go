// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Chain IDs the service can target.
const (
	ChainBaseMainnet int64 = 8453
	ChainBaseSepolia int64 = 84532
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	SessionTTL  time.Duration

	// Chain connectivity. The chain is inferred from the RPC URL: anything
	// containing "sepolia" is treated as Base Sepolia, everything else as
	// Base mainnet.
	RPCURL           string
	FactoryAddress   string
	CollateralToken  string
	AgentPrivateKey  string
	DefaultLiquidity string
	DefaultFee       string

	// External OpenClaw CLI.
	OpenClaw OpenClawConfig

	RateLimit       RateLimitConfig
	SSE             SSEConfig
	ConversationLog ConversationLogConfig
}

// OpenClawConfig describes how the external agent CLI is invoked.
type OpenClawConfig struct {
	Binary    string
	AgentName string
	StateDir  string
	Timeout   time.Duration

	// Credentials forwarded to the child process. Only these named values
	// ever reach the subprocess environment; the parent environment is not
	// passed through wholesale.
	AnthropicAPIKey string
	OpenAIAPIKey    string
	CoinGeckoAPIKey string
}

// RateLimitConfig controls per-user chat throttling.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// SSEConfig controls SSE streaming limits.
type SSEConfig struct {
	MaxRequestBodySize int64
	KeepaliveInterval  time.Duration
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		DBPath:           getEnv("DB_PATH", "./data/bizmart.db"),
		SessionTTL:       24 * time.Hour,
		RPCURL:           getEnv("RPC_URL", ""),
		FactoryAddress:   getEnv("MARKET_FACTORY_ADDRESS", ""),
		CollateralToken:  getEnv("USDC_ADDRESS", ""),
		AgentPrivateKey:  getEnv("AGENT_PRIVATE_KEY", ""),
		DefaultLiquidity: getEnv("DEFAULT_LIQUIDITY_PARAM", "10"),
		DefaultFee:       getEnv("DEFAULT_CREATION_FEE", "1"),
		OpenClaw: OpenClawConfig{
			Binary:          getEnv("OPENCLAW_BIN", "openclaw"),
			AgentName:       getEnv("OPENCLAW_AGENT", "bizmart"),
			StateDir:        getEnv("OPENCLAW_STATE_DIR", "./data/openclaw"),
			Timeout:         time.Duration(getEnvInt("OPENCLAW_TIMEOUT_SECONDS", 120)) * time.Second,
			AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
			OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
			CoinGeckoAPIKey: getEnv("COINGECKO_API_KEY", ""),
		},
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    time.Duration(getEnvInt("RATE_LIMIT_WINDOW_SECONDS", 60)) * time.Second,
		},
		SSE: SSEConfig{
			MaxRequestBodySize: int64(getEnvInt("SSE_MAX_BODY_BYTES", 1<<20)),
			KeepaliveInterval:  time.Duration(getEnvInt("SSE_KEEPALIVE_SECONDS", 10)) * time.Second,
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.OpenClaw.Binary == "" {
		return fmt.Errorf("OPENCLAW_BIN cannot be empty")
	}
	if c.OpenClaw.AgentName == "" {
		return fmt.Errorf("OPENCLAW_AGENT cannot be empty")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return fmt.Errorf("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return fmt.Errorf("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// ChainID returns the chain the service targets, inferred from the RPC URL.
func (c *Config) ChainID() int64 {
	if strings.Contains(strings.ToLower(c.RPCURL), "sepolia") {
		return ChainBaseSepolia
	}
	return ChainBaseMainnet
}

// IsTestnet returns true when the configured chain is Base Sepolia.
func (c *Config) IsTestnet() bool {
	return c.ChainID() == ChainBaseSepolia
}

// AgentCredentials returns the explicit allow-list of credential variables
// forwarded to the OpenClaw subprocess. Empty values are omitted so the child
// never sees a key the operator did not set.
func (c *Config) AgentCredentials() map[string]string {
	creds := make(map[string]string)
	for name, value := range map[string]string{
		"ANTHROPIC_API_KEY":  c.OpenClaw.AnthropicAPIKey,
		"OPENAI_API_KEY":     c.OpenClaw.OpenAIAPIKey,
		"COINGECKO_API_KEY":  c.OpenClaw.CoinGeckoAPIKey,
		"OPENCLAW_STATE_DIR": c.OpenClaw.StateDir,
	} {
		if value != "" {
			creds[name] = value
		}
	}
	return creds
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}
