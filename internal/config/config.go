// ABOUTME: Configuration loading and parsing for wren-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/2389/wren-gateway/internal/keys"
)

// Config represents the complete wren-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Redis     RedisConfig     `yaml:"redis" toml:"redis"`
	Ledger    LedgerConfig    `yaml:"ledger" toml:"ledger"`
	Accounts  AccountsConfig  `yaml:"accounts" toml:"accounts"`
	Turnkey   TurnkeyConfig   `yaml:"turnkey" toml:"turnkey"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Submit    SubmitConfig    `yaml:"submit" toml:"submit"`
	Airdrop   AirdropConfig   `yaml:"airdrop" toml:"airdrop"`
	RateLimit RateLimitConfig `yaml:"ratelimit" toml:"ratelimit"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
	CORS      CORSConfig      `yaml:"cors" toml:"cors"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`

	RequestTimeout    time.Duration `yaml:"-" toml:"-"`
	RequestTimeoutRaw string        `yaml:"request_timeout" toml:"request_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// RedisConfig selects the Redis session backend. When disabled, sessions
// live in process memory.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
}

// LedgerConfig points at the Solana JSON-RPC endpoint
type LedgerConfig struct {
	RPCURL     string `yaml:"rpc_url" toml:"rpc_url"`
	Commitment string `yaml:"commitment" toml:"commitment"`
}

// AccountsConfig names the chest, mint and durable nonce accounts.
// Private keys may be inline (base58 or JSON array) or read from files.
type AccountsConfig struct {
	Chest              string `yaml:"chest" toml:"chest"`
	ChestFile          string `yaml:"chest_file" toml:"chest_file"`
	Mint               string `yaml:"mint" toml:"mint"`
	NonceAccount       string `yaml:"nonce_account" toml:"nonce_account"`
	NonceAuthority     string `yaml:"nonce_authority" toml:"nonce_authority"`
	NonceAuthorityFile string `yaml:"nonce_authority_file" toml:"nonce_authority_file"`
}

// TurnkeyConfig holds identity provider credentials
type TurnkeyConfig struct {
	BaseURL        string `yaml:"base_url" toml:"base_url"`
	OrganizationID string `yaml:"organization_id" toml:"organization_id"`
	APIPublicKey   string `yaml:"api_public_key" toml:"api_public_key"`
	APIPrivateKey  string `yaml:"api_private_key" toml:"api_private_key"`
	// Fake replaces the provider with an in-process stand-in for local runs.
	Fake bool `yaml:"fake" toml:"fake"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// SessionConfig holds session lifetime settings
type SessionConfig struct {
	TTL              time.Duration `yaml:"-" toml:"-"`
	SweepInterval    time.Duration `yaml:"-" toml:"-"`
	TTLRaw           string        `yaml:"ttl" toml:"ttl"`
	SweepIntervalRaw string        `yaml:"sweep_interval" toml:"sweep_interval"`
}

// SubmitConfig holds the submission retry policy
type SubmitConfig struct {
	SendAttempts    int  `yaml:"send_attempts" toml:"send_attempts"`
	ConfirmAttempts int  `yaml:"confirm_attempts" toml:"confirm_attempts"`
	NetworkRetries  uint `yaml:"network_retries" toml:"network_retries"`

	SendTimeout       time.Duration `yaml:"-" toml:"-"`
	ConfirmTimeout    time.Duration `yaml:"-" toml:"-"`
	SendTimeoutRaw    string        `yaml:"send_timeout" toml:"send_timeout"`
	ConfirmTimeoutRaw string        `yaml:"confirm_timeout" toml:"confirm_timeout"`
}

// AirdropConfig holds the airdrop worker and amounts
type AirdropConfig struct {
	// DisableWorker stops this process from stepping jobs; requests are
	// still recorded for another instance to pick up.
	DisableWorker        bool    `yaml:"disable_worker" toml:"disable_worker"`
	DisableNativeFunding bool    `yaml:"disable_native_funding" toml:"disable_native_funding"`
	DropAmount           float64 `yaml:"drop_amount" toml:"drop_amount"`
	NativeAmount         float64 `yaml:"native_amount_sol" toml:"native_amount_sol"`
	BatchSize            int     `yaml:"batch_size" toml:"batch_size"`
	MaxAttempts          int     `yaml:"max_attempts" toml:"max_attempts"`

	WorkerInterval      time.Duration `yaml:"-" toml:"-"`
	LeaseTTL            time.Duration `yaml:"-" toml:"-"`
	TokenAccountWait    time.Duration `yaml:"-" toml:"-"`
	PollInterval        time.Duration `yaml:"-" toml:"-"`
	WorkerIntervalRaw   string        `yaml:"worker_interval" toml:"worker_interval"`
	LeaseTTLRaw         string        `yaml:"lease_ttl" toml:"lease_ttl"`
	TokenAccountWaitRaw string        `yaml:"token_account_wait" toml:"token_account_wait"`
	PollIntervalRaw     string        `yaml:"poll_interval" toml:"poll_interval"`
}

// RateLimitConfig holds per-session request limits. Zero disables limiting.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps" toml:"rps"`
	Burst int     `yaml:"burst" toml:"burst"`

	IdleTTL    time.Duration `yaml:"-" toml:"-"`
	IdleTTLRaw string        `yaml:"idle_ttl" toml:"idle_ttl"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`
}

// CORSConfig lists browser origins allowed to call the API
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" toml:"allowed_origins"`
}

// DefaultPath returns the config file location.
// Priority: WREN_CONFIG env var > XDG_CONFIG_HOME/wren/gateway.yaml > ~/.config/wren/gateway.yaml
func DefaultPath() string {
	if envPath := os.Getenv("WREN_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "wren", "gateway.yaml")
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "127.0.0.1:8080"
	}
	if c.Server.RequestTimeout == 0 {
		c.Server.RequestTimeout = 30 * time.Second
	}
	if c.Ledger.RPCURL == "" {
		c.Ledger.RPCURL = "https://api.devnet.solana.com"
	}
	if c.Ledger.Commitment == "" {
		c.Ledger.Commitment = "confirmed"
	}
	if c.Session.TTL == 0 {
		c.Session.TTL = time.Hour
	}
	if c.Session.SweepInterval == 0 {
		c.Session.SweepInterval = time.Minute
	}
	if c.Submit.SendAttempts == 0 {
		c.Submit.SendAttempts = 2
	}
	if c.Submit.SendTimeout == 0 {
		c.Submit.SendTimeout = 5 * time.Second
	}
	if c.Submit.ConfirmAttempts == 0 {
		c.Submit.ConfirmAttempts = 1
	}
	if c.Submit.ConfirmTimeout == 0 {
		c.Submit.ConfirmTimeout = 5 * time.Second
	}
	if c.Airdrop.DropAmount == 0 {
		c.Airdrop.DropAmount = 1
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	u, err := url.Parse(c.Ledger.RPCURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("ledger.rpc_url must be an http or https URL")
	}
	switch c.Ledger.Commitment {
	case "processed", "confirmed", "finalized":
	default:
		return fmt.Errorf("ledger.commitment must be processed, confirmed or finalized")
	}

	if c.Accounts.Chest == "" && c.Accounts.ChestFile == "" {
		return fmt.Errorf("accounts.chest or accounts.chest_file is required")
	}
	if c.Accounts.Mint == "" {
		return fmt.Errorf("accounts.mint is required")
	}
	if c.Accounts.NonceAccount == "" {
		return fmt.Errorf("accounts.nonce_account is required")
	}

	if !c.Turnkey.Fake {
		if c.Turnkey.OrganizationID == "" {
			return fmt.Errorf("turnkey.organization_id is required")
		}
		if c.Turnkey.APIPrivateKey == "" {
			return fmt.Errorf("turnkey.api_private_key is required")
		}
	}

	if c.Submit.SendAttempts < 1 || c.Submit.ConfirmAttempts < 1 {
		return fmt.Errorf("submit attempts must be at least 1")
	}
	if c.Airdrop.DropAmount < 0 || c.Airdrop.NativeAmount < 0 {
		return fmt.Errorf("airdrop amounts must not be negative")
	}
	if c.RateLimit.RPS < 0 || c.RateLimit.Burst < 0 {
		return fmt.Errorf("ratelimit values must not be negative")
	}
	return nil
}

// KeyAccounts converts the accounts section for keys.LoadAccounts.
func (c AccountsConfig) KeyAccounts() keys.AccountsConfig {
	return keys.AccountsConfig{
		Chest:              c.Chest,
		ChestFile:          c.ChestFile,
		Mint:               c.Mint,
		NonceAccount:       c.NonceAccount,
		NonceAuthority:     c.NonceAuthority,
		NonceAuthorityFile: c.NonceAuthorityFile,
	}
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.request_timeout", cfg.Server.RequestTimeoutRaw, &cfg.Server.RequestTimeout},
		{"turnkey.timeout", cfg.Turnkey.TimeoutRaw, &cfg.Turnkey.Timeout},
		{"session.ttl", cfg.Session.TTLRaw, &cfg.Session.TTL},
		{"session.sweep_interval", cfg.Session.SweepIntervalRaw, &cfg.Session.SweepInterval},
		{"submit.send_timeout", cfg.Submit.SendTimeoutRaw, &cfg.Submit.SendTimeout},
		{"submit.confirm_timeout", cfg.Submit.ConfirmTimeoutRaw, &cfg.Submit.ConfirmTimeout},
		{"airdrop.worker_interval", cfg.Airdrop.WorkerIntervalRaw, &cfg.Airdrop.WorkerInterval},
		{"airdrop.lease_ttl", cfg.Airdrop.LeaseTTLRaw, &cfg.Airdrop.LeaseTTL},
		{"airdrop.token_account_wait", cfg.Airdrop.TokenAccountWaitRaw, &cfg.Airdrop.TokenAccountWait},
		{"airdrop.poll_interval", cfg.Airdrop.PollIntervalRaw, &cfg.Airdrop.PollInterval},
		{"ratelimit.idle_ttl", cfg.RateLimit.IdleTTLRaw, &cfg.RateLimit.IdleTTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must not be negative", f.name)
		}
		*f.dst = d
	}
	return nil
}
