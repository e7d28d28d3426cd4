// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
database:
  path: "./test.db"
accounts:
  chest: "chest-key"
  mint: "mint-address"
  nonce_account: "nonce-address"
turnkey:
  fake: true
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
server:
  http_addr: "0.0.0.0:8080"
  request_timeout: "10s"

database:
  path: "./test.db"

redis:
  enabled: true
  addr: "localhost:6379"
  db: 2

ledger:
  rpc_url: "http://localhost:8899"
  commitment: "finalized"

accounts:
  chest_file: "/etc/wren/chest.json"
  mint: "mint-address"
  nonce_account: "nonce-address"

turnkey:
  organization_id: "org-1"
  api_private_key: "abcd"
  timeout: "20s"

session:
  ttl: "30m"

submit:
  send_attempts: 3
  send_timeout: "2s"

airdrop:
  drop_amount: 2.5
  token_account_wait: "90s"
  disable_worker: true

ratelimit:
  rps: 5
  burst: 10

logging:
  level: "debug"
  format: "json"

metrics:
  enabled: true

cors:
  allowed_origins:
    - "http://localhost:3000"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.RequestTimeout != 10*time.Second {
		t.Errorf("Server.RequestTimeout = %v, want %v", cfg.Server.RequestTimeout, 10*time.Second)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "localhost:6379" || cfg.Redis.DB != 2 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}
	if cfg.Ledger.Commitment != "finalized" {
		t.Errorf("Ledger.Commitment = %q, want %q", cfg.Ledger.Commitment, "finalized")
	}
	if cfg.Turnkey.Timeout != 20*time.Second {
		t.Errorf("Turnkey.Timeout = %v, want %v", cfg.Turnkey.Timeout, 20*time.Second)
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Errorf("Session.TTL = %v, want %v", cfg.Session.TTL, 30*time.Minute)
	}
	if cfg.Submit.SendAttempts != 3 || cfg.Submit.SendTimeout != 2*time.Second {
		t.Errorf("Submit = %+v", cfg.Submit)
	}
	if cfg.Airdrop.DropAmount != 2.5 || cfg.Airdrop.TokenAccountWait != 90*time.Second || !cfg.Airdrop.DisableWorker {
		t.Errorf("Airdrop = %+v", cfg.Airdrop)
	}
	if cfg.RateLimit.RPS != 5 || cfg.RateLimit.Burst != 10 {
		t.Errorf("RateLimit = %+v", cfg.RateLimit)
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
	if !cfg.Metrics.Enabled {
		t.Error("Metrics.Enabled = false, want true")
	}
	if len(cfg.CORS.AllowedOrigins) != 1 || cfg.CORS.AllowedOrigins[0] != "http://localhost:3000" {
		t.Errorf("CORS.AllowedOrigins = %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "127.0.0.1:8080" {
		t.Errorf("Server.HTTPAddr = %q", cfg.Server.HTTPAddr)
	}
	if cfg.Ledger.RPCURL != "https://api.devnet.solana.com" {
		t.Errorf("Ledger.RPCURL = %q", cfg.Ledger.RPCURL)
	}
	if cfg.Session.TTL != time.Hour {
		t.Errorf("Session.TTL = %v, want 1h", cfg.Session.TTL)
	}
	if cfg.Submit.SendAttempts != 2 || cfg.Submit.ConfirmAttempts != 1 {
		t.Errorf("Submit attempts = %d/%d, want 2/1", cfg.Submit.SendAttempts, cfg.Submit.ConfirmAttempts)
	}
	if cfg.Submit.SendTimeout != 5*time.Second {
		t.Errorf("Submit.SendTimeout = %v, want 5s", cfg.Submit.SendTimeout)
	}
	if cfg.Airdrop.DropAmount != 1 {
		t.Errorf("Airdrop.DropAmount = %v, want 1", cfg.Airdrop.DropAmount)
	}
	if cfg.Airdrop.DisableNativeFunding {
		t.Error("native funding should default on")
	}
}

func TestLoad_TOML(t *testing.T) {
	path := writeConfig(t, "gateway.toml", `
[database]
path = "./test.db"

[accounts]
chest = "chest-key"
mint = "mint-address"
nonce_account = "nonce-address"

[turnkey]
fake = true

[session]
ttl = "15m"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Session.TTL != 15*time.Minute {
		t.Errorf("Session.TTL = %v, want 15m", cfg.Session.TTL)
	}
	if !cfg.Turnkey.Fake {
		t.Error("Turnkey.Fake = false, want true")
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_WREN_CHEST", "from-env")

	cfg, err := Load(writeConfig(t, "config.yaml", strings.Replace(minimalYAML, `"chest-key"`, `"${TEST_WREN_CHEST}"`, 1)))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Accounts.Chest != "from-env" {
		t.Errorf("Accounts.Chest = %q, want %q", cfg.Accounts.Chest, "from-env")
	}
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "invalid yaml",
			content: "database: [",
			wantErr: "parsing config file",
		},
		{
			name:    "bad duration",
			content: minimalYAML + "session:\n  ttl: \"soon\"\n",
			wantErr: "session.ttl",
		},
		{
			name:    "missing database",
			content: strings.Replace(minimalYAML, `path: "./test.db"`, `path: ""`, 1),
			wantErr: "database.path is required",
		},
		{
			name:    "missing mint",
			content: strings.Replace(minimalYAML, `mint: "mint-address"`, "", 1),
			wantErr: "accounts.mint is required",
		},
		{
			name:    "provider credentials",
			content: strings.Replace(minimalYAML, "fake: true", "fake: false", 1),
			wantErr: "turnkey.organization_id is required",
		},
		{
			name:    "redis without addr",
			content: minimalYAML + "redis:\n  enabled: true\n",
			wantErr: "redis.addr is required",
		},
		{
			name:    "bad commitment",
			content: minimalYAML + "ledger:\n  commitment: \"eventually\"\n",
			wantErr: "ledger.commitment",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, "config.yaml", tt.content))
			if err == nil {
				t.Fatal("Load() expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("WREN_CONFIG", "/tmp/custom.yaml")
	if got := DefaultPath(); got != "/tmp/custom.yaml" {
		t.Errorf("DefaultPath() = %q", got)
	}

	t.Setenv("WREN_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/xdg")
	if got := DefaultPath(); got != filepath.Join("/xdg", "wren", "gateway.yaml") {
		t.Errorf("DefaultPath() = %q", got)
	}
}
