// Package config handles configuration loading for wren-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from WREN_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/wren/gateway.yaml
//  3. ~/.config/wren/gateway.yaml
//
// Files ending in .toml are read as TOML; anything else as YAML. Both use
// the same keys.
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	turnkey:
//	  api_private_key: "${TURNKEY_API_PRIVATE_KEY}"
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	  request_timeout: "30s"
//
//	database:
//	  path: "/var/lib/wren/gateway.db"
//
//	redis:
//	  enabled: true
//	  addr: "localhost:6379"
//
//	ledger:
//	  rpc_url: "https://api.devnet.solana.com"
//	  commitment: "confirmed"
//
//	accounts:
//	  chest_file: "/etc/wren/chest.json"
//	  mint: "<base58 mint address>"
//	  nonce_account: "<base58 nonce account>"
//
//	turnkey:
//	  organization_id: "${TURNKEY_ORGANIZATION_ID}"
//	  api_public_key: "${TURNKEY_API_PUBLIC_KEY}"
//	  api_private_key: "${TURNKEY_API_PRIVATE_KEY}"
//
//	session:
//	  ttl: "1h"
//
//	submit:
//	  send_attempts: 2
//	  send_timeout: "5s"
//	  confirm_attempts: 1
//	  confirm_timeout: "5s"
//
//	airdrop:
//	  drop_amount: 1
//	  disable_native_funding: false
//	  token_account_wait: "1m"
//
//	ratelimit:
//	  rps: 5
//	  burst: 10
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
//	metrics:
//	  enabled: true
//
//	cors:
//	  allowed_origins: ["http://localhost:3000"]
package config
