// ABOUTME: Tests for the wren-gateway command helpers
// ABOUTME: Covers generated configs, keygen argument parsing and the color log handler

package main

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wren-gateway/internal/config"
	"github.com/2389/wren-gateway/internal/keys"
)

func testAnswers(t *testing.T) initAnswers {
	dir := t.TempDir()
	return initAnswers{
		HTTPAddr:     "127.0.0.1:9090",
		DBPath:       filepath.Join(dir, "gateway.db"),
		RPCURL:       "http://127.0.0.1:8899",
		ChestFile:    filepath.Join(dir, "chest.json"),
		Mint:         solana.NewWallet().PublicKey().String(),
		NonceAccount: solana.NewWallet().PublicKey().String(),
		FakeProvider: true,
		LogLevel:     "debug",
		LogFormat:    "json",
	}
}

func writeAndLoad(t *testing.T, content string) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gateway.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	cfg, err := config.Load(path)
	require.NoError(t, err)
	return cfg
}

func TestRenderConfig_Loads(t *testing.T) {
	a := testAnswers(t)
	cfg := writeAndLoad(t, renderConfig(a))

	assert.Equal(t, a.HTTPAddr, cfg.Server.HTTPAddr)
	assert.Equal(t, a.DBPath, cfg.Database.Path)
	assert.Equal(t, a.RPCURL, cfg.Ledger.RPCURL)
	assert.Equal(t, a.ChestFile, cfg.Accounts.ChestFile)
	assert.Equal(t, a.Mint, cfg.Accounts.Mint)
	assert.True(t, cfg.Turnkey.Fake)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, time.Hour, cfg.Session.TTL)
}

func TestRenderConfig_ProviderFromEnv(t *testing.T) {
	t.Setenv("TURNKEY_ORGANIZATION_ID", "org-123")
	t.Setenv("TURNKEY_API_PUBLIC_KEY", "02abcd")
	t.Setenv("TURNKEY_API_PRIVATE_KEY", "abcd")

	a := testAnswers(t)
	a.FakeProvider = false
	a.RedisAddr = "localhost:6379"
	cfg := writeAndLoad(t, renderConfig(a))

	assert.False(t, cfg.Turnkey.Fake)
	assert.Equal(t, "org-123", cfg.Turnkey.OrganizationID)
	assert.Equal(t, "abcd", cfg.Turnkey.APIPrivateKey)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestParseKeygenArgs(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    keygenOptions
		wantErr bool
	}{
		{name: "none", args: nil, want: keygenOptions{}},
		{name: "out", args: []string{"--out", "k.json"}, want: keygenOptions{out: "k.json"}},
		{name: "out equals", args: []string{"--out=k.json"}, want: keygenOptions{out: "k.json"}},
		{name: "short", args: []string{"-o", "k.json", "--recover"}, want: keygenOptions{out: "k.json", recover: true}},
		{name: "missing value", args: []string{"--out"}, wantErr: true},
		{name: "unknown flag", args: []string{"--force"}, wantErr: true},
		{name: "stray arg", args: []string{"extra"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseKeygenArgs(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecoverKey(t *testing.T) {
	gen, err := keys.Generate()
	require.NoError(t, err)

	got, err := recoverKey(strings.NewReader("  " + gen.Mnemonic + "\n"))
	require.NoError(t, err)
	assert.Equal(t, gen.PrivateKey.PublicKey(), got.PrivateKey.PublicKey())

	_, err = recoverKey(strings.NewReader("not a mnemonic\n"))
	assert.ErrorIs(t, err, keys.ErrInvalidMnemonic)
}

func TestColorHandler_Format(t *testing.T) {
	color.NoColor = true
	t.Cleanup(func() { color.NoColor = false })

	var h slog.Handler = &colorHandler{mu: &sync.Mutex{}, level: slog.LevelInfo}
	h = h.WithAttrs([]slog.Attr{slog.String("component", "wallet")})
	h = h.WithGroup("req")

	r := slog.NewRecord(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), slog.LevelWarn, "slow request", 0)
	r.AddAttrs(slog.Int("status", 502))

	line := h.(*colorHandler).format(r)
	assert.Equal(t, "03:04:05 WRN slow request component=wallet req.status=502\n", line)
}

func TestSetupLogger_Levels(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	logger := setupLogger(config.LoggingConfig{Level: "warn"})
	assert.False(t, logger.Handler().Enabled(t.Context(), slog.LevelInfo))
	assert.True(t, logger.Handler().Enabled(t.Context(), slog.LevelWarn))
}

func TestIsYes(t *testing.T) {
	assert.True(t, isYes("Y"))
	assert.True(t, isYes(" yes "))
	assert.False(t, isYes("no"))
	assert.False(t, isYes(""))
}
