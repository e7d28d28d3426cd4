// ABOUTME: Interactive config creation and key generation subcommands
// ABOUTME: init writes a YAML config; keygen prints or saves a mnemonic-backed keypair

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"

	"github.com/2389/wren-gateway/internal/config"
	"github.com/2389/wren-gateway/internal/keys"
)

// getDataPath returns the path to the wren data directory.
// Priority: XDG_DATA_HOME/wren > ~/.local/share/wren
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "wren")
}

// initAnswers holds everything runInit asks for.
type initAnswers struct {
	HTTPAddr     string
	DBPath       string
	RPCURL       string
	ChestFile    string
	Mint         string
	NonceAccount string
	FakeProvider bool
	RedisAddr    string
	LogLevel     string
	LogFormat    string
}

func renderConfig(a initAnswers) string {
	var cfg strings.Builder
	cfg.WriteString("# wren-gateway configuration\n")
	cfg.WriteString("# Generated by wren-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", a.HTTPAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", a.DBPath))
	cfg.WriteString("\n")

	cfg.WriteString("redis:\n")
	if a.RedisAddr != "" {
		cfg.WriteString("  enabled: true\n")
		cfg.WriteString(fmt.Sprintf("  addr: %q\n", a.RedisAddr))
	} else {
		cfg.WriteString("  enabled: false\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("ledger:\n")
	cfg.WriteString(fmt.Sprintf("  rpc_url: %q\n", a.RPCURL))
	cfg.WriteString("  commitment: \"confirmed\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("accounts:\n")
	cfg.WriteString(fmt.Sprintf("  chest_file: %q\n", a.ChestFile))
	cfg.WriteString(fmt.Sprintf("  mint: %q\n", a.Mint))
	cfg.WriteString(fmt.Sprintf("  nonce_account: %q\n", a.NonceAccount))
	cfg.WriteString("\n")

	cfg.WriteString("turnkey:\n")
	if a.FakeProvider {
		cfg.WriteString("  fake: true\n")
	} else {
		cfg.WriteString("  organization_id: \"${TURNKEY_ORGANIZATION_ID}\"\n")
		cfg.WriteString("  api_public_key: \"${TURNKEY_API_PUBLIC_KEY}\"\n")
		cfg.WriteString("  api_private_key: \"${TURNKEY_API_PRIVATE_KEY}\"\n")
	}
	cfg.WriteString("\n")

	cfg.WriteString("session:\n")
	cfg.WriteString("  ttl: \"1h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("airdrop:\n")
	cfg.WriteString("  drop_amount: 1\n")
	cfg.WriteString("\n")

	cfg.WriteString("ratelimit:\n")
	cfg.WriteString("  rps: 5\n")
	cfg.WriteString("  burst: 10\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", a.LogLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", a.LogFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")

	return cfg.String()
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("wren-gateway configuration setup")
	fmt.Println("================================")
	fmt.Println()

	defaultDataPath := getDataPath()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	var a initAnswers

	fmt.Println("\n--- Server Configuration ---")
	a.HTTPAddr = prompt(reader, "HTTP address", "127.0.0.1:8080")
	a.DBPath = prompt(reader, "SQLite database path", filepath.Join(defaultDataPath, "gateway.db"))
	a.RedisAddr = prompt(reader, "Redis address for sessions (empty keeps them in memory)", "")

	fmt.Println("\n--- Ledger Configuration ---")
	a.RPCURL = prompt(reader, "Solana RPC URL", "https://api.devnet.solana.com")
	a.ChestFile = prompt(reader, "Chest keypair file", filepath.Join(defaultDataPath, "chest.json"))
	a.Mint = prompt(reader, "Token mint address", "")
	a.NonceAccount = prompt(reader, "Durable nonce account address", "")

	fmt.Println("\n--- Identity Provider ---")
	a.FakeProvider = isYes(prompt(reader, "Use the in-process provider for local testing?", "no"))

	fmt.Println("\n--- Logging Configuration ---")
	a.LogLevel = prompt(reader, "Log level (debug/info/warn/error)", "info")
	a.LogFormat = prompt(reader, "Log format (text/json)", "text")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(renderConfig(a)), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(a.DBPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	if _, err := os.Stat(a.ChestFile); os.IsNotExist(err) {
		fmt.Println("\nCreate the chest keypair with:")
		fmt.Printf("  wren-gateway keygen --out %s\n", a.ChestFile)
	}
	fmt.Println("\nTo start the server:")
	fmt.Printf("  wren-gateway serve\n")

	return nil
}

type keygenOptions struct {
	out     string
	recover bool
}

// parseKeygenArgs supports "--out value", "--out=value" and "--recover".
func parseKeygenArgs(args []string) (keygenOptions, error) {
	var opts keygenOptions
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--out" || arg == "-o":
			if i+1 >= len(args) {
				return opts, fmt.Errorf("--out requires a value")
			}
			opts.out = args[i+1]
			i++
		case strings.HasPrefix(arg, "--out="):
			opts.out = strings.TrimPrefix(arg, "--out=")
		case arg == "--recover":
			opts.recover = true
		case strings.HasPrefix(arg, "-"):
			return opts, fmt.Errorf("unknown flag: %s", arg)
		default:
			return opts, fmt.Errorf("unexpected argument: %s", arg)
		}
	}
	return opts, nil
}

func runKeygen(args []string) error {
	opts, err := parseKeygenArgs(args)
	if err != nil {
		return err
	}

	var gen keys.Generated
	if opts.recover {
		fmt.Fprint(os.Stderr, "Mnemonic: ")
		gen, err = recoverKey(os.Stdin)
	} else {
		gen, err = keys.Generate()
	}
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Printf("Address:     %s\n", gen.PrivateKey.PublicKey())
	if opts.out != "" {
		if err := keys.WriteKeyFile(opts.out, gen.PrivateKey); err != nil {
			return err
		}
		green.Printf("  ✓ Saved keypair: %s\n", opts.out)
	} else {
		fmt.Printf("Private key: %s\n", keys.EncodePrivateKey(gen.PrivateKey))
	}
	if !opts.recover {
		fmt.Println()
		yellow.Println("Write the mnemonic down; it is the only way to recover this key:")
		fmt.Printf("  %s\n", gen.Mnemonic)
	}
	return nil
}

func recoverKey(r io.Reader) (keys.Generated, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && err != io.EOF {
		return keys.Generated{}, fmt.Errorf("reading mnemonic: %w", err)
	}
	mnemonic := strings.TrimSpace(line)
	key, err := keys.FromMnemonic(mnemonic, "")
	if err != nil {
		return keys.Generated{}, err
	}
	return keys.Generated{Mnemonic: mnemonic, PrivateKey: key}, nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
