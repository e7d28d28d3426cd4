// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite
// ABOUTME: Provides identity/wallet persistence with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// A single connection serialises writers; leasing relies on it.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS identities (
			id              TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL UNIQUE,
			email           TEXT NOT NULL UNIQUE,
			created_at      TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS wallets (
			id               TEXT PRIMARY KEY,
			identity_id      TEXT NOT NULL UNIQUE,
			ethereum_address TEXT NOT NULL,
			solana_address   TEXT NOT NULL,
			token_account    TEXT,
			created_at       TEXT NOT NULL,
			FOREIGN KEY (identity_id) REFERENCES identities(id)
		);

		CREATE INDEX IF NOT EXISTS idx_wallets_solana ON wallets(solana_address);

		CREATE TABLE IF NOT EXISTS airdrop_jobs (
			id               TEXT PRIMARY KEY,
			kind             TEXT NOT NULL,
			wallet_id        TEXT NOT NULL,
			owner            TEXT NOT NULL,
			state            TEXT NOT NULL,
			token_account    TEXT,
			signature        TEXT,
			last_error       TEXT,
			attempts         INTEGER NOT NULL DEFAULT 0,
			next_attempt_at  INTEGER NOT NULL,
			lease_owner      TEXT,
			lease_expires_at INTEGER,
			created_at       INTEGER NOT NULL,
			updated_at       INTEGER NOT NULL,

			CHECK (kind IN ('drop_tokens', 'fund_native')),
			CHECK (state IN ('requested', 'waiting_for_token_account', 'dropping', 'done', 'failed')),
			FOREIGN KEY (wallet_id) REFERENCES wallets(id)
		);

		CREATE INDEX IF NOT EXISTS idx_airdrop_jobs_due ON airdrop_jobs(state, next_attempt_at);
		CREATE INDEX IF NOT EXISTS idx_airdrop_jobs_wallet ON airdrop_jobs(wallet_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations applies additive column changes to existing databases
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		table  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('airdrop_jobs') WHERE name = 'waiting_since'`,
			apply:  `ALTER TABLE airdrop_jobs ADD COLUMN waiting_since INTEGER`,
			table:  "airdrop_jobs",
			column: "waiting_since",
		},
	}

	for _, m := range migrations {
		var exists int
		if err := s.db.QueryRow(m.check).Scan(&exists); err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// DB exposes the underlying handle for health checks.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// CreateIdentity inserts a new identity.
// Returns ErrDuplicate if the email or organization is already registered.
func (s *SQLiteStore) CreateIdentity(ctx context.Context, identity *Identity) error {
	if err := insertIdentity(ctx, s.db, identity); err != nil {
		return err
	}
	s.logger.Debug("created identity", "id", identity.ID, "organization", identity.OrganizationID)
	return nil
}

func insertIdentity(ctx context.Context, e execer, identity *Identity) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO identities (id, organization_id, email, created_at)
		VALUES (?, ?, ?, ?)
	`,
		identity.ID,
		identity.OrganizationID,
		identity.Email,
		identity.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting identity: %w", err)
	}
	return nil
}

// CreateIdentityWithWallet inserts an identity and its wallet in one
// transaction. Returns ErrDuplicate if either already exists.
func (s *SQLiteStore) CreateIdentityWithWallet(ctx context.Context, identity *Identity, wallet *Wallet) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := insertIdentity(ctx, tx, identity); err != nil {
		return err
	}
	if err := insertWallet(ctx, tx, wallet); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing registration: %w", err)
	}

	s.logger.Debug("created identity with wallet", "id", identity.ID, "wallet", wallet.ID)
	return nil
}

// GetIdentity retrieves an identity by ID.
func (s *SQLiteStore) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	return s.queryIdentity(ctx, `WHERE id = ?`, id)
}

// GetIdentityByOrganization retrieves an identity by its provider sub-organization.
func (s *SQLiteStore) GetIdentityByOrganization(ctx context.Context, organizationID string) (*Identity, error) {
	return s.queryIdentity(ctx, `WHERE organization_id = ?`, organizationID)
}

// GetIdentityByEmail retrieves an identity by email.
func (s *SQLiteStore) GetIdentityByEmail(ctx context.Context, email string) (*Identity, error) {
	return s.queryIdentity(ctx, `WHERE email = ?`, email)
}

func (s *SQLiteStore) queryIdentity(ctx context.Context, where string, arg string) (*Identity, error) {
	var (
		identity  Identity
		createdAt string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, organization_id, email, created_at FROM identities `+where, arg,
	).Scan(&identity.ID, &identity.OrganizationID, &identity.Email, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying identity: %w", err)
	}

	identity.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &identity, nil
}

// CreateWallet inserts a wallet. Each identity has at most one wallet.
func (s *SQLiteStore) CreateWallet(ctx context.Context, wallet *Wallet) error {
	if err := insertWallet(ctx, s.db, wallet); err != nil {
		return err
	}
	s.logger.Debug("created wallet", "id", wallet.ID, "identity", wallet.IdentityID)
	return nil
}

func insertWallet(ctx context.Context, e execer, wallet *Wallet) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO wallets (id, identity_id, ethereum_address, solana_address, token_account, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		wallet.ID,
		wallet.IdentityID,
		wallet.EthereumAddress,
		wallet.SolanaAddress,
		nullString(wallet.TokenAccount),
		wallet.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("inserting wallet: %w", err)
	}
	return nil
}

// GetWallet retrieves a wallet by ID.
func (s *SQLiteStore) GetWallet(ctx context.Context, id string) (*Wallet, error) {
	return s.queryWallet(ctx, `WHERE id = ?`, id)
}

// FindWalletByIdentity retrieves the wallet owned by an identity.
func (s *SQLiteStore) FindWalletByIdentity(ctx context.Context, identityID string) (*Wallet, error) {
	return s.queryWallet(ctx, `WHERE identity_id = ?`, identityID)
}

func (s *SQLiteStore) queryWallet(ctx context.Context, where string, arg string) (*Wallet, error) {
	var (
		wallet       Wallet
		tokenAccount sql.NullString
		createdAt    string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, identity_id, ethereum_address, solana_address, token_account, created_at
		FROM wallets `+where, arg,
	).Scan(&wallet.ID, &wallet.IdentityID, &wallet.EthereumAddress, &wallet.SolanaAddress, &tokenAccount, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying wallet: %w", err)
	}

	wallet.TokenAccount = tokenAccount.String
	wallet.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &wallet, nil
}

// SetTokenAccount sets the token account once. Later calls leave the stored
// value untouched and return it.
func (s *SQLiteStore) SetTokenAccount(ctx context.Context, walletID, tokenAccount string) (string, error) {
	if tokenAccount == "" {
		return "", fmt.Errorf("token account is required")
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE wallets SET token_account = ?
		WHERE id = ? AND (token_account IS NULL OR token_account = '')
	`, tokenAccount, walletID)
	if err != nil {
		return "", fmt.Errorf("setting token account: %w", err)
	}

	if n, _ := res.RowsAffected(); n == 1 {
		s.logger.Info("token account recorded", "wallet", walletID, "token_account", tokenAccount)
		return tokenAccount, nil
	}

	wallet, err := s.GetWallet(ctx, walletID)
	if err != nil {
		return "", err
	}
	return wallet.TokenAccount, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
