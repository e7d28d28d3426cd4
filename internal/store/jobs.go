// ABOUTME: SQLite persistence for airdrop jobs with lease-based claiming
// ABOUTME: A crashed worker's lease expires and the job becomes claimable again

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const jobColumns = `
	id, kind, wallet_id, owner, state, token_account, signature, last_error,
	attempts, next_attempt_at, waiting_since, created_at, updated_at`

// CreateJob inserts a new job.
func (s *SQLiteStore) CreateJob(ctx context.Context, job *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO airdrop_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		job.ID,
		string(job.Kind),
		job.WalletID,
		job.Owner,
		string(job.State),
		nullString(job.TokenAccount),
		nullString(job.Signature),
		nullString(job.LastError),
		job.Attempts,
		toMillis(job.NextAttemptAt),
		nullMillis(job.WaitingSince),
		toMillis(job.CreatedAt),
		toMillis(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting job: %w", err)
	}

	s.logger.Debug("created job", "id", job.ID, "kind", job.Kind, "wallet", job.WalletID)
	return nil
}

// GetJob retrieves a job by ID.
func (s *SQLiteStore) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM airdrop_jobs WHERE id = ?`, id)
	job, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// LeaseJobs claims up to limit due, non-terminal jobs for owner until
// now+leaseTTL. Each claim increments the job's attempt count.
func (s *SQLiteStore) LeaseJobs(ctx context.Context, owner string, limit int, now time.Time, leaseTTL time.Duration) ([]*Job, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, fmt.Errorf("lease owner is required")
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	if leaseTTL <= 0 {
		return nil, fmt.Errorf("lease ttl must be greater than zero")
	}
	nowMs := toMillis(now)
	expiresMs := toMillis(now.Add(leaseTTL))

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("start lease transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	const claimable = `
		state NOT IN ('done', 'failed')
		AND next_attempt_at <= ?
		AND (lease_owner IS NULL OR lease_expires_at IS NULL OR lease_expires_at <= ?)`

	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM airdrop_jobs
		WHERE `+claimable+`
		ORDER BY next_attempt_at ASC, created_at ASC, id ASC
		LIMIT ?
	`, nowMs, nowMs, limit)
	if err != nil {
		return nil, fmt.Errorf("select lease candidates: %w", err)
	}
	ids := make([]string, 0, limit)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan lease candidate: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, fmt.Errorf("iterate lease candidates: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("close lease candidates: %w", err)
	}

	leased := make([]*Job, 0, len(ids))
	for _, id := range ids {
		res, err := tx.ExecContext(ctx, `
			UPDATE airdrop_jobs
			SET lease_owner = ?, lease_expires_at = ?, attempts = attempts + 1, updated_at = ?
			WHERE id = ? AND `+claimable,
			owner, expiresMs, nowMs, id, nowMs, nowMs,
		)
		if err != nil {
			return nil, fmt.Errorf("lease job %s: %w", id, err)
		}
		if n, err := res.RowsAffected(); err != nil {
			return nil, fmt.Errorf("lease rows affected for %s: %w", id, err)
		} else if n == 0 {
			continue
		}

		job, err := scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM airdrop_jobs WHERE id = ?`, id).Scan)
		if err != nil {
			return nil, fmt.Errorf("scan leased job %s: %w", id, err)
		}
		leased = append(leased, job)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease transaction: %w", err)
	}
	return leased, nil
}

// UpdateJob persists the job's mutable fields. The caller must hold the lease.
func (s *SQLiteStore) UpdateJob(ctx context.Context, owner string, job *Job) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE airdrop_jobs
		SET state = ?, token_account = ?, signature = ?, last_error = ?,
			next_attempt_at = ?, waiting_since = ?, updated_at = ?
		WHERE id = ? AND lease_owner = ?
	`,
		string(job.State),
		nullString(job.TokenAccount),
		nullString(job.Signature),
		nullString(job.LastError),
		toMillis(job.NextAttemptAt),
		nullMillis(job.WaitingSince),
		toMillis(job.UpdatedAt),
		job.ID,
		owner,
	)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// ReleaseJob drops owner's lease so the job can be claimed again once due.
func (s *SQLiteStore) ReleaseJob(ctx context.Context, owner, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE airdrop_jobs SET lease_owner = NULL, lease_expires_at = NULL
		WHERE id = ? AND lease_owner = ?
	`, id, owner)
	if err != nil {
		return fmt.Errorf("releasing job: %w", err)
	}
	return nil
}

func scanJob(scan func(dest ...any) error) (*Job, error) {
	var (
		job                               Job
		kind, state                       string
		tokenAccount, signature, lastErr  sql.NullString
		nextAttempt, createdAt, updatedAt int64
		waitingSince                      sql.NullInt64
	)
	if err := scan(
		&job.ID, &kind, &job.WalletID, &job.Owner, &state,
		&tokenAccount, &signature, &lastErr,
		&job.Attempts, &nextAttempt, &waitingSince, &createdAt, &updatedAt,
	); err != nil {
		return nil, err
	}

	job.Kind = JobKind(kind)
	job.State = JobState(state)
	job.TokenAccount = tokenAccount.String
	job.Signature = signature.String
	job.LastError = lastErr.String
	job.NextAttemptAt = fromMillis(nextAttempt)
	if waitingSince.Valid {
		job.WaitingSince = fromMillis(waitingSince.Int64)
	}
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	return &job, nil
}

func nullMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(t), Valid: true}
}
