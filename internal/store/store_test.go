// ABOUTME: Behavioural tests run against every Store implementation
// ABOUTME: Keeps MockStore and SQLiteStore semantics in lockstep

package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("sqlite", func(t *testing.T) {
		s := newTestStore(t)
		defer s.Close()
		fn(t, s)
	})
	t.Run("mock", func(t *testing.T) {
		fn(t, NewMockStore())
	})
}

func seedWallet(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	if err := s.CreateIdentity(ctx, &Identity{
		ID: "identity-1", OrganizationID: "org-1", Email: "a@example.com", CreatedAt: now,
	}); err != nil {
		t.Fatalf("CreateIdentity failed: %v", err)
	}
	if err := s.CreateWallet(ctx, &Wallet{
		ID: "wallet-1", IdentityID: "identity-1",
		EthereumAddress: "0xabc", SolanaAddress: "So1anaAddress", CreatedAt: now,
	}); err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}
}

func newTestJob(id string, now time.Time) *Job {
	return &Job{
		ID:            id,
		Kind:          JobDropTokens,
		WalletID:      "wallet-1",
		Owner:         "So1anaAddress",
		State:         JobRequested,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func TestStore_IdentityLookups(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		seedWallet(t, s)
		ctx := context.Background()

		byOrg, err := s.GetIdentityByOrganization(ctx, "org-1")
		if err != nil {
			t.Fatalf("GetIdentityByOrganization failed: %v", err)
		}
		byEmail, err := s.GetIdentityByEmail(ctx, "a@example.com")
		if err != nil {
			t.Fatalf("GetIdentityByEmail failed: %v", err)
		}
		if byOrg.ID != "identity-1" || byEmail.ID != "identity-1" {
			t.Errorf("lookups returned %q and %q", byOrg.ID, byEmail.ID)
		}

		if _, err := s.GetIdentity(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStore_DuplicateIdentity(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		seedWallet(t, s)

		err := s.CreateIdentity(context.Background(), &Identity{
			ID: "identity-2", OrganizationID: "org-2", Email: "a@example.com", CreatedAt: time.Now(),
		})
		if !errors.Is(err, ErrDuplicate) {
			t.Errorf("expected ErrDuplicate for reused email, got %v", err)
		}
	})
}

func TestStore_CreateIdentityWithWallet(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		seedWallet(t, s)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Second)
		ident := &Identity{ID: "identity-2", OrganizationID: "org-2", Email: "b@example.com", CreatedAt: now}

		// The wallet id collides, so the identity must not be kept either.
		err := s.CreateIdentityWithWallet(ctx, ident, &Wallet{
			ID: "wallet-1", IdentityID: "identity-2", SolanaAddress: "Other", CreatedAt: now,
		})
		if !errors.Is(err, ErrDuplicate) {
			t.Fatalf("expected ErrDuplicate, got %v", err)
		}
		if _, err := s.GetIdentityByEmail(ctx, "b@example.com"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("identity survived a failed registration: %v", err)
		}

		err = s.CreateIdentityWithWallet(ctx, ident, &Wallet{
			ID: "wallet-2", IdentityID: "identity-2", SolanaAddress: "Other", CreatedAt: now,
		})
		if err != nil {
			t.Fatalf("CreateIdentityWithWallet failed: %v", err)
		}
		w, err := s.FindWalletByIdentity(ctx, "identity-2")
		if err != nil {
			t.Fatalf("FindWalletByIdentity failed: %v", err)
		}
		if w.ID != "wallet-2" {
			t.Errorf("unexpected wallet: %+v", w)
		}
	})
}

func TestStore_FindWalletByIdentity(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		seedWallet(t, s)

		w, err := s.FindWalletByIdentity(context.Background(), "identity-1")
		if err != nil {
			t.Fatalf("FindWalletByIdentity failed: %v", err)
		}
		if w.ID != "wallet-1" || w.SolanaAddress != "So1anaAddress" || w.TokenAccount != "" {
			t.Errorf("unexpected wallet: %+v", w)
		}

		if _, err := s.FindWalletByIdentity(context.Background(), "identity-x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestStore_SetTokenAccountIsWriteOnce(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		seedWallet(t, s)
		ctx := context.Background()

		got, err := s.SetTokenAccount(ctx, "wallet-1", "ata-first")
		if err != nil {
			t.Fatalf("SetTokenAccount failed: %v", err)
		}
		if got != "ata-first" {
			t.Errorf("first set returned %q", got)
		}

		got, err = s.SetTokenAccount(ctx, "wallet-1", "ata-second")
		if err != nil {
			t.Fatalf("second SetTokenAccount failed: %v", err)
		}
		if got != "ata-first" {
			t.Errorf("second set returned %q, want the original value", got)
		}

		w, err := s.GetWallet(ctx, "wallet-1")
		if err != nil {
			t.Fatalf("GetWallet failed: %v", err)
		}
		if w.TokenAccount != "ata-first" {
			t.Errorf("stored token account %q was overwritten", w.TokenAccount)
		}

		if _, err := s.SetTokenAccount(ctx, "wallet-x", "ata"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for unknown wallet, got %v", err)
		}
	})
}

func TestStore_JobLifecycle(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		seedWallet(t, s)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		if err := s.CreateJob(ctx, newTestJob("job-1", now)); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}
		future := newTestJob("job-2", now)
		future.NextAttemptAt = now.Add(time.Hour)
		if err := s.CreateJob(ctx, future); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}

		leased, err := s.LeaseJobs(ctx, "worker", 10, now, time.Minute)
		if err != nil {
			t.Fatalf("LeaseJobs failed: %v", err)
		}
		if len(leased) != 1 || leased[0].ID != "job-1" {
			t.Fatalf("expected only job-1 to be due, got %+v", leased)
		}
		if leased[0].Attempts != 1 {
			t.Errorf("expected 1 attempt, got %d", leased[0].Attempts)
		}

		// Leased jobs are not handed out twice.
		again, err := s.LeaseJobs(ctx, "other", 10, now, time.Minute)
		if err != nil {
			t.Fatalf("LeaseJobs failed: %v", err)
		}
		if len(again) != 0 {
			t.Errorf("expected no jobs for a second worker, got %d", len(again))
		}

		job := leased[0]
		job.State = JobWaitingForTokenAccount
		job.TokenAccount = "ata-1"
		job.WaitingSince = now
		job.NextAttemptAt = now.Add(5 * time.Second)
		job.UpdatedAt = now
		if err := s.UpdateJob(ctx, "worker", job); err != nil {
			t.Fatalf("UpdateJob failed: %v", err)
		}
		if err := s.ReleaseJob(ctx, "worker", job.ID); err != nil {
			t.Fatalf("ReleaseJob failed: %v", err)
		}

		got, err := s.GetJob(ctx, "job-1")
		if err != nil {
			t.Fatalf("GetJob failed: %v", err)
		}
		if got.State != JobWaitingForTokenAccount || got.TokenAccount != "ata-1" {
			t.Errorf("unexpected job after update: %+v", got)
		}
		if !got.WaitingSince.Equal(now) {
			t.Errorf("waiting_since = %v, want %v", got.WaitingSince, now)
		}

		// Not due until next_attempt_at.
		early, _ := s.LeaseJobs(ctx, "worker", 10, now.Add(time.Second), time.Minute)
		if len(early) != 0 {
			t.Errorf("job leased before it was due")
		}
		due, _ := s.LeaseJobs(ctx, "worker", 10, now.Add(6*time.Second), time.Minute)
		if len(due) != 1 || due[0].Attempts != 2 {
			t.Errorf("expected job-1 due with 2 attempts, got %+v", due)
		}
	})
}

func TestStore_TerminalJobsAreNeverLeased(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		seedWallet(t, s)
		ctx := context.Background()
		now := time.Now().UTC()

		done := newTestJob("job-done", now)
		done.State = JobDone
		if err := s.CreateJob(ctx, done); err != nil {
			t.Fatalf("CreateJob failed: %v", err)
		}

		leased, err := s.LeaseJobs(ctx, "worker", 10, now.Add(time.Hour), time.Minute)
		if err != nil {
			t.Fatalf("LeaseJobs failed: %v", err)
		}
		if len(leased) != 0 {
			t.Errorf("terminal job was leased")
		}

		if _, err := s.GetJob(ctx, "job-missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}
