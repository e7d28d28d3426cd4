// ABOUTME: Background worker that leases due airdrop jobs and steps them
// ABOUTME: Jobs keep stepping until terminal or rescheduled into the future

package airdrop

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
)

// WorkerConfig controls leasing.
type WorkerConfig struct {
	ID        string
	Interval  time.Duration
	BatchSize int
	LeaseTTL  time.Duration
}

func (c WorkerConfig) withDefaults() WorkerConfig {
	if c.ID == "" {
		host, _ := os.Hostname()
		c.ID = fmt.Sprintf("%s-%s", host, uuid.New().String()[:8])
	}
	if c.Interval <= 0 {
		c.Interval = time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 10
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 2 * time.Minute
	}
	return c
}

// Worker polls the job store on an interval.
type Worker struct {
	orch *Orchestrator
	cfg  WorkerConfig
}

// NewWorker creates a worker driving o.
func NewWorker(o *Orchestrator, cfg WorkerConfig) *Worker {
	return &Worker{orch: o, cfg: cfg.withDefaults()}
}

// ID returns the lease owner name of this worker.
func (w *Worker) ID() string {
	return w.cfg.ID
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logger := w.orch.logger.With("worker", w.cfg.ID)
	logger.Info("airdrop worker started", "interval", w.cfg.Interval)

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if _, err := w.RunOnce(ctx); err != nil && ctx.Err() == nil {
			logger.Error("airdrop worker pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			logger.Info("airdrop worker stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// RunOnce leases one batch of due jobs and steps each as far as it can go.
// It returns the number of jobs leased.
func (w *Worker) RunOnce(ctx context.Context) (int, error) {
	o := w.orch
	jobs, err := o.store.LeaseJobs(ctx, w.cfg.ID, w.cfg.BatchSize, o.now(), w.cfg.LeaseTTL)
	if err != nil {
		return 0, fmt.Errorf("leasing jobs: %w", err)
	}

	for _, job := range jobs {
		for !job.State.Terminal() && !job.NextAttemptAt.After(o.now()) {
			if err := o.Step(ctx, w.cfg.ID, job); err != nil {
				o.logger.Error("airdrop step not saved", "job", job.ID, "error", err)
				break
			}
		}
		if err := o.store.ReleaseJob(ctx, w.cfg.ID, job.ID); err != nil {
			o.logger.Warn("releasing job", "job", job.ID, "error", err)
		}
	}
	return len(jobs), nil
}
