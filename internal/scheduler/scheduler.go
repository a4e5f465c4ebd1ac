package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dan9191/mutual-fund/internal/apperr"
	"github.com/Dan9191/mutual-fund/internal/config"
	"github.com/Dan9191/mutual-fund/internal/identity"
	"github.com/Dan9191/mutual-fund/internal/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// maxBatchesPerRun bounds the distribution batches one scheduled run executes
const maxBatchesPerRun = 1000

// Fund is the subset of the service the background jobs drive
type Fund interface {
	DistributeInterest(ctx context.Context) (models.Distribution, error)
	RetryStaleRandomness(ctx context.Context) (int, error)
	SyncInterestRate(ctx context.Context) (int64, error)
}

// Scheduler runs the periodic fund jobs as the operator identity
type Scheduler struct {
	cron *cron.Cron
	fund Fund
	log  *logrus.Logger
	ctx  context.Context
}

// NewScheduler creates a scheduler whose jobs act as operator
func NewScheduler(ctx context.Context, fund Fund, operator string, log *logrus.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithSeconds()),
		fund: fund,
		log:  log,
		ctx:  identity.WithCaller(ctx, operator),
	}
}

// Register adds every job with a non-empty schedule
func (s *Scheduler) Register(cfg config.Schedule) error {
	jobs := []struct {
		name string
		spec string
		fn   func()
	}{
		{"distribution", cfg.DistributeCron, s.RunDistribution},
		{"randomness retry", cfg.RandomnessRetryCron, s.RunRandomnessRetry},
		{"rate sync", cfg.RateSyncCron, s.RunRateSync},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.spec, job.fn); err != nil {
			return fmt.Errorf("register %s job: %w", job.name, err)
		}
		s.log.Infof("Scheduled %s job: %s", job.name, job.spec)
	}
	return nil
}

// Start starts the cron scheduler
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Scheduler started")
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("Scheduler stopped")
}

// RunDistribution pays distribution batches until the pass completes
func (s *Scheduler) RunDistribution() {
	for i := 0; i < maxBatchesPerRun; i++ {
		if s.ctx.Err() != nil {
			return
		}
		res, err := s.fund.DistributeInterest(s.ctx)
		if errors.Is(err, apperr.ErrNothingToDistribute) || errors.Is(err, apperr.ErrNoInvestors) {
			s.log.Debugf("Distribution skipped: %v", err)
			return
		}
		if err != nil {
			s.log.Errorf("Distribution batch failed: %v", err)
			return
		}
		if res.Complete {
			s.log.Infof("Distribution pass complete after %d batches", i+1)
			return
		}
	}
	s.log.Warnf("Distribution still in progress after %d batches", maxBatchesPerRun)
}

// RunRandomnessRetry re-issues stale committee randomness requests
func (s *Scheduler) RunRandomnessRetry() {
	n, err := s.fund.RetryStaleRandomness(s.ctx)
	if err != nil {
		s.log.Errorf("Randomness retry failed: %v", err)
		return
	}
	if n > 0 {
		s.log.Infof("Re-requested randomness for %d ballots", n)
	}
}

// RunRateSync refreshes the daily interest rate
func (s *Scheduler) RunRateSync() {
	if _, err := s.fund.SyncInterestRate(s.ctx); err != nil {
		s.log.Errorf("Interest rate sync failed: %v", err)
	}
}
