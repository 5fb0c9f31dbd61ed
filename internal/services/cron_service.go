package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// PaymentJobs is the work the scheduler runs
type PaymentJobs interface {
	Reconcile(ctx context.Context) (int, error)
	ExpirePending(ctx context.Context) (int, error)
}

// CronService manages scheduled background jobs
type CronService struct {
	cron       *cron.Cron
	jobs       PaymentJobs
	logger     *logrus.Logger
	jobTimeout time.Duration
}

// NewCronService creates a new CronService
func NewCronService(jobs PaymentJobs, logger *logrus.Logger) *CronService {
	// Cron with seconds precision
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	return &CronService{
		cron:       c,
		jobs:       jobs,
		logger:     logger,
		jobTimeout: 2 * time.Minute,
	}
}

// Start schedules both payment jobs and starts the scheduler.
// Format: second minute hour day month weekday.
func (s *CronService) Start(reconcileSchedule, expirySchedule string) error {
	s.logger.Info("Starting cron service...")

	// Job 1: poll the gateway for intents nobody told us about
	if _, err := s.cron.AddFunc(reconcileSchedule, s.reconcileJob); err != nil {
		return fmt.Errorf("failed to schedule reconcile job: %w", err)
	}
	s.logger.WithField("schedule", reconcileSchedule).Info("Scheduled: Reconcile pending payments")

	// Job 2: cancel intents that were never paid
	if _, err := s.cron.AddFunc(expirySchedule, s.expireJob); err != nil {
		return fmt.Errorf("failed to schedule expiry job: %w", err)
	}
	s.logger.WithField("schedule", expirySchedule).Info("Scheduled: Expire pending payments")

	s.cron.Start()
	s.logger.Info("Cron service started successfully")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) reconcileJob() {
	s.run("reconcile", s.jobs.Reconcile)
}

func (s *CronService) expireJob() {
	s.run("expire_pending", s.jobs.ExpirePending)
}

func (s *CronService) run(name string, job func(ctx context.Context) (int, error)) {
	ctx, cancel := context.WithTimeout(context.Background(), s.jobTimeout)
	defer cancel()

	startTime := time.Now()
	count, err := job(ctx)
	fields := logrus.Fields{
		"job":      name,
		"count":    count,
		"duration": time.Since(startTime).String(),
	}
	if err != nil {
		s.logger.WithFields(fields).WithError(err).Error("[CRON] Job finished with errors")
		return
	}
	s.logger.WithFields(fields).Debug("[CRON] Job finished")
}
