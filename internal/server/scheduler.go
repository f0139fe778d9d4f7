package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler handles scheduled sync operations
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	models   []string
	syncer   Syncer
	logger   *logrus.Logger
	metrics  *Metrics
	mu       sync.RWMutex
	running  bool
	entryID  cron.EntryID
	lastSync *time.Time
}

// NewScheduler creates a scheduler that syncs models on schedule
func NewScheduler(schedule string, models []string, syncer Syncer, logger *logrus.Logger, metrics *Metrics) *Scheduler {
	c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(logger)))

	return &Scheduler{
		cron:     c,
		schedule: schedule,
		models:   models,
		syncer:   syncer,
		logger:   logger,
		metrics:  metrics,
	}
}

// Start starts the scheduler
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler is already running")
	}

	entryID, err := s.cron.AddFunc(s.schedule, s.runSync)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}
	s.entryID = entryID

	s.cron.Start()
	s.running = true

	s.logger.Infof("Scheduler started with schedule '%s' (entry ID: %d)", s.schedule, entryID)
	if next := s.cron.Entry(entryID).Next; !next.IsZero() {
		s.logger.Infof("Next sync scheduled for: %s", next.Format(time.RFC3339))
	}

	return nil
}

// Stop stops the scheduler and waits for a running sync to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cron.Remove(s.entryID)
	s.mu.Unlock()

	ctx := s.cron.Stop()
	<-ctx.Done()

	s.logger.Info("Scheduler stopped")
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Schedule returns the cron expression
func (s *Scheduler) Schedule() string {
	return s.schedule
}

// GetLastSync returns the time of the last sync operation
func (s *Scheduler) GetLastSync() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

// GetNextSync returns the time of the next scheduled sync
func (s *Scheduler) GetNextSync() *time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.running {
		return nil
	}

	next := s.cron.Entry(s.entryID).Next
	if next.IsZero() {
		return nil
	}
	return &next
}

// RunNow runs one sync immediately, outside the schedule
func (s *Scheduler) RunNow() {
	s.runSync()
}

// runSync executes a sync operation (called by cron)
func (s *Scheduler) runSync() {
	s.logger.Info("Starting scheduled sync operation")

	startTime := time.Now()
	result, err := s.syncer.SyncAll(context.Background(), s.models)
	duration := time.Since(startTime)

	s.mu.Lock()
	s.lastSync = &startTime
	s.mu.Unlock()

	if result == nil {
		s.logger.Errorf("Scheduled sync failed: %v", err)
		s.metrics.RecordFailedSync(err, duration)
		return
	}

	s.metrics.RecordSync(result, duration)
	if err != nil {
		s.logger.Warnf("Scheduled sync completed with %d errors in %v", len(result.Errors), duration)
		return
	}
	s.logger.Infof("Scheduled sync completed successfully in %v (%d records)", duration, result.TotalItems())
}
