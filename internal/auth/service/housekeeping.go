package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/playerdash/dashboard/internal/auth/revocation"
	"github.com/playerdash/dashboard/internal/auth/store"
)

// HousekeepingService periodically deletes expired and revoked refresh
// tokens so the table does not grow without bound, and pings the revocation
// index so a dead connection shows up in the logs before it matters.
type HousekeepingService struct {
	Store       store.Store
	Revocations *revocation.Index
	Logger      *slog.Logger
	Interval    time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates the service. If interval is 0 or negative,
// defaults to 1 hour.
func NewHousekeepingService(st store.Store, rvk *revocation.Index, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	return &HousekeepingService{
		Store:       st,
		Revocations: rvk,
		Logger:      logger,
		Interval:    interval,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop() to shut down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the worker, blocking until any in-progress
// cleanup finishes.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup runs each task independently so one failure does not stop the rest.
func (s *HousekeepingService) cleanup() {
	ctx := context.Background()
	s.Logger.Info("starting housekeeping cleanup")

	if err := s.Store.RefreshTokens().PurgeExpired(ctx, timeNow()); err != nil {
		s.Logger.Error("failed to purge expired refresh tokens", "error", err)
	} else {
		s.Logger.Debug("purged expired refresh tokens")
	}

	// Entries expire by TTL on the index side; this is a health probe.
	if err := s.Revocations.Purge(ctx); err != nil {
		s.Logger.Error("revocation index unreachable during housekeeping", "error", err)
	}

	s.Logger.Info("housekeeping cleanup completed")
}
