package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/playerdash/dashboard/internal/auth/store"
)

// ReminderService is a daily sweep over pending registrations whose
// invitation has expired. Each candidate gets a fresh token and a reminder
// email, at most once per reminder interval so nobody is nagged hourly.
type ReminderService struct {
	Store    store.Store
	Invites  *InviteService
	Logger   *slog.Logger
	Interval time.Duration // how often the sweep runs

	stopCh chan struct{}
	doneCh chan struct{}
}

const DefaultReminderInterval = 24 * time.Hour

func NewReminderService(st store.Store, invites *InviteService, logger *slog.Logger, interval time.Duration) *ReminderService {
	if interval <= 0 {
		interval = DefaultReminderInterval
	}
	return &ReminderService{
		Store:    st,
		Invites:  invites,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop() to shut down.
func (s *ReminderService) Start() {
	go s.run()
	s.Logger.Info("reminder service started", "interval", s.Interval)
}

// Stop gracefully shuts down the worker.
func (s *ReminderService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("reminder service stopped")
}

func (s *ReminderService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.stopCh:
			return
		}
	}
}

// Sweep re-invites everyone with an expired invitation who has not been
// reminded within the reminder interval. Per-candidate failures are logged
// and skipped.
func (s *ReminderService) Sweep(ctx context.Context) {
	now := timeNow()
	candidates, err := s.Store.Principals().ListReminderCandidates(ctx, now, now.Add(-s.Interval))
	if err != nil {
		s.Logger.Error("failed to list reminder candidates", "error", err)
		return
	}
	if len(candidates) == 0 {
		return
	}

	s.Logger.Info("sending registration reminders", slog.Int("count", len(candidates)))
	for _, p := range candidates {
		if err := s.Invites.issueInvite(ctx, &p, now); err != nil {
			s.Logger.Error("failed to re-invite pending principal",
				"principal_id", p.ID, "error", err)
		}
	}
}
