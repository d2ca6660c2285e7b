package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// Scheduler executes draft broadcasts once their scheduled_at has passed.
// Due broadcasts run one at a time.
type Scheduler struct {
	orchestrator *Orchestrator
	logger       *slog.Logger
	pollInterval time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler polling every pollInterval
func NewScheduler(o *Orchestrator, pollInterval time.Duration, logger *slog.Logger) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		orchestrator: o,
		logger:       logger.With("component", "scheduler"),
		pollInterval: pollInterval,
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Start starts the polling loop
func (s *Scheduler) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info("scheduler started", "poll_interval", s.pollInterval)
}

// Stop cancels the running broadcast, if any, and waits for the loop to exit
func (s *Scheduler) Stop() {
	s.logger.Info("stopping scheduler...")
	s.cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.RunDue(s.ctx)
		}
	}
}

// RunDue executes every broadcast that is due now and returns how many
// ran to completion
func (s *Scheduler) RunDue(ctx context.Context) int {
	due, err := s.orchestrator.broadcasts.ListDue(ctx, s.orchestrator.now())
	if err != nil {
		s.logger.Error("failed to list due broadcasts", "error", err)
		return 0
	}

	completed := 0
	for _, b := range due {
		if ctx.Err() != nil {
			return completed
		}

		s.logger.Info("executing scheduled broadcast", "broadcast_id", b.ID, "scheduled_at", b.ScheduledAt)
		_, err := s.orchestrator.Execute(ctx, b.ID, false)
		switch {
		case errors.Is(err, ErrBroadcastNotDraft):
			// Started elsewhere between listing and execution
			s.logger.Debug("scheduled broadcast already started", "broadcast_id", b.ID)
			continue
		case err != nil:
			s.logger.Error("scheduled broadcast failed", "broadcast_id", b.ID, "error", err)
			continue
		}
		completed++
	}
	return completed
}
