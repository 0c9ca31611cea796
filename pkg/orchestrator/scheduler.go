package orchestrator

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler ticks the orchestrator at a fixed interval. Cycles never
// overlap: a tick arriving while a cycle runs is dropped, not queued.
type Scheduler struct {
	orch     *Orchestrator
	interval time.Duration
	logger   *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(orch *Orchestrator, interval time.Duration) *Scheduler {
	return &Scheduler{
		orch:     orch,
		interval: interval,
		logger:   slog.Default().With("component", "scheduler"),
	}
}

// Start launches the loop. The first cycle runs immediately.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.run(ctx)
}

// Stop cancels the loop and waits for an in-flight cycle to finish.
func (s *Scheduler) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	s.runOne(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOne(ctx)
			// Drop any tick that accumulated while the cycle ran.
			select {
			case <-ticker.C:
				s.logger.Warn("Tick skipped: previous cycle overran the interval")
			default:
			}
		}
	}
}

func (s *Scheduler) runOne(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if _, err := s.orch.RunCycle(ctx); err != nil {
		s.logger.Error("Cycle report failed", "error", err)
	}
}
