package purge

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs the purge job once on startup and then on every interval
// until stopped.
type Scheduler struct {
	job      *Job
	interval time.Duration
	logger   *slog.Logger

	stopCh chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// NewScheduler creates a scheduler for job.
func NewScheduler(job *Job, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		job:      job,
		interval: interval,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start launches the loop in a goroutine and returns. Runs in flight when
// Stop is called are cancelled through ctx.
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))

	s.logger.Info("purge scheduler started", slog.Duration("interval", s.interval))
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop signals the scheduler to stop and waits for it to finish.
// It is safe to call Stop multiple times.
func (s *Scheduler) Stop() {
	s.once.Do(func() {
		s.logger.Info("stopping purge scheduler")
		close(s.stopCh)
		if s.cancel != nil {
			s.cancel()
		}
	})
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	s.job.Run(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.job.Run(ctx)
		case <-s.stopCh:
			s.logger.Info("purge scheduler stopped")
			return
		}
	}
}
