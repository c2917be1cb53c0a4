// Package scheduler runs the periodic housekeeping jobs of the server. It
// wraps gocron; each job samples one shared store into a Prometheus gauge so
// that the values reflect every server process, not only this one.
//
// Jobs run in singleton mode: when a store is slow and the previous run is
// still in flight, the next tick is rescheduled instead of piling up.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"

	"github.com/palaver-chat/palaver/internal/metrics"
	"github.com/palaver-chat/palaver/internal/presence"
	"github.com/palaver-chat/palaver/internal/signalqueue"
)

const (
	tagQueueDepth  = "queue_depth"
	tagOnlineUsers = "online_users"

	sampleTimeout = 5 * time.Second
)

// Scheduler wraps gocron and owns the sampling jobs.
// The zero value is not usable; create instances with New.
type Scheduler struct {
	cron     gocron.Scheduler
	interval time.Duration
	queue    signalqueue.Queue
	presence presence.Set
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// New creates a Scheduler sampling every interval. Call Start to begin.
func New(
	interval time.Duration,
	queue signalqueue.Queue,
	presenceSet presence.Set,
	m *metrics.Metrics,
	logger *zap.Logger,
) (*Scheduler, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("scheduler: interval must be positive, got %s", interval)
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	return &Scheduler{
		cron:     s,
		interval: interval,
		queue:    queue,
		presence: presenceSet,
		metrics:  m,
		logger:   logger.Named("scheduler"),
	}, nil
}

// Start registers the jobs and starts the underlying gocron scheduler. Both
// jobs also run once immediately.
func (s *Scheduler) Start() error {
	jobs := map[string]func(context.Context) error{
		tagQueueDepth:  s.SampleQueueDepth,
		tagOnlineUsers: s.SampleOnlineUsers,
	}
	for tag, fn := range jobs {
		if err := s.addJob(tag, fn); err != nil {
			return err
		}
	}

	s.cron.Start()
	s.logger.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int("jobs", len(s.cron.Jobs())),
	)
	return nil
}

// Stop shuts down gocron, waiting for running jobs to complete.
func (s *Scheduler) Stop() error {
	if err := s.cron.Shutdown(); err != nil {
		return fmt.Errorf("scheduler shutdown error: %w", err)
	}
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) addJob(tag string, fn func(context.Context) error) error {
	_, err := s.cron.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			ctx, cancel := context.WithTimeout(context.Background(), sampleTimeout)
			defer cancel()
			if err := fn(ctx); err != nil {
				s.logger.Warn("sampling job failed", zap.String("job", tag), zap.Error(err))
			}
		}),
		gocron.WithName(tag),
		gocron.WithTags(tag),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return fmt.Errorf("gocron.NewJob failed for %s: %w", tag, err)
	}
	return nil
}

// SampleQueueDepth records the number of undelivered signal queue messages.
func (s *Scheduler) SampleQueueDepth(ctx context.Context) error {
	n, err := s.queue.Len(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: queue depth: %w", err)
	}
	s.metrics.QueueDepth.Set(float64(n))
	return nil
}

// SampleOnlineUsers records the size of the shared presence set.
func (s *Scheduler) SampleOnlineUsers(ctx context.Context) error {
	n, err := s.presence.Len(ctx)
	if err != nil {
		return fmt.Errorf("scheduler: online users: %w", err)
	}
	s.metrics.OnlineUsers.Set(float64(n))
	return nil
}
