package entitlement

import (
	"context"
	"errors"
	"time"

	"looks-ledger/pkg/config"
	"looks-ledger/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Scheduler enqueues the sweep task once a day. The sweep is unique in the
// queue, so several worker replicas may run a scheduler.
type Scheduler struct {
	enqueuer task.Enqueuer
	hour     int
	minute   int
	cancel   context.CancelFunc
}

func NewScheduler(enq task.Enqueuer, cfg *config.Config) *Scheduler {
	return &Scheduler{enqueuer: enq, hour: cfg.Sync.SweepHour, minute: cfg.Sync.SweepMinute}
}

// StartScheduler runs the daily sweep for the lifetime of the app.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			go s.run(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			if s.cancel != nil {
				s.cancel()
			}
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started entitlement sweep scheduler")

	for {
		now := time.Now()
		next := nextRunTime(now, s.hour, s.minute)

		sleepDuration := next.Sub(now)
		zap.L().Info("[Scheduler] next run scheduled",
			zap.Time("next_run", next),
			zap.Duration("sleep_for", sleepDuration),
		)

		timer := time.NewTimer(sleepDuration)
		select {
		case <-timer.C:
			s.runDaily(ctx)
		case <-ctx.Done():
			timer.Stop()
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) runDaily(ctx context.Context) {
	start := time.Now()
	zap.L().Info("[Scheduler] Running daily entitlement sweep")

	info, err := s.enqueuer.Enqueue(ctx, NewSweepTask())
	if err != nil {
		if errors.Is(err, asynq.ErrDuplicateTask) {
			zap.L().Info("[Scheduler] entitlement sweep already queued")
			return
		}
		zap.L().Error("[Scheduler] failed to enqueue entitlement sweep", zap.Error(err))
		return
	}

	zap.L().Info("[Scheduler] Enqueued entitlement sweep",
		zap.String("task_id", info.ID),
		zap.Duration("duration", time.Since(start)),
	)
}

// nextRunTime returns the next occurrence of hour:minute strictly after now.
func nextRunTime(now time.Time, hour, minute int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
