package service

import (
	"context"
	"errors"
	"time"

	"eventflyer/internal/common/cache"
	"eventflyer/internal/common/schedule"
	"eventflyer/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	CleanupLockKey        = "flyer:cleanup:lock"
	defaultCleanupLockTTL = 30 * time.Minute
)

// ErrSweepInProgress is returned when another sweep holds the lease.
var ErrSweepInProgress = errors.New("flyer sweep already in progress")

// Sweeper runs one cleanup sweep.
type Sweeper interface {
	Sweep(ctx context.Context) (SweepReport, error)
}

// SchedulerOptions controls the cleanup trigger.
type SchedulerOptions struct {
	// Lock is optional; without it sweeps are not coordinated across replicas.
	Lock    cache.LockOps
	LockTTL time.Duration

	Now   func() time.Time
	After func(time.Duration) <-chan time.Time
}

// CleanupScheduler triggers sweeps on a schedule and on demand.
type CleanupScheduler struct {
	sweeper  Sweeper
	schedule *schedule.Schedule
	lock     cache.LockOps
	lockTTL  time.Duration
	now      func() time.Time
	after    func(time.Duration) <-chan time.Time
}

func NewCleanupScheduler(sweeper Sweeper, sched *schedule.Schedule, opts SchedulerOptions) *CleanupScheduler {
	lockTTL := opts.LockTTL
	if lockTTL <= 0 {
		lockTTL = defaultCleanupLockTTL
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	after := opts.After
	if after == nil {
		after = time.After
	}
	return &CleanupScheduler{
		sweeper:  sweeper,
		schedule: sched,
		lock:     opts.Lock,
		lockTTL:  lockTTL,
		now:      now,
		after:    after,
	}
}

// Run sweeps on every tick until ctx is done.
func (s *CleanupScheduler) Run(ctx context.Context) error {
	if s.schedule.IsManual() {
		logger.Info(ctx, "flyer cleanup schedule is manual")
		<-ctx.Done()
		return nil
	}
	logger.Info(ctx, "flyer cleanup scheduler started", zap.String("schedule", s.schedule.String()))

	var prev time.Time
	for {
		now := s.now()
		wait := s.schedule.Next(now, prev).Sub(now)
		if wait < 0 {
			wait = 0
		}
		select {
		case <-ctx.Done():
			return nil
		case <-s.after(wait):
		}

		_, err := s.RunOnce(ctx)
		switch {
		case errors.Is(err, ErrSweepInProgress):
			logger.Info(ctx, "skip flyer cleanup tick, lease held elsewhere")
		case err != nil && ctx.Err() == nil:
			logger.Error(ctx, "flyer cleanup tick failed", zap.Error(err))
		}
		prev = s.now()
	}
}

// RunOnce performs one sweep under the lease.
func (s *CleanupScheduler) RunOnce(ctx context.Context) (SweepReport, error) {
	ctx = withInvocation(ctx)
	if s.lock != nil {
		ok, err := s.lock.TryLock(ctx, CleanupLockKey, s.lockTTL)
		if err != nil {
			return SweepReport{}, err
		}
		if !ok {
			return SweepReport{}, ErrSweepInProgress
		}
		defer func() {
			if err := s.lock.Unlock(context.WithoutCancel(ctx), CleanupLockKey); err != nil {
				logger.Warn(ctx, "release flyer cleanup lease failed", zap.Error(err))
			}
		}()
	}
	return s.sweeper.Sweep(ctx)
}
