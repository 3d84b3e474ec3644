package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"crop-price-alerts/internal/engine"
	"crop-price-alerts/internal/scheduler"
	"crop-price-alerts/internal/storage"
)

// Service drives the detection engine on a schedule and piggybacks the
// notification retention purge onto the same loop.
type Service struct {
	scheduler *scheduler.Scheduler
	engine    *engine.Engine
	logger    zerolog.Logger

	locker     storage.AdvisoryLocker
	lockKey    int64
	purgeEvery time.Duration
	lastPurge  time.Time
}

// New constructs the alerting service.
func New(sched *scheduler.Scheduler, eng *engine.Engine, locker storage.AdvisoryLocker, lockKey int64, purgeEvery time.Duration, logger zerolog.Logger) *Service {
	if purgeEvery <= 0 {
		purgeEvery = 24 * time.Hour
	}
	return &Service{
		scheduler:  sched,
		engine:     eng,
		logger:     logger.With().Str("component", "service").Logger(),
		locker:     locker,
		lockKey:    lockKey,
		purgeEvery: purgeEvery,
	}
}

// Run begins the scheduled detection loop.
func (s *Service) Run(ctx context.Context) error {
	if s.scheduler == nil {
		return fmt.Errorf("scheduler not configured")
	}
	return s.scheduler.Run(ctx, s.ProcessCycle)
}

// ProcessCycle runs one detection cycle under the advisory lock so that
// overlapping replicas do not scan concurrently.
func (s *Service) ProcessCycle(ctx context.Context, tick time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("tick", tick).Msg("skip cycle because advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	if err := s.engine.RunDetectionCycle(ctx); err != nil {
		return fmt.Errorf("detection cycle: %w", err)
	}

	s.maybePurge(ctx, tick)
	return nil
}

func (s *Service) maybePurge(ctx context.Context, tick time.Time) {
	if !s.lastPurge.IsZero() && tick.Sub(s.lastPurge) < s.purgeEvery {
		return
	}
	if _, err := s.engine.PurgeOldNotifications(ctx); err != nil {
		s.logger.Error().Err(err).Msg("retention purge failed")
		return
	}
	s.lastPurge = tick
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}
