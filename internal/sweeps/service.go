package sweeps

import (
	"context"
	"fmt"
	"time"

	"github.com/ajimenez-dev/circulation-backend/pkg/logger"
	"github.com/ajimenez-dev/circulation-backend/pkg/metrics"
)

const defaultInterval = time.Hour

// ServiceParams configures the sweep runner.
type ServiceParams struct {
	Logger   *logger.Logger
	Registry *Registry
	Lock     Lock
	Metrics  *metrics.SweepJobMetrics
	Interval time.Duration
}

// Service runs every registered sweep on a fixed interval, holding a
// distributed lock for the duration of each cycle.
type Service struct {
	logg     *logger.Logger
	registry *Registry
	lock     Lock
	metrics  *metrics.SweepJobMetrics
	interval time.Duration
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Registry == nil {
		return nil, fmt.Errorf("sweep registry required")
	}
	if params.Lock == nil {
		return nil, fmt.Errorf("sweep lock required")
	}
	interval := params.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Service{
		logg:     params.Logger,
		registry: params.Registry,
		lock:     params.Lock,
		metrics:  params.Metrics,
		interval: interval,
		now:      time.Now,
	}, nil
}

// Run executes one cycle immediately and then one per interval until the
// context is cancelled.
func (s *Service) Run(ctx context.Context) {
	s.runCycle(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

func (s *Service) runCycle(ctx context.Context) {
	acquired, err := s.lock.Acquire(ctx)
	if err != nil {
		s.logg.Error(ctx, "sweep lock acquisition failed", err)
		return
	}
	if !acquired {
		s.logg.Info(ctx, "sweep cycle skipped, another worker holds the lock")
		return
	}
	defer func() {
		if err := s.lock.Release(ctx); err != nil {
			s.logg.Error(ctx, "sweep lock release failed", err)
		}
	}()

	for _, sweep := range s.registry.Sweeps() {
		if ctx.Err() != nil {
			return
		}
		s.runSweep(ctx, sweep)
	}
}

func (s *Service) runSweep(ctx context.Context, sweep Sweep) {
	started := s.now()
	sweepCtx := s.logg.WithField(ctx, "sweep", sweep.Name())

	err := sweep.Run(sweepCtx)
	elapsed := s.now().Sub(started)
	s.metrics.ObserveDuration(sweep.Name(), elapsed)
	sweepCtx = s.logg.WithField(sweepCtx, "duration_ms", elapsed.Milliseconds())

	if err != nil {
		s.metrics.IncFailure(sweep.Name())
		s.logg.Error(sweepCtx, "sweep failed", err)
		return
	}
	s.metrics.IncSuccess(sweep.Name())
	s.logg.Info(sweepCtx, "sweep completed")
}
