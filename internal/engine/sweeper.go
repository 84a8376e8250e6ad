package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/joaovsf/fitbook/internal/model"
	"github.com/joaovsf/fitbook/internal/policy"
)

// Sweeper periodically marks overdue active bookings as no-shows.  It
// is the only background work the engine owns; everything else runs on
// the request path.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	log      *zap.Logger
}

// NewSweeper wires a sweeper running every interval.
func NewSweeper(engine *Engine, interval time.Duration, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{engine: engine, interval: interval, log: log}
}

// Run blocks, sweeping once per interval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Info("no-show sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("no-show sweeper stopped")
			return
		case <-ticker.C:
			if n, err := s.Sweep(ctx); err != nil {
				s.log.Error("no-show sweep failed", zap.Error(err))
			} else if n > 0 {
				s.log.Info("no-show sweep done", zap.Int("marked", n))
			}
		}
	}
}

// Sweep finds active bookings past their check-in tolerance and marks
// each as a no-show in its own transaction.  It returns the number of
// bookings marked.  Per-booking failures are logged and skipped so one
// contended booking cannot wedge the sweep.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	pol, err := s.engine.policies.ActivePolicy(ctx)
	if err != nil {
		return 0, fmt.Errorf("load active policy: %w", err)
	}
	cutoff := s.engine.now().Add(-time.Duration(pol.CheckinToleranceMinutes) * time.Minute)

	var overdue []model.Booking
	err = s.engine.store.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		var err error
		overdue, err = tx.ListOverdueActive(ctx, cutoff)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("list overdue bookings: %w", err)
	}

	marked := 0
	for i := range overdue {
		b := &overdue[i]
		if s.engine.now().Before(policy.NoShowCutoff(pol, b.StartAt)) {
			continue
		}
		if _, err := s.engine.MarkNoShow(ctx, b.ID); err != nil {
			// Lost the race with a concurrent cancel or complete.
			if errors.Is(err, ErrAlreadyTerminal) {
				continue
			}
			s.log.Warn("no-show mark failed", zap.String("booking_id", b.ID), zap.Error(err))
			continue
		}
		marked++
	}
	return marked, nil
}
