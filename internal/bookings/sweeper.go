package bookings

import (
	"context"
	"fmt"
	"time"

	"github.com/wolfman30/medspa-slot-booking/internal/bookingerr"
	"github.com/wolfman30/medspa-slot-booking/pkg/logging"
)

// Sweeper proactively expires drafts left in AWAITING_OTP past their
// deadline so the audit trail shows an EXPIRED transition. Correctness does
// not depend on it: slot locks and drafts expire in Redis on their own.
type Sweeper struct {
	machine   *Machine
	observer  SweepObserver
	logger    *logging.Logger
	interval  time.Duration
	batchSize int64
}

// SweepObserver is told how many drafts each sweep expired.
type SweepObserver interface {
	ObserveSweep(expired int)
}

// NewSweeper creates an expiry sweeper over machine.
func NewSweeper(machine *Machine, logger *logging.Logger) *Sweeper {
	if machine == nil {
		panic("bookings: machine required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Sweeper{machine: machine, logger: logger, interval: time.Minute, batchSize: 100}
}

func (s *Sweeper) WithInterval(interval time.Duration) *Sweeper {
	if interval > 0 {
		s.interval = interval
	}
	return s
}

func (s *Sweeper) WithObserver(o SweepObserver) *Sweeper {
	s.observer = o
	return s
}

func (s *Sweeper) WithBatchSize(size int64) *Sweeper {
	if size > 0 {
		s.batchSize = size
	}
	return s
}

// Run sweeps on every tick until ctx is done.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepOnce(ctx); err != nil {
				s.logger.Error("booking expiry sweep failed", "error", err)
			}
		}
	}
}

// SweepOnce expires every overdue AWAITING_OTP draft and returns how many
// transitioned. Drafts that moved on or vanished are dropped from the index.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	ids, err := s.machine.store.overdue(ctx, s.machine.now(), s.batchSize)
	if err != nil {
		return 0, fmt.Errorf("bookings sweeper: %w", err)
	}

	expired := 0
	for _, id := range ids {
		d, err := s.machine.Get(ctx, id)
		if err != nil && !bookingerr.Is(err, bookingerr.KindNotFound) {
			s.logger.Error("booking sweeper: load failed", "draft_id", id, "error", err)
			continue
		}
		if d == nil || d.State != StateAwaitingOTP {
			s.unindex(ctx, id)
			continue
		}

		_, err = s.machine.Expire(ctx, id)
		switch {
		case err == nil:
			expired++
		case bookingerr.Is(err, bookingerr.KindNotFound):
			s.unindex(ctx, id)
		default:
			// Conflict means another actor moved the draft; the next sweep re-checks it.
			s.logger.Warn("booking sweeper: expire failed", "draft_id", id, "error", err)
		}
	}
	if s.observer != nil {
		s.observer.ObserveSweep(expired)
	}
	if expired > 0 {
		s.logger.Info("booking sweeper: expired drafts", "count", expired)
	}
	return expired, nil
}

func (s *Sweeper) unindex(ctx context.Context, id string) {
	if err := s.machine.store.unindexAwaiting(ctx, id); err != nil {
		s.logger.Error("booking sweeper: unindex failed", "draft_id", id, "error", err)
	}
}
