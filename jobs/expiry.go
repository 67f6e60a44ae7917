package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultExpiryInterval = 5 * time.Minute
	// After a failed sweep the next one comes sooner than a full interval.
	DefaultErrorBackoff = time.Minute
)

// Expirer closes pending vault movements whose approval window has passed.
type Expirer interface {
	ExpirePendingMovements(ctx context.Context, now time.Time) (int64, error)
}

type ExpirySweeper struct {
	expirer  Expirer
	interval time.Duration
	backoff  time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewExpirySweeper(expirer Expirer, interval time.Duration, log *zap.Logger) *ExpirySweeper {
	if interval <= 0 {
		interval = DefaultExpiryInterval
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &ExpirySweeper{
		expirer:  expirer,
		interval: interval,
		backoff:  min(DefaultErrorBackoff, interval),
		log:      log,
		now:      time.Now,
	}
}

// Run sweeps once straight away and then every interval until ctx is done.
// A failed sweep is logged and retried after the shorter back-off.
func (s *ExpirySweeper) Run(ctx context.Context) {
	timer := time.NewTimer(s.next(s.sweep(ctx)))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("expiry sweeper stopped")
			return
		case <-timer.C:
			timer.Reset(s.next(s.sweep(ctx)))
		}
	}
}

func (s *ExpirySweeper) next(ok bool) time.Duration {
	if ok {
		return s.interval
	}
	return s.backoff
}

// Start runs the sweeper in its own goroutine. The returned channel closes
// once it has stopped.
func (s *ExpirySweeper) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.Run(ctx)
	}()
	return done
}

func (s *ExpirySweeper) sweep(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("expiry sweep panicked", zap.Any("panic", r))
			ok = false
		}
	}()

	if ctx.Err() != nil {
		return true
	}

	n, err := s.expirer.ExpirePendingMovements(ctx, s.now())
	if err != nil {
		s.log.Error("expire pending vault movements", zap.Error(err), zap.Duration("retry_in", s.backoff))
		return false
	}
	if n > 0 {
		s.log.Info("expired pending vault movements", zap.Int64("count", n))
	}
	return true
}
