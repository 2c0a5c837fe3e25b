package lock

import (
	"context"
	"errors"
	"time"

	"courtbook/internal/metrics"

	"github.com/rs/zerolog"
)

// Instrumented wraps a Locker with metrics and logging.
type Instrumented struct {
	next    Locker
	backend string
	logger  *zerolog.Logger
}

func NewInstrumented(next Locker, backend string, logger *zerolog.Logger) *Instrumented {
	return &Instrumented{next: next, backend: backend, logger: logger}
}

func (i *Instrumented) Acquire(ctx context.Context, keys []string) (*HandleSet, error) {
	start := time.Now()
	set, err := i.next.Acquire(ctx, keys)
	wait := time.Since(start)

	result := "acquired"
	switch {
	case errors.Is(err, ErrNotAcquired):
		result = "busy"
		i.logger.Debug().Strs("keys", keys).Dur("wait", wait).Msg("slot keys busy")
	case err != nil:
		result = "error"
		i.logger.Error().Err(err).Strs("keys", keys).Msg("lock acquire error")
	}
	metrics.ObserveLockAcquire(i.backend, result, wait)
	return set, err
}

func (i *Instrumented) Renew(ctx context.Context, set *HandleSet, ttl time.Duration) error {
	err := i.next.Renew(ctx, set, ttl)
	if err != nil {
		i.logger.Warn().Err(err).Int("keys", set.Len()).Msg("lock renew failed")
	}
	return err
}

func (i *Instrumented) Release(ctx context.Context, set *HandleSet) (int, error) {
	if set.Len() == 0 {
		return 0, nil
	}
	released, err := i.next.Release(ctx, set)
	if err != nil {
		i.logger.Error().Err(err).Int("keys", set.Len()).Msg("lock release error")
		return released, err
	}
	if released < set.Len() {
		// lease ran out while the critical section was still running
		i.logger.Warn().Int("released", released).Int("keys", set.Len()).Msg("some slot keys were no longer held at release")
	}
	metrics.ObserveLockHold(i.backend, time.Since(set.AcquiredAt))
	return released, nil
}
