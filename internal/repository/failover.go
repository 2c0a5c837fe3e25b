package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"courtbook/internal/domain"
	"courtbook/internal/models"

	"github.com/rs/zerolog"
)

const recoveryInterval = time.Minute

// FailoverResponseStore uses primary until it fails, then fallback. The
// primary is tried again once recoveryInterval has passed.
type FailoverResponseStore struct {
	primary   domain.ResponseStore
	fallback  domain.ResponseStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
	now       func() time.Time
}

func NewFailoverResponseStore(primary, fallback domain.ResponseStore, logger *zerolog.Logger) *FailoverResponseStore {
	return &FailoverResponseStore{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
		now:      time.Now,
	}
}

func (r *FailoverResponseStore) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary response store failed, falling back to memory")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = r.now()
	r.mu.Unlock()
}

// usePrimary reports whether the next call should go to the primary store.
func (r *FailoverResponseStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.now().Sub(r.lastCheck) > recoveryInterval {
		r.lastCheck = r.now()
		return true
	}
	return false
}

func (r *FailoverResponseStore) Get(ctx context.Context, key string) (*models.StoredResponse, error) {
	if r.usePrimary() {
		resp, err := r.primary.Get(ctx, key)
		if err == nil {
			if r.isDown.CompareAndSwap(true, false) {
				r.logger.Info().Msg("Primary response store recovered")
			}
			return resp, nil
		}
		r.markDown(err)
	}
	return r.fallback.Get(ctx, key)
}

func (r *FailoverResponseStore) Put(ctx context.Context, key string, resp *models.StoredResponse) error {
	if r.usePrimary() {
		err := r.primary.Put(ctx, key, resp)
		if err == nil {
			r.isDown.Store(false)
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.Put(ctx, key, resp)
}
