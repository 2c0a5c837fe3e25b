package lock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"courtbook/internal/models"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ErrNotAcquired is returned when the whole key set could not be taken within the wait window.
var ErrNotAcquired = errors.New("lock: keys not acquired within wait window")

// HandleSet is the proof of ownership of a group of keys acquired together.
// All keys share one token; release only removes keys still holding it.
type HandleSet struct {
	Keys       []string
	Token      string
	AcquiredAt time.Time
	Lease      time.Duration
}

// Len is safe on a nil set.
func (h *HandleSet) Len() int {
	if h == nil {
		return 0
	}
	return len(h.Keys)
}

// Locker grants all-or-nothing mutual exclusion over logical keys.
type Locker interface {
	Acquire(ctx context.Context, keys []string) (*HandleSet, error)
	Renew(ctx context.Context, set *HandleSet, ttl time.Duration) error
	Release(ctx context.Context, set *HandleSet) (int, error)
}

// Options shared by the implementations. Lease 0 means the keys never expire
// and must be released by the caller.
type Options struct {
	WaitTimeout   time.Duration
	RetryInterval time.Duration
	Lease         time.Duration
}

func (o Options) withDefaults() Options {
	if o.WaitTimeout <= 0 {
		o.WaitTimeout = models.DefaultLockWaitTimeout * time.Second
	}
	if o.RetryInterval <= 0 {
		o.RetryInterval = models.DefaultLockRetryInterval * time.Millisecond
	}
	if o.Lease < 0 {
		o.Lease = 0
	}
	return o
}

// KeyBuilder derives lock keys. Bookings and activity creation must use the
// same builder so they contend on identical keys.
type KeyBuilder struct {
	Prefix string
}

// SlotKey is "<prefix>:<templateID>:<YYYY-MM-DD>".
func (b KeyBuilder) SlotKey(templateID int64, date time.Time) string {
	prefix := b.Prefix
	if prefix == "" {
		prefix = "slot_lock"
	}
	return prefix + ":" + strconv.FormatInt(templateID, 10) + ":" + date.Format(models.DateLayout)
}

// SlotKeys builds the de-duplicated, sorted key set for templates on one date.
func (b KeyBuilder) SlotKeys(templateIDs []int64, date time.Time) []string {
	keys := make([]string, 0, len(templateIDs))
	for _, id := range templateIDs {
		keys = append(keys, b.SlotKey(id, date))
	}
	return normalizeKeys(keys)
}

func normalizeKeys(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func newToken() string {
	return uuid.NewString()
}

// tryFunc attempts one atomic acquisition; ok=false means some key is held.
type tryFunc func(ctx context.Context, keys []string, token string) (bool, error)

// acquireWithin retries try until it succeeds or the wait window closes.
// Attempts are paced by a token bucket so contended keys are not hammered.
func acquireWithin(ctx context.Context, opts Options, keys []string, try tryFunc) (*HandleSet, error) {
	keys = normalizeKeys(keys)
	if len(keys) == 0 {
		return nil, fmt.Errorf("lock: no keys to acquire")
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.WaitTimeout)
	defer cancel()

	limiter := rate.NewLimiter(rate.Every(opts.RetryInterval), 1)
	token := newToken()

	for {
		if err := limiter.Wait(waitCtx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, ErrNotAcquired
		}

		ok, err := try(waitCtx, keys, token)
		if err != nil {
			if waitCtx.Err() != nil && ctx.Err() == nil {
				return nil, ErrNotAcquired
			}
			return nil, fmt.Errorf("lock: acquire: %w", err)
		}
		if ok {
			return &HandleSet{
				Keys:       keys,
				Token:      token,
				AcquiredAt: time.Now(),
				Lease:      opts.Lease,
			}, nil
		}
	}
}
