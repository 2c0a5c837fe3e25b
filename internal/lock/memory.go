package lock

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type memoryEntry struct {
	token     string
	expiresAt time.Time // zero = no expiry
}

func (e memoryEntry) live(now time.Time) bool {
	return e.expiresAt.IsZero() || now.Before(e.expiresAt)
}

// MemoryLocker is an in-process Locker for single-node deployments and tests.
type MemoryLocker struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	opts    Options
	now     func() time.Time
}

func NewMemoryLocker(opts Options) *MemoryLocker {
	return &MemoryLocker{
		entries: make(map[string]memoryEntry),
		opts:    opts.withDefaults(),
		now:     time.Now,
	}
}

func (l *MemoryLocker) Acquire(ctx context.Context, keys []string) (*HandleSet, error) {
	return acquireWithin(ctx, l.opts, keys, l.tryAcquire)
}

func (l *MemoryLocker) tryAcquire(_ context.Context, keys []string, token string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for _, k := range keys {
		if e, ok := l.entries[k]; ok && e.live(now) {
			return false, nil
		}
	}

	var expiresAt time.Time
	if l.opts.Lease > 0 {
		expiresAt = now.Add(l.opts.Lease)
	}
	for _, k := range keys {
		l.entries[k] = memoryEntry{token: token, expiresAt: expiresAt}
	}
	return true, nil
}

func (l *MemoryLocker) Renew(_ context.Context, set *HandleSet, ttl time.Duration) error {
	if set.Len() == 0 {
		return nil
	}
	if ttl <= 0 {
		return fmt.Errorf("lock: renew ttl must be positive")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	renewed := 0
	for _, k := range set.Keys {
		e, ok := l.entries[k]
		if !ok || e.token != set.Token || !e.live(now) {
			continue
		}
		e.expiresAt = now.Add(ttl)
		l.entries[k] = e
		renewed++
	}
	if renewed != len(set.Keys) {
		return fmt.Errorf("lock: renewed %d of %d keys: %w", renewed, len(set.Keys), ErrNotAcquired)
	}
	set.Lease = ttl
	return nil
}

func (l *MemoryLocker) Release(_ context.Context, set *HandleSet) (int, error) {
	if set.Len() == 0 {
		return 0, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	released := 0
	for _, k := range set.Keys {
		e, ok := l.entries[k]
		if !ok || e.token != set.Token {
			continue
		}
		delete(l.entries, k)
		if e.live(l.now()) {
			released++
		}
	}
	return released, nil
}

// Held reports whether key is currently locked.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	return ok && e.live(l.now())
}
