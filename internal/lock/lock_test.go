package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testOpts = Options{
	WaitTimeout:   150 * time.Millisecond,
	RetryInterval: 10 * time.Millisecond,
	Lease:         5 * time.Second,
}

func newRedisLocker(t *testing.T, opts Options) (*RedisLocker, *miniredis.Miniredis) {
	t.Helper()
	s, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(s.Close)

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return NewRedisLocker(client, opts), s
}

func lockers(t *testing.T) map[string]Locker {
	redisLocker, _ := newRedisLocker(t, testOpts)
	return map[string]Locker{
		"memory": NewMemoryLocker(testOpts),
		"redis":  redisLocker,
	}
}

func TestSlotKeys(t *testing.T) {
	date := time.Date(2026, 10, 20, 15, 4, 0, 0, time.UTC)
	b := KeyBuilder{}

	assert.Equal(t, "slot_lock:7:2026-10-20", b.SlotKey(7, date))
	assert.Equal(t,
		[]string{"slot_lock:1:2026-10-20", "slot_lock:3:2026-10-20"},
		b.SlotKeys([]int64{3, 1, 3}, date),
	)
	assert.Equal(t, "court:7:2026-10-20", KeyBuilder{Prefix: "court"}.SlotKey(7, date))
}

func TestLockerContract(t *testing.T) {
	for name, l := range lockers(t) {
		l := l
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			t.Run("AllOrNothing", func(t *testing.T) {
				held, err := l.Acquire(ctx, []string{"a:2"})
				require.NoError(t, err)

				_, err = l.Acquire(ctx, []string{"a:1", "a:2", "a:3"})
				assert.ErrorIs(t, err, ErrNotAcquired)

				// a:1 and a:3 must not be left behind by the failed attempt
				other, err := l.Acquire(ctx, []string{"a:1", "a:3"})
				require.NoError(t, err)

				_, err = l.Release(ctx, other)
				require.NoError(t, err)
				_, err = l.Release(ctx, held)
				require.NoError(t, err)
			})

			t.Run("ReleaseIsIdempotent", func(t *testing.T) {
				set, err := l.Acquire(ctx, []string{"b:1", "b:2"})
				require.NoError(t, err)

				n, err := l.Release(ctx, set)
				require.NoError(t, err)
				assert.Equal(t, 2, n)

				n, err = l.Release(ctx, set)
				require.NoError(t, err)
				assert.Equal(t, 0, n)

				n, err = l.Release(ctx, nil)
				require.NoError(t, err)
				assert.Equal(t, 0, n)
			})

			t.Run("ReleaseDoesNotFreeForeignKeys", func(t *testing.T) {
				mine, err := l.Acquire(ctx, []string{"c:1"})
				require.NoError(t, err)
				stale := &HandleSet{Keys: []string{"c:1"}, Token: "someone-else"}

				n, err := l.Release(ctx, stale)
				require.NoError(t, err)
				assert.Equal(t, 0, n)

				_, err = l.Acquire(ctx, []string{"c:1"})
				assert.ErrorIs(t, err, ErrNotAcquired)

				_, _ = l.Release(ctx, mine)
			})

			t.Run("Renew", func(t *testing.T) {
				set, err := l.Acquire(ctx, []string{"d:1"})
				require.NoError(t, err)
				require.NoError(t, l.Renew(ctx, set, time.Minute))
				assert.Equal(t, time.Minute, set.Lease)

				_, _ = l.Release(ctx, set)
				assert.ErrorIs(t, l.Renew(ctx, set, time.Minute), ErrNotAcquired)
			})

			t.Run("EmptyKeys", func(t *testing.T) {
				_, err := l.Acquire(ctx, nil)
				assert.Error(t, err)
			})
		})
	}
}

func TestLockerExclusiveUnderContention(t *testing.T) {
	for name, l := range lockers(t) {
		l := l
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			const workers = 20

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				inside  int
				maxSeen int
				winners int
			)
			wg.Add(workers)
			for i := 0; i < workers; i++ {
				go func() {
					defer wg.Done()
					set, err := l.Acquire(ctx, []string{"hot:1", "hot:2"})
					if err != nil {
						return
					}
					mu.Lock()
					inside++
					winners++
					if inside > maxSeen {
						maxSeen = inside
					}
					mu.Unlock()

					time.Sleep(2 * time.Millisecond)

					mu.Lock()
					inside--
					mu.Unlock()
					_, _ = l.Release(ctx, set)
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, maxSeen, "critical section must never be shared")
			assert.GreaterOrEqual(t, winners, 1)
		})
	}
}

func TestRedisLeaseExpiry(t *testing.T) {
	l, s := newRedisLocker(t, Options{WaitTimeout: 50 * time.Millisecond, RetryInterval: 5 * time.Millisecond, Lease: time.Second})
	ctx := context.Background()

	set, err := l.Acquire(ctx, []string{"lease:1"})
	require.NoError(t, err)
	assert.True(t, s.Exists("lease:1"))

	s.FastForward(2 * time.Second)

	other, err := l.Acquire(ctx, []string{"lease:1"})
	require.NoError(t, err)

	// the expired set must not free the new owner's key
	n, err := l.Release(ctx, set)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.True(t, s.Exists("lease:1"))

	_, _ = l.Release(ctx, other)
}

func TestRedisIndefiniteHold(t *testing.T) {
	l, s := newRedisLocker(t, Options{WaitTimeout: 50 * time.Millisecond, RetryInterval: 5 * time.Millisecond})
	ctx := context.Background()

	set, err := l.Acquire(ctx, []string{"forever:1"})
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), s.TTL("forever:1"))

	n, err := l.Release(ctx, set)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestMemoryLeaseExpiry(t *testing.T) {
	l := NewMemoryLocker(Options{WaitTimeout: 50 * time.Millisecond, RetryInterval: 5 * time.Millisecond, Lease: time.Second})
	now := time.Now()
	l.now = func() time.Time { return now }
	ctx := context.Background()

	set, err := l.Acquire(ctx, []string{"m:1"})
	require.NoError(t, err)
	assert.True(t, l.Held("m:1"))

	now = now.Add(2 * time.Second)
	assert.False(t, l.Held("m:1"))

	n, err := l.Release(ctx, set)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAcquireRespectsContextCancel(t *testing.T) {
	l := NewMemoryLocker(Options{WaitTimeout: time.Second, RetryInterval: 5 * time.Millisecond})
	held, err := l.Acquire(context.Background(), []string{"x"})
	require.NoError(t, err)
	defer l.Release(context.Background(), held)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = l.Acquire(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInstrumentedRelease(t *testing.T) {
	logger := zerolog.Nop()
	l := NewInstrumented(NewMemoryLocker(testOpts), "memory", &logger)
	ctx := context.Background()

	set, err := l.Acquire(ctx, []string{"i:1"})
	require.NoError(t, err)

	n, err := l.Release(ctx, set)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = l.Release(ctx, set)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	n, err = l.Release(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
