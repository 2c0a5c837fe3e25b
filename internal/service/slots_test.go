package service

import (
	"context"
	"testing"
	"time"

	"courtbook/internal/lock"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithSlotKeys_RenewsLeaseWhileRunning(t *testing.T) {
	logger := zerolog.Nop()
	locker := lock.NewMemoryLocker(lock.Options{
		WaitTimeout:   time.Second,
		RetryInterval: 5 * time.Millisecond,
		Lease:         60 * time.Millisecond,
	})
	keys := lock.KeyBuilder{Prefix: "slot_lock"}
	g := &slotGuard{locker: locker, keys: keys, opts: Options{}.withDefaults(), logger: &logger}
	key := keys.SlotKey(1, tomorrow)

	err := g.withSlotKeys(context.Background(), []int64{1}, tomorrow, func() error {
		// several leases long
		time.Sleep(250 * time.Millisecond)
		assert.True(t, locker.Held(key), "key expired inside the critical section")
		return nil
	})
	require.NoError(t, err)
	assert.False(t, locker.Held(key))
}

func TestWithSlotKeys_IndefiniteHold(t *testing.T) {
	logger := zerolog.Nop()
	locker := lock.NewMemoryLocker(lock.Options{WaitTimeout: 100 * time.Millisecond})
	keys := lock.KeyBuilder{Prefix: "slot_lock"}
	g := &slotGuard{locker: locker, keys: keys, opts: Options{}.withDefaults(), logger: &logger}
	key := keys.SlotKey(2, tomorrow)

	err := g.withSlotKeys(context.Background(), []int64{2}, tomorrow, func() error {
		assert.True(t, locker.Held(key))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, locker.Held(key))
}
