package lock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestDistributedLock_MutualExclusion(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	first := NewConversionLock(client, 42)
	second := NewConversionLock(client, 42)

	ok, err := first.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.False(t, ok, "same lead must not be locked twice")

	require.NoError(t, first.Unlock(ctx))

	ok, err = second.TryLock(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDistributedLock_UnlockKeepsForeignLock(t *testing.T) {
	client, mr := newTestClient(t)
	ctx := context.Background()

	stale := NewPaymentLock(client, 7)
	ok, err := stale.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// GIVEN: the first holder's lock expired and someone else took it
	mr.FastForward(31 * time.Second)
	current := NewPaymentLock(client, 7)
	ok, err = current.TryLock(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	// WHEN: the stale holder releases
	require.NoError(t, stale.Unlock(ctx))

	// THEN: the current holder still owns the key
	assert.True(t, mr.Exists(current.Key()))
}

func TestDistributedLock_LockGivesUp(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	holder := NewConversionLock(client, 1)
	require.NoError(t, holder.Lock(ctx, time.Millisecond, 1))

	err := NewConversionLock(client, 1).Lock(ctx, time.Millisecond, 3)
	assert.ErrorIs(t, err, ErrLockFailed)
}

func TestDistributedLock_DifferentKeys(t *testing.T) {
	client, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, NewConversionLock(client, 1).Lock(ctx, time.Millisecond, 1))
	require.NoError(t, NewPaymentLock(client, 1).Lock(ctx, time.Millisecond, 1))
	require.NoError(t, NewConversionLock(client, 2).Lock(ctx, time.Millisecond, 1))
}
