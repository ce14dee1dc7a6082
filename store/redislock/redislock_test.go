package redislock

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocal_SecondAcquireWaitsForReleaseOrExpiry(t *testing.T) {
	// GIVEN: A local locker with a controllable clock
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l := NewLocal()
	l.clock = func() time.Time { return now }
	ctx := context.Background()

	// WHEN: Two acquirers race for the same key
	first, err := l.Acquire(ctx, "accrual:2025-01-01", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := l.Acquire(ctx, "accrual:2025-01-01", time.Minute)
	require.NoError(t, err)

	// THEN: Only the first holds it
	assert.Nil(t, second)

	// AND: Other keys are independent
	other, err := l.Acquire(ctx, "accrual:2025-01-02", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, other)

	// AND: After expiry the lease can be taken over, and the old holder's
	// release no longer deletes it
	now = now.Add(2 * time.Minute)
	third, err := l.Acquire(ctx, "accrual:2025-01-01", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.ErrorIs(t, first.Release(ctx), ErrNotHeld)
	assert.NoError(t, third.Release(ctx))

	again, err := l.Acquire(ctx, "accrual:2025-01-01", time.Minute)
	require.NoError(t, err)
	assert.NotNil(t, again)
}

func TestNew_Prefix(t *testing.T) {
	assert.Equal(t, "savings:lock:k", New(nil, "").fullKey("k"))
	assert.Equal(t, "svc:k", New(nil, " svc: ").fullKey("k"))
}

func TestRedis_AcquireRelease(t *testing.T) {
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, url)
	require.NoError(t, err)
	defer client.Close()

	locker := New(client, "savings:test")
	key := "lease-" + time.Now().Format("150405.000000000")

	lease, err := locker.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	require.NotNil(t, lease)

	blocked, err := locker.Acquire(ctx, key, 5*time.Second)
	require.NoError(t, err)
	assert.Nil(t, blocked)

	require.NoError(t, lease.Release(ctx))
	assert.ErrorIs(t, lease.Release(ctx), ErrNotHeld)
}
