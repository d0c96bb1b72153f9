package lock

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/getpup/pupsourcing-migrator"
	"github.com/getpup/pupsourcing-migrator/store"
	"github.com/getpup/pupsourcing-migrator/store/memory"
)

func TestKeeper_RenewsAtInterval(t *testing.T) {
	mockStore := store.NewMockLockStore()
	var renewals atomic.Int32
	mockStore.RenewFunc = func(ctx context.Context, id string, expiresAt time.Time) error {
		renewals.Add(1)
		return nil
	}

	c := New(Config{Store: mockStore, Timeout: time.Minute, RenewInterval: 20 * time.Millisecond})
	lease, err := c.Acquire(context.Background(), "migrate", "host-a")
	require.NoError(t, err)

	k := c.Keep(context.Background(), lease)
	time.Sleep(110 * time.Millisecond)
	k.Stop()

	assert.GreaterOrEqual(t, renewals.Load(), int32(3))
	assert.NoError(t, k.Err())
	assert.True(t, k.Lease().ExpiresAt.After(lease.ExpiresAt) || k.Lease().ExpiresAt.Equal(lease.ExpiresAt))
}

func TestKeeper_DetectsLostLease(t *testing.T) {
	s := memory.New()
	c := New(Config{Store: s, Timeout: time.Minute, RenewInterval: 10 * time.Millisecond})
	ctx := context.Background()

	lease, err := c.Acquire(ctx, "migrate", "host-a")
	require.NoError(t, err)

	k := c.Keep(ctx, lease)
	defer k.Stop()

	// Someone else removed the record.
	require.NoError(t, s.Delete(ctx, lease.ID))

	select {
	case <-k.Lost():
	case <-time.After(time.Second):
		t.Fatal("keeper did not report lost lease")
	}
	assert.True(t, errors.Is(k.Err(), migrator.ErrLeaseLost))
}

func TestKeeper_ToleratesTransientErrorsUntilExpiry(t *testing.T) {
	clk := newClock()
	mockStore := store.NewMockLockStore()
	mockStore.RenewFunc = func(ctx context.Context, id string, expiresAt time.Time) error {
		return errors.New("timeout")
	}

	c := New(Config{Store: mockStore, Timeout: time.Minute, RenewInterval: 10 * time.Millisecond, Now: clk.Now})
	lease, err := c.Acquire(context.Background(), "migrate", "host-a")
	require.NoError(t, err)

	k := c.Keep(context.Background(), lease)
	defer k.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.NoError(t, k.Err())

	clk.Advance(2 * time.Minute)
	select {
	case <-k.Lost():
	case <-time.After(time.Second):
		t.Fatal("keeper did not report expired lease")
	}
	assert.True(t, errors.Is(k.Err(), migrator.ErrLeaseLost))
}

func TestKeeper_StopIsPrompt(t *testing.T) {
	c := New(Config{Store: memory.New(), Timeout: time.Hour})
	lease, err := c.Acquire(context.Background(), "migrate", "host-a")
	require.NoError(t, err)

	k := c.Keep(context.Background(), lease)
	done := make(chan struct{})
	go func() {
		k.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return")
	}
}
