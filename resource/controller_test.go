package resource

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestController_InFlight(t *testing.T) {
	c := NewController(Config{MaxInFlight: 2})

	require.NoError(t, c.Acquire(context.Background()))
	require.NoError(t, c.Acquire(context.Background()))
	assert.Equal(t, int64(2), c.InFlight())

	assert.ErrorIs(t, c.TryAcquire(), ErrOverloaded)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, c.Acquire(ctx), context.DeadlineExceeded)

	c.Release()
	assert.Equal(t, int64(1), c.InFlight())
	assert.NoError(t, c.TryAcquire())
}

func TestController_Unlimited(t *testing.T) {
	c := NewController(Config{})

	for range 100 {
		require.NoError(t, c.Acquire(context.Background()))
	}
	assert.Equal(t, int64(100), c.InFlight())
}

func TestController_Rate(t *testing.T) {
	c := NewController(Config{RatePerSecond: 1, Burst: 1})

	require.NoError(t, c.Wait(context.Background()))

	// The bucket is empty; the next token is ~1s away.
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, c.Wait(ctx))
}

func TestController_AcquireIO(t *testing.T) {
	c := NewController(Config{IOLimitBytesPerSec: 1 << 20})

	// Within the initial burst.
	require.NoError(t, c.AcquireIO(context.Background(), 512<<10))

	var nilController *Controller
	assert.NoError(t, nilController.AcquireIO(context.Background(), 1<<30))
	assert.NoError(t, nilController.Acquire(context.Background()))
	nilController.Release()
}
