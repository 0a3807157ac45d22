package clock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWall_TicksAdvance(t *testing.T) {
	w := NewWall()

	before := w.Ticks()
	assert.GreaterOrEqual(t, before, int64(0))

	time.Sleep(10 * time.Millisecond)
	assert.GreaterOrEqual(t, w.Ticks(), before+10)
}

func TestWall_SleepNonPositive(t *testing.T) {
	w := NewWall()

	require.NoError(t, w.Sleep(context.Background(), 0))
	require.NoError(t, w.Sleep(context.Background(), -time.Second))
}

func TestWall_SleepHonorsContext(t *testing.T) {
	w := NewWall()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, w.Sleep(ctx, time.Hour), context.Canceled)

	ctx, cancel = context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	assert.ErrorIs(t, w.Sleep(ctx, time.Hour), context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second, "sleep must unblock at the deadline")
}
