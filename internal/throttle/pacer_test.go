package throttle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayWithinBounds(t *testing.T) {
	p := New(Options{MinDelay: 100 * time.Millisecond, MaxDelay: 2 * time.Second})
	for i := 0; i < 500; i++ {
		d := p.Delay()
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 2*time.Second)
	}
}

func TestDelayUsesSource(t *testing.T) {
	p := New(Options{MinDelay: time.Second, MaxDelay: 3 * time.Second})
	p.int64n = func(n int64) int64 { return n - 1 }
	assert.Equal(t, 3*time.Second, p.Delay())

	p.int64n = func(int64) int64 { return 0 }
	assert.Equal(t, time.Second, p.Delay())
}

func TestMaxBelowMinCollapses(t *testing.T) {
	p := New(Options{MinDelay: time.Second, MaxDelay: time.Millisecond})
	assert.Equal(t, time.Second, p.Delay())
}

func TestWaitCancelled(t *testing.T) {
	p := New(Options{MinDelay: time.Hour, MaxDelay: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Wait(ctx), context.Canceled)
}

func TestWaitZeroDelay(t *testing.T) {
	p := New(Options{RPS: 1000, Burst: 10})
	assert.NotNil(t, p.Limiter())
	assert.NoError(t, p.Wait(context.Background()))
}
