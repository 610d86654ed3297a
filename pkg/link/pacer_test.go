package link

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func TestRatePacer(t *testing.T) {
	mock := clock.NewMock()
	pacer := NewRatePacer(time.Millisecond, mock)

	// First frame goes out right away
	assert.Nil(t, pacer.Wait(context.Background()))

	var done atomic.Bool
	go func() {
		_ = pacer.Wait(context.Background())
		done.Store(true)
	}()
	time.Sleep(10 * time.Millisecond)
	assert.False(t, done.Load())
	assert.Eventually(t, func() bool {
		mock.Add(100 * time.Microsecond)
		return done.Load()
	}, time.Second, time.Millisecond)
}

func TestRatePacerCanceled(t *testing.T) {
	mock := clock.NewMock()
	pacer := NewRatePacer(time.Second, mock)
	assert.Nil(t, pacer.Wait(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, pacer.Wait(ctx), context.Canceled)
}

func TestNopPacer(t *testing.T) {
	assert.Nil(t, NopPacer{}.Wait(context.Background()))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, NopPacer{}.Wait(ctx), context.Canceled)
}
