package link

import (
	"context"
	"errors"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/time/rate"
)

// A Pacer spaces out frames on the bus
type Pacer interface {
	Wait(ctx context.Context) error
}

// Fixed per-frame pacing, one frame per interval
type RatePacer struct {
	limiter *rate.Limiter
	clock   clock.Clock
}

func NewRatePacer(interval time.Duration, clk clock.Clock) *RatePacer {
	if clk == nil {
		clk = clock.New()
	}
	return &RatePacer{limiter: rate.NewLimiter(rate.Every(interval), 1), clock: clk}
}

// Wait blocks until the next frame may be sent
func (p *RatePacer) Wait(ctx context.Context) error {
	now := p.clock.Now()
	r := p.limiter.ReserveN(now, 1)
	if !r.OK() {
		return errors.New("pacer cannot grant a frame")
	}
	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	timer := p.clock.Timer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		r.CancelAt(p.clock.Now())
		return ctx.Err()
	}
}

// No pacing at all
type NopPacer struct{}

func (NopPacer) Wait(ctx context.Context) error {
	return ctx.Err()
}
