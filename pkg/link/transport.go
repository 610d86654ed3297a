// Package link sends 8-byte frames on a CAN bus and waits for the
// receiver's acknowledgments.
package link

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	canflash "github.com/samsamfire/canflash"
	can "github.com/samsamfire/canflash/pkg/can"
	"github.com/samsamfire/canflash/pkg/codec"
)

const (
	DefaultAckID = 0x40
	NegativeAck  = 0x7F
	ackQueueSize = 64
)

// Bus selection, resolved through the pkg/can registry
type BusConfig struct {
	Interface string
	Channel   string
	Bitrate   int
}

// Transport owns a bus for the duration of a transfer.
// Frames on the acknowledgment identifier are queued for Receive, every
// received or sent frame refreshes the activity clock.
type Transport struct {
	bm     *canflash.BusManager
	logger *slog.Logger
	clock  clock.Clock
	pacer  Pacer
	ackID  uint32
	wrap   func(can.Bus) can.Bus

	acks chan can.Frame

	mu           sync.Mutex
	lastActivity time.Time
	closed       bool
}

type Option func(t *Transport)

// Identifier on which acknowledgments are expected
func WithAckID(id uint32) Option {
	return func(t *Transport) { t.ackID = id & can.CanSffMask }
}

func WithPacer(pacer Pacer) Option {
	return func(t *Transport) {
		if pacer != nil {
			t.pacer = pacer
		}
	}
}

func WithClock(clk clock.Clock) Option {
	return func(t *Transport) {
		if clk != nil {
			t.clock = clk
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// Wraps the bus before it is connected, e.g. to trace traffic
func WithBusWrapper(wrap func(can.Bus) can.Bus) Option {
	return func(t *Transport) { t.wrap = wrap }
}

// Open creates the bus described by cfg, connects and subscribes to it.
// Any failure wraps ErrUnavailable.
func Open(ctx context.Context, cfg BusConfig, opts ...Option) (*Transport, error) {
	bus, err := can.NewBus(cfg.Interface, cfg.Channel, cfg.Bitrate)
	if err != nil {
		return nil, fmt.Errorf("%w : %v", ErrUnavailable, err)
	}
	t, err := connect(ctx, bus, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w : %v %v : %v", ErrUnavailable, cfg.Interface, cfg.Channel, err)
	}
	return t, nil
}

// New wraps an already created bus, connecting it
func New(bus can.Bus, opts ...Option) (*Transport, error) {
	t, err := connect(context.Background(), bus, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w : %v", ErrUnavailable, err)
	}
	return t, nil
}

func connect(ctx context.Context, bus can.Bus, opts ...Option) (*Transport, error) {
	t := &Transport{
		logger: slog.Default(),
		clock:  clock.New(),
		pacer:  NopPacer{},
		ackID:  DefaultAckID,
		acks:   make(chan can.Frame, ackQueueSize),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.wrap != nil {
		bus = t.wrap(bus)
	}
	t.bm = canflash.NewBusManager(bus)
	if err := t.bm.Subscribe(0, 0, false, t); err != nil {
		return nil, err
	}
	if err := t.bm.Connect(ctx); err != nil {
		return nil, err
	}
	t.touch()
	return t, nil
}

func (t *Transport) touch() {
	t.mu.Lock()
	t.lastActivity = t.clock.Now()
	t.mu.Unlock()
}

func (t *Transport) deadline(timeout time.Duration) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastActivity.Add(timeout)
}

// Identifier on which acknowledgments are expected
func (t *Transport) AckID() uint32 {
	return t.ackID
}

// Implements can.FrameListener
func (t *Transport) Handle(frame can.Frame) {
	t.touch()
	if frame.StandardID() != t.ackID {
		return
	}
	select {
	case t.acks <- frame:
	default:
		t.logger.Warn("[RX] acknowledgment queue full, frame dropped", "frame", frame)
	}
}

// Drop acknowledgments queued before a new frame goes out, they cannot
// answer it
func (t *Transport) drain() {
	for {
		select {
		case frame := <-t.acks:
			t.logger.Debug("[RX] stale acknowledgment dropped", "frame", frame)
		default:
			return
		}
	}
}

// Send paces then transmits an 8-byte frame on id
func (t *Transport) Send(ctx context.Context, id uint32, payload [codec.FrameSize]byte) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if err := t.pacer.Wait(ctx); err != nil {
		return err
	}
	t.drain()
	frame := can.Frame{ID: id & can.CanSffMask, DLC: codec.FrameSize, Data: payload}
	if err := t.bm.Send(frame); err != nil {
		return err
	}
	t.touch()
	t.logger.Debug("[TX] frame", "frame", frame)
	return nil
}

// Receive waits for the acknowledgment whose first byte is expected.
// A negative acknowledgment fails immediately. Other frames on the
// acknowledgment identifier are logged and skipped. The wait fails with
// ErrAckTimeout once timeout elapsed without any bus activity.
func (t *Transport) Receive(ctx context.Context, expected byte, timeout time.Duration) (can.Frame, error) {
	for {
		remaining := t.deadline(timeout).Sub(t.clock.Now())
		if remaining <= 0 {
			return can.Frame{}, fmt.Errorf("%w : waiting for x%02x on x%03x after %v", ErrAckTimeout, expected, t.ackID, timeout)
		}
		timer := t.clock.Timer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return can.Frame{}, ctx.Err()
		case <-timer.C:
			// Activity may have moved the deadline, check again
		case frame := <-t.acks:
			timer.Stop()
			switch {
			case frame.Data[0] == NegativeAck:
				t.logger.Debug("[RX] negative acknowledgment", "frame", frame)
				return frame, fmt.Errorf("%w : waiting for x%02x", ErrNegativeAck, expected)
			case frame.Data[0] == expected && codec.HasSentinel(frame.Data):
				t.logger.Debug("[RX] acknowledgment", "frame", frame)
				return frame, nil
			default:
				t.logger.Warn("[RX] unexpected frame, ignoring", "expected", fmt.Sprintf("x%02x", expected), "frame", frame)
			}
		}
	}
}

// Close releases the bus, calling it twice is a no-op
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	t.bm.Unsubscribe(t)
	return t.bm.Disconnect()
}
