//go:build linux

package einride

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	can "github.com/samsamfire/canflash/pkg/can"
	ecan "go.einride.tech/can"
	"go.einride.tech/can/pkg/candevice"
	"go.einride.tech/can/pkg/socketcan"
)

// SocketCAN backend using go.einride.tech/can.
// When a bitrate is given, the device is configured and brought up on Connect
// and brought down again on Disconnect. Configuring the device needs
// CAP_NET_ADMIN, use bitrate 0 for an interface that is already up.

func init() {
	can.RegisterInterface("einride", NewEinrideBus)
}

type EinrideBus struct {
	mu      sync.Mutex
	logger  *slog.Logger
	channel string
	bitrate int
	device  *candevice.Device
	tx      *socketcan.Transmitter
	rx      *socketcan.Receiver
	rxDone  chan struct{}

	// Listener has its own lock, it is called from the reception goroutine
	// which Disconnect waits for
	cbMu       sync.RWMutex
	rxCallback can.FrameListener
}

func NewEinrideBus(channel string, bitrate int) (can.Bus, error) {
	return &EinrideBus{logger: slog.Default(), channel: channel, bitrate: bitrate}, nil
}

func toEinride(frame can.Frame) ecan.Frame {
	return ecan.Frame{
		ID:         frame.ID & can.CanSffMask,
		Length:     frame.DLC,
		Data:       ecan.Data(frame.Data),
		IsRemote:   frame.ID&can.CanRtrFlag != 0,
		IsExtended: frame.ID&can.CanEffFlag != 0,
	}
}

func fromEinride(frame ecan.Frame) can.Frame {
	id := frame.ID
	if frame.IsRemote {
		id |= can.CanRtrFlag
	}
	if frame.IsExtended {
		id |= can.CanEffFlag
	}
	return can.Frame{ID: id, DLC: frame.Length, Data: frame.Data}
}

// "Connect" implementation of Bus interface.
// An optional context.Context argument bounds the dial.
func (b *EinrideBus) Connect(args ...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.rx != nil {
		return nil
	}
	ctx := context.Background()
	for _, arg := range args {
		if c, ok := arg.(context.Context); ok {
			ctx = c
		}
	}
	if b.bitrate > 0 {
		device, err := candevice.New(b.channel)
		if err != nil {
			return err
		}
		if err := device.SetBitrate(uint32(b.bitrate)); err != nil {
			return fmt.Errorf("set bitrate %v on %v : %w", b.bitrate, b.channel, err)
		}
		if err := device.SetUp(); err != nil {
			return fmt.Errorf("set %v up : %w", b.channel, err)
		}
		b.device = device
	}
	conn, err := socketcan.DialContext(ctx, "can", b.channel)
	if err != nil {
		b.setDown()
		return err
	}
	b.tx = socketcan.NewTransmitter(conn)
	b.start(socketcan.NewReceiver(conn))
	return nil
}

// Called with mu held
func (b *EinrideBus) start(rx *socketcan.Receiver) {
	b.rx = rx
	b.rxDone = make(chan struct{})
	go b.processIncoming(rx, b.rxDone)
}

func (b *EinrideBus) setDown() {
	if b.device == nil {
		return
	}
	if err := b.device.SetDown(); err != nil {
		b.logger.Warn("[EINRIDE] failed to set interface down", "channel", b.channel, "err", err)
	}
	b.device = nil
}

// "Disconnect" implementation of Bus interface
func (b *EinrideBus) Disconnect() error {
	b.mu.Lock()
	rx, done := b.rx, b.rxDone
	b.rx = nil
	b.tx = nil
	b.rxDone = nil
	b.mu.Unlock()
	if rx == nil {
		return nil
	}
	err := rx.Close()
	<-done
	b.mu.Lock()
	b.setDown()
	b.mu.Unlock()
	return err
}

// "Send" implementation of Bus interface
func (b *EinrideBus) Send(frame can.Frame) error {
	b.mu.Lock()
	tx := b.tx
	b.mu.Unlock()
	if tx == nil {
		return fmt.Errorf("einride bus %v not connected", b.channel)
	}
	return tx.TransmitFrame(context.Background(), toEinride(frame))
}

// "Subscribe" implementation of Bus interface
func (b *EinrideBus) Subscribe(rxCallback can.FrameListener) error {
	b.cbMu.Lock()
	defer b.cbMu.Unlock()
	b.rxCallback = rxCallback
	return nil
}

func (b *EinrideBus) processIncoming(rx *socketcan.Receiver, done chan struct{}) {
	defer close(done)
	for rx.Receive() {
		if rx.HasErrorFrame() {
			b.logger.Warn("[EINRIDE] error frame", "frame", rx.ErrorFrame())
			continue
		}
		b.cbMu.RLock()
		callback := b.rxCallback
		b.cbMu.RUnlock()
		if callback != nil {
			callback.Handle(fromEinride(rx.Frame()))
		}
	}
	if err := rx.Err(); err != nil {
		b.logger.Info("exiting CAN bus reception", "err", err)
	}
}
