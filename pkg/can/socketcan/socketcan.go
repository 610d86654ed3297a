package socketcan

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	sockcan "github.com/brutella/can"
	can "github.com/samsamfire/canflash/pkg/can"
)

// SocketCAN backend built on https://github.com/brutella/can.
// The interface is expected to be up, bitrate is ignored. The raw socket is
// opened on Connect so that a bus can be connected again after Disconnect.

func init() {
	can.RegisterInterface("socketcan", NewSocketCanBus)
}

var ErrNotConnected = errors.New("socketcan bus not connected")

type SocketcanBus struct {
	logger  *slog.Logger
	channel string

	mu   sync.Mutex
	bus  *sockcan.Bus
	done chan struct{}

	listenerMu sync.RWMutex
	listener   can.FrameListener
}

func NewSocketCanBus(channel string, _ int) (can.Bus, error) {
	return &SocketcanBus{logger: slog.Default(), channel: channel}, nil
}

func toBrutella(frame can.Frame) sockcan.Frame {
	return sockcan.Frame{ID: frame.ID, Length: frame.DLC, Flags: frame.Flags, Data: frame.Data}
}

func fromBrutella(frame sockcan.Frame) can.Frame {
	return can.Frame{ID: frame.ID, DLC: frame.Length, Flags: frame.Flags, Data: frame.Data}
}

// "Connect" opens the socket and starts publishing received frames
func (s *SocketcanBus) Connect(...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bus != nil {
		return nil
	}
	bus, err := sockcan.NewBusForInterfaceWithName(s.channel)
	if err != nil {
		return fmt.Errorf("opening %v : %w", s.channel, err)
	}
	bus.Subscribe(s)
	s.bus = bus
	s.done = make(chan struct{})
	go s.publish(bus, s.done)
	return nil
}

func (s *SocketcanBus) publish(bus *sockcan.Bus, done chan struct{}) {
	defer close(done)
	if err := bus.ConnectAndPublish(); err != nil {
		s.logger.Info("exiting CAN bus reception", "channel", s.channel, "err", err)
	}
}

// "Disconnect" closes the socket and waits for reception to stop.
// Calling it on a disconnected bus is a no-op.
func (s *SocketcanBus) Disconnect() error {
	s.mu.Lock()
	bus, done := s.bus, s.done
	s.bus = nil
	s.done = nil
	s.mu.Unlock()
	if bus == nil {
		return nil
	}
	err := bus.Disconnect()
	<-done
	if err != nil {
		return fmt.Errorf("closing %v : %w", s.channel, err)
	}
	return nil
}

// "Send" implementation of Bus interface
func (s *SocketcanBus) Send(frame can.Frame) error {
	s.mu.Lock()
	bus := s.bus
	s.mu.Unlock()
	if bus == nil {
		return fmt.Errorf("%w : %v", ErrNotConnected, s.channel)
	}
	return bus.Publish(toBrutella(frame))
}

// "Subscribe" implementation of Bus interface
func (s *SocketcanBus) Subscribe(listener can.FrameListener) error {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	s.listener = listener
	return nil
}

// Implements brutella/can Handler, called from the publish goroutine
func (s *SocketcanBus) Handle(frame sockcan.Frame) {
	s.listenerMu.RLock()
	listener := s.listener
	s.listenerMu.RUnlock()
	if listener != nil {
		listener.Handle(fromBrutella(frame))
	}
}
