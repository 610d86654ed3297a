package virtual

import (
	"errors"
	"log/slog"
	"sync"

	can "github.com/samsamfire/canflash/pkg/can"
)

// In-process CAN network. Every LocalBus connected to the same channel name
// receives the frames sent by the others, in send order. No broker needed,
// used for loopback transfers and tests.

func init() {
	can.RegisterInterface("local", NewLocalBus)
}

const localQueueSize = 1024

var ErrNotConnected = errors.New("local bus not connected")

type localNetwork struct {
	mu        sync.Mutex
	endpoints map[*LocalBus]struct{}
}

var (
	networksMu sync.Mutex
	networks   = map[string]*localNetwork{}
)

func joinNetwork(channel string) *localNetwork {
	networksMu.Lock()
	defer networksMu.Unlock()
	n, ok := networks[channel]
	if !ok {
		n = &localNetwork{endpoints: map[*LocalBus]struct{}{}}
		networks[channel] = n
	}
	return n
}

type LocalBus struct {
	logger       *slog.Logger
	mu           sync.Mutex
	channel      string
	network      *localNetwork
	framehandler can.FrameListener
	rx           chan can.Frame
	stop         chan struct{}
	wg           sync.WaitGroup
}

func NewLocalBus(channel string, _ int) (can.Bus, error) {
	return &LocalBus{logger: slog.Default(), channel: channel}, nil
}

// "Connect" joins the named in-process network
func (b *LocalBus) Connect(...any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.network != nil {
		return nil
	}
	b.rx = make(chan can.Frame, localQueueSize)
	b.stop = make(chan struct{})
	b.network = joinNetwork(b.channel)
	b.network.mu.Lock()
	b.network.endpoints[b] = struct{}{}
	b.network.mu.Unlock()
	b.wg.Add(1)
	go b.deliver(b.rx, b.stop)
	return nil
}

// "Disconnect" leaves the network and stops delivery
func (b *LocalBus) Disconnect() error {
	b.mu.Lock()
	network := b.network
	b.network = nil
	b.mu.Unlock()
	if network == nil {
		return nil
	}
	network.mu.Lock()
	delete(network.endpoints, b)
	network.mu.Unlock()
	close(b.stop)
	b.wg.Wait()
	return nil
}

// "Send" queues the frame for every other endpoint of the network
func (b *LocalBus) Send(frame can.Frame) error {
	b.mu.Lock()
	network := b.network
	b.mu.Unlock()
	if network == nil {
		return ErrNotConnected
	}
	network.mu.Lock()
	defer network.mu.Unlock()
	for endpoint := range network.endpoints {
		if endpoint == b {
			continue
		}
		select {
		case endpoint.rx <- frame:
		default:
			b.logger.Warn("[LOCAL] rx queue full, frame dropped", "channel", b.channel, "id", frame.ID)
		}
	}
	return nil
}

// "Subscribe" implementation of Bus interface
func (b *LocalBus) Subscribe(framehandler can.FrameListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.framehandler = framehandler
	return nil
}

func (b *LocalBus) deliver(rx <-chan can.Frame, stop <-chan struct{}) {
	defer b.wg.Done()
	for {
		select {
		case <-stop:
			return
		case frame := <-rx:
			b.mu.Lock()
			handler := b.framehandler
			b.mu.Unlock()
			if handler != nil {
				handler.Handle(frame)
			}
		}
	}
}
