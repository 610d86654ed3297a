//go:build linux

package einride

import (
	"log/slog"
	"net"
	"testing"
	"time"

	can "github.com/samsamfire/canflash/pkg/can"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.einride.tech/can/pkg/socketcan"
)

func TestFrameConversion(t *testing.T) {
	frame := can.Frame{ID: 0x040, DLC: 8, Data: [8]byte{0x51, 0, 0, 3, 4, 5, 6, 7}}
	converted := toEinride(frame)
	assert.EqualValues(t, 0x040, converted.ID)
	assert.False(t, converted.IsExtended)
	assert.Equal(t, frame, fromEinride(converted))

	remote := can.Frame{ID: 0x123 | can.CanRtrFlag}
	assert.True(t, toEinride(remote).IsRemote)
	assert.Equal(t, remote, fromEinride(toEinride(remote)))
}

func TestSendWithoutConnection(t *testing.T) {
	bus, err := NewEinrideBus("vcan0", 0)
	assert.Nil(t, err)
	assert.NotNil(t, bus.Send(can.Frame{}))
	assert.Nil(t, bus.Disconnect())
}

type listenerFunc func(frame can.Frame)

func (f listenerFunc) Handle(frame can.Frame) { f(frame) }

// A listener touching the bus while Disconnect is waiting for reception to stop
func TestDisconnectFromListener(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	bus := &EinrideBus{logger: slog.Default(), channel: "pipe"}
	bus.mu.Lock()
	bus.start(socketcan.NewReceiver(local))
	bus.mu.Unlock()

	disconnected := make(chan error, 1)
	require.Nil(t, bus.Subscribe(listenerFunc(func(frame can.Frame) {
		go func() { disconnected <- bus.Disconnect() }()
		time.Sleep(20 * time.Millisecond)
		_ = bus.Subscribe(nil)
		_ = bus.Send(frame)
	})))

	raw := make([]byte, 16)
	raw[4] = 8
	_, err := remote.Write(raw)
	require.Nil(t, err)

	select {
	case <-disconnected:
	case <-time.After(time.Second):
		t.Fatal("disconnect blocked")
	}
}
