package can

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type stubBus struct{ channel string }

func (b *stubBus) Connect(...any) error                  { return nil }
func (b *stubBus) Disconnect() error                     { return nil }
func (b *stubBus) Send(Frame) error                      { return nil }
func (b *stubBus) Subscribe(callback FrameListener) error { return nil }

func TestRegistry(t *testing.T) {
	RegisterInterface("stub", func(channel string, _ int) (Bus, error) {
		return &stubBus{channel: channel}, nil
	})
	assert.Contains(t, Interfaces(), "stub")
	bus, err := NewBus("stub", "can7", 0)
	assert.Nil(t, err)
	assert.Equal(t, "can7", bus.(*stubBus).channel)

	_, err = NewBus("unknown", "can0", 0)
	assert.NotNil(t, err)
}

func TestFrame(t *testing.T) {
	frame := NewFrame(0x040|CanRtrFlag, 0, 8)
	assert.EqualValues(t, 0x040, frame.StandardID())
	frame = Frame{ID: 0x123, DLC: 3, Data: [8]byte{1, 2, 3, 4}}
	assert.Equal(t, "x123 [3] 01 02 03", frame.String())
}
