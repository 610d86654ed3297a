package canflash

import (
	"sync"
	"testing"
	"time"

	can "github.com/samsamfire/canflash/pkg/can"
	"github.com/samsamfire/canflash/pkg/can/virtual"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frameCollector struct {
	mu     sync.Mutex
	frames []can.Frame
}

func (c *frameCollector) Handle(frame can.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame)
}

func (c *frameCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func newManager(t *testing.T, channel string) *BusManager {
	t.Helper()
	bus, err := virtual.NewLocalBus(channel, 0)
	require.Nil(t, err)
	bm := NewBusManager(bus)
	require.Nil(t, bm.Connect())
	t.Cleanup(func() { _ = bm.Disconnect() })
	return bm
}

func TestSubscribeMask(t *testing.T) {
	bm := NewBusManager(nil)
	exact := &frameCollector{}
	all := &frameCollector{}
	assert.Nil(t, bm.Subscribe(0x040, can.CanSffMask, false, exact))
	assert.Nil(t, bm.Subscribe(0, 0, false, all))

	bm.Handle(can.Frame{ID: 0x040})
	bm.Handle(can.Frame{ID: 0x041})
	bm.Handle(can.Frame{ID: 0x000})
	assert.Equal(t, 1, exact.count())
	assert.Equal(t, 3, all.count())
}

func TestSubscribeTwice(t *testing.T) {
	bm := NewBusManager(nil)
	listener := &frameCollector{}
	other := &frameCollector{}
	assert.Nil(t, bm.Subscribe(0x040, can.CanSffMask, false, listener))
	assert.Nil(t, bm.Subscribe(0x040, can.CanSffMask, false, listener))
	assert.Nil(t, bm.Subscribe(0x040, can.CanSffMask, false, other))
	bm.Handle(can.Frame{ID: 0x040})
	assert.Equal(t, 1, listener.count())
	assert.Equal(t, 1, other.count())

	bm.Unsubscribe(listener)
	bm.Handle(can.Frame{ID: 0x040})
	assert.Equal(t, 1, listener.count())
	assert.Equal(t, 2, other.count())
}

func TestSubscribeNil(t *testing.T) {
	bm := NewBusManager(nil)
	assert.ErrorIs(t, bm.Subscribe(0, 0, false, nil), ErrIllegalArgument)
	assert.ErrorIs(t, bm.Connect(), ErrIllegalArgument)
	assert.ErrorIs(t, bm.Send(can.Frame{}), ErrIllegalArgument)
}

func TestBusManagerLoopback(t *testing.T) {
	sender := newManager(t, t.Name())
	receiver := newManager(t, t.Name())
	collector := &frameCollector{}
	assert.Nil(t, receiver.Subscribe(0x123, can.CanSffMask, false, collector))
	assert.Nil(t, sender.Send(can.Frame{ID: 0x123, DLC: 8}))
	assert.Nil(t, sender.Send(can.Frame{ID: 0x124, DLC: 8}))
	assert.Eventually(t, func() bool { return collector.count() == 1 }, time.Second, time.Millisecond)
}

func TestBusManagerDisconnect(t *testing.T) {
	bm := newManager(t, t.Name())
	assert.Nil(t, bm.Disconnect())
	assert.Nil(t, bm.Disconnect())
	assert.NotNil(t, bm.Send(can.Frame{}))
}
