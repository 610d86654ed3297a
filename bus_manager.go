// Package canflash dispatches received CAN frames to the transfer stack.
package canflash

import (
	"sync"

	can "github.com/samsamfire/canflash/pkg/can"
	log "github.com/sirupsen/logrus"
)

// Bus manager is a wrapper around the CAN bus interface
// Used by the transfer stack to dispatch received frames to listeners
// subscribed on an identifier and mask, and to report send errors.
type BusManager struct {
	mu          sync.Mutex
	bus         can.Bus // Bus interface that can be adapted
	connected   bool
	subscribers []subscription
}

type subscription struct {
	ident    uint32
	mask     uint32
	listener can.FrameListener
}

func (s subscription) match(id uint32) bool {
	return (id^s.ident)&s.mask == 0
}

func NewBusManager(bus can.Bus) *BusManager {
	return &BusManager{bus: bus}
}

// Implements the FrameListener interface
// This handles all received CAN frames from Bus
func (bm *BusManager) Handle(frame can.Frame) {
	bm.mu.Lock()
	listeners := make([]can.FrameListener, 0, len(bm.subscribers))
	for _, sub := range bm.subscribers {
		if sub.match(frame.ID) {
			listeners = append(listeners, sub.listener)
		}
	}
	bm.mu.Unlock()
	// Listeners may send from their callback, call them without the lock
	for _, listener := range listeners {
		listener.Handle(frame)
	}
}

// Connect the underlying bus and start receiving frames
func (bm *BusManager) Connect(args ...any) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	if bm.connected {
		return nil
	}
	if bm.bus == nil {
		return ErrIllegalArgument
	}
	if err := bm.bus.Connect(args...); err != nil {
		log.Errorf("[CAN] failed to connect : %v", err)
		return err
	}
	if err := bm.bus.Subscribe(bm); err != nil {
		_ = bm.bus.Disconnect()
		return err
	}
	bm.connected = true
	log.Debugf("[CAN] connected")
	return nil
}

// Disconnect the underlying bus, calling it twice is a no-op
func (bm *BusManager) Disconnect() error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	if !bm.connected {
		return nil
	}
	bm.connected = false
	log.Debugf("[CAN] disconnected")
	return bm.bus.Disconnect()
}

// Send a CAN message
// Limited error handling
func (bm *BusManager) Send(frame can.Frame) error {
	bm.mu.Lock()
	bus := bm.bus
	bm.mu.Unlock()
	if bus == nil {
		return ErrIllegalArgument
	}
	err := bus.Send(frame)
	if err != nil {
		log.Warnf("[CAN] %v", err)
	}
	return err
}

// Subscribe to the identifiers matching ident under mask.
// A mask of 0 receives every frame, can.CanSffMask a single standard id.
// If rtr is set, only remote frames match.
func (bm *BusManager) Subscribe(ident uint32, mask uint32, rtr bool, callback can.FrameListener) error {
	if callback == nil {
		return ErrIllegalArgument
	}
	bm.mu.Lock()
	defer bm.mu.Unlock()
	ident = ident & can.CanSffMask
	mask = mask & can.CanSffMask
	if rtr {
		ident |= can.CanRtrFlag
		mask |= can.CanRtrFlag
	}
	// Verify that we are not adding the same one twice
	for _, sub := range bm.subscribers {
		if sub.ident == ident && sub.mask == mask && sub.listener == callback {
			log.Warnf("[CAN] callback for frame id %x already added", ident)
			return nil
		}
	}
	bm.subscribers = append(bm.subscribers, subscription{ident: ident, mask: mask, listener: callback})
	return nil
}

// Remove every subscription of callback
func (bm *BusManager) Unsubscribe(callback can.FrameListener) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	kept := bm.subscribers[:0]
	for _, sub := range bm.subscribers {
		if sub.listener != callback {
			kept = append(kept, sub)
		}
	}
	bm.subscribers = kept
}
