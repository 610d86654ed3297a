// Package network wires a sender transport and an emulated receiver on the
// same in-process bus, for loopback transfers.
package network

import (
	"github.com/samsamfire/canflash/internal/emulator"
	"github.com/samsamfire/canflash/pkg/can/virtual"
	"github.com/samsamfire/canflash/pkg/link"
	"github.com/samsamfire/canflash/pkg/protocol"
)

type Loopback struct {
	Transport *link.Transport
	Receiver  *emulator.Emulator
}

// Create a loopback on the named local channel
func NewLoopback(channel string, baseID uint32, opts ...emulator.Option) (*Loopback, error) {
	rxBus, err := virtual.NewLocalBus(channel, 0)
	if err != nil {
		return nil, err
	}
	receiver := emulator.New(rxBus, append([]emulator.Option{emulator.WithBaseID(baseID)}, opts...)...)
	if err := receiver.Start(); err != nil {
		return nil, err
	}
	txBus, err := virtual.NewLocalBus(channel, 0)
	if err != nil {
		_ = receiver.Stop()
		return nil, err
	}
	transport, err := link.New(txBus, link.WithAckID(protocol.AckID(baseID)))
	if err != nil {
		_ = receiver.Stop()
		return nil, err
	}
	return &Loopback{Transport: transport, Receiver: receiver}, nil
}

func (l *Loopback) Close() error {
	err := l.Transport.Close()
	if stopErr := l.Receiver.Stop(); err == nil {
		err = stopErr
	}
	return err
}
