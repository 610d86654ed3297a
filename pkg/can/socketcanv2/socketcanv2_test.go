//go:build linux

package socketcanv2

import (
	"net"
	"testing"

	can "github.com/samsamfire/canflash/pkg/can"
	"github.com/stretchr/testify/assert"
)

func TestFrameLayout(t *testing.T) {
	frame := can.Frame{ID: 0x040, DLC: 8, Data: [8]byte{0x51, 0, 0, 3, 4, 5, 6, 7}}
	raw := encodeFrame(frame)
	assert.EqualValues(t, 8, raw[4])
	assert.Equal(t, frame.Data[:], raw[8:])
	assert.Equal(t, frame, decodeFrame(raw[:]))
}

func TestDisconnect(t *testing.T) {
	sock, err := NewSocketCanBus("vcan0", 0)
	assert.Nil(t, err)
	err = sock.Disconnect()
	assert.Nil(t, err)
}

func TestConnectDisconnect(t *testing.T) {
	if _, err := net.InterfaceByName("vcan0"); err != nil {
		t.Skip("vcan0 not available")
	}
	sock, err := NewSocketCanBus("vcan0", 0)
	assert.Nil(t, err)
	for range 50 {
		err = sock.Connect()
		assert.Nil(t, err)
		err = sock.Disconnect()
		assert.Nil(t, err)
	}
}
