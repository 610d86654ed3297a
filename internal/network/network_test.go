package network

import (
	"context"
	"testing"
	"time"

	"github.com/samsamfire/canflash/pkg/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoopbackCustomID(t *testing.T) {
	loopback, err := NewLoopback(t.Name(), 0x300)
	require.Nil(t, err)
	defer loopback.Close()
	session := protocol.NewSession(loopback.Transport, protocol.WithBaseID(0x300), protocol.WithAckTimeout(time.Second))
	require.Nil(t, session.StartRun(context.Background()))
	require.Nil(t, session.EndRun(context.Background()))
	assert.Equal(t, []protocol.Opcode{protocol.StartOfRun, protocol.EndOfRun}, loopback.Receiver.Controls())
}

func TestLoopbackWrongID(t *testing.T) {
	loopback, err := NewLoopback(t.Name(), 0x300)
	require.Nil(t, err)
	defer loopback.Close()
	// Receiver ignores frames on other identifiers
	session := protocol.NewSession(loopback.Transport, protocol.WithBaseID(0x200), protocol.WithAckTimeout(50*time.Millisecond))
	assert.NotNil(t, session.StartRun(context.Background()))
	assert.Len(t, loopback.Receiver.Controls(), 0)
}
