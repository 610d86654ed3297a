package fifo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFifoWrite(t *testing.T) {
	fifo := NewFifo(100)
	assert.Equal(t, 5, fifo.Write([]byte{1, 2, 3, 4, 5}))
	assert.Equal(t, 5, fifo.writePos)
	assert.Equal(t, 0, fifo.readPos)
	assert.Equal(t, 94, fifo.Write(make([]byte, 500)))
	assert.Equal(t, 0, fifo.Write([]byte{1}))
	assert.Equal(t, 0, fifo.GetSpace())

	// Free up some space by reading then re writing
	fifo.Read(make([]byte, 10))
	assert.Equal(t, 10, fifo.GetSpace())
	assert.Equal(t, 10, fifo.Write(make([]byte, 10)))
}

func TestFifoRead(t *testing.T) {
	fifo := NewFifo(100)
	buffer := make([]byte, 10)
	assert.Equal(t, 0, fifo.Read(buffer))
	fifo.Write([]byte{1, 2, 3})
	assert.Equal(t, 3, fifo.Read(buffer))
	assert.Equal(t, []byte{1, 2, 3}, buffer[:3])
	assert.Equal(t, 0, fifo.GetOccupied())
}

func TestFifoWrapAround(t *testing.T) {
	fifo := NewFifo(513)
	block := make([]byte, 512)
	for round := 0; round < 5; round++ {
		data := make([]byte, 200)
		for i := range data {
			data[i] = byte(round + i)
		}
		assert.Equal(t, 200, fifo.Write(data))
		assert.Equal(t, 200, fifo.GetOccupied())
		assert.Equal(t, 200, fifo.Read(block))
		assert.Equal(t, data, block[:200])
	}
	assert.Equal(t, 512, fifo.Write(make([]byte, 600)))
	assert.Equal(t, 512, fifo.GetOccupied())
	fifo.Reset()
	assert.Equal(t, 0, fifo.GetOccupied())
	assert.Equal(t, 512, fifo.GetSpace())
}
