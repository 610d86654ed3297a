package fifo

// Circular Fifo of bytes, used by the receiver emulator to gather data
// frames into storage blocks. A fifo created with size n holds n-1 bytes.
type Fifo struct {
	buffer   []byte
	writePos int
	readPos  int
}

func NewFifo(size uint16) *Fifo {
	return &Fifo{buffer: make([]byte, size)}
}

func (f *Fifo) Reset() {
	f.readPos = 0
	f.writePos = 0
}

func (f *Fifo) GetSpace() int {
	sizeLeft := f.readPos - f.writePos - 1
	if sizeLeft < 0 {
		sizeLeft += len(f.buffer)
	}
	return sizeLeft
}

func (f *Fifo) GetOccupied() int {
	sizeOccupied := f.writePos - f.readPos
	if sizeOccupied < 0 {
		sizeOccupied += len(f.buffer)
	}
	return sizeOccupied
}

// Write data to fifo and return number of bytes written.
// Writing stops when the fifo is full.
func (f *Fifo) Write(buffer []byte) int {
	writeCounter := 0
	for _, element := range buffer {
		writePosNext := f.writePos + 1
		if writePosNext == len(f.buffer) {
			writePosNext = 0
		}
		if writePosNext == f.readPos {
			break
		}
		f.buffer[f.writePos] = element
		f.writePos = writePosNext
		writeCounter++
	}
	return writeCounter
}

// Read data from fifo and return number of bytes read
func (f *Fifo) Read(buffer []byte) int {
	readCounter := 0
	for index := range buffer {
		if f.readPos == f.writePos {
			break
		}
		buffer[index] = f.buffer[f.readPos]
		readCounter++
		f.readPos++
		if f.readPos == len(f.buffer) {
			f.readPos = 0
		}
	}
	return readCounter
}
