package codec

import (
	"errors"
	"io"
)

// A reordered payload and the number of image bytes it carries
type Chunk struct {
	Payload [FrameSize]byte
	Length  int
}

// Reader streams an image as data payloads without loading it whole
type Reader struct {
	r   io.Reader
	buf [FrameSize]byte
	err error
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

// Next returns the next chunk, or io.EOF once the image is exhausted.
// Read errors other than EOF are returned as is.
func (r *Reader) Next() (Chunk, error) {
	if r.err != nil {
		return Chunk{}, r.err
	}
	r.buf = [FrameSize]byte{}
	n, err := io.ReadFull(r.r, r.buf[:])
	switch {
	case errors.Is(err, io.EOF):
		r.err = io.EOF
		return Chunk{}, io.EOF
	case errors.Is(err, io.ErrUnexpectedEOF):
		// Short last chunk, zero filled
		r.err = io.EOF
	case err != nil:
		r.err = err
		return Chunk{}, err
	}
	return Chunk{Payload: Reorder(r.buf), Length: n}, nil
}
