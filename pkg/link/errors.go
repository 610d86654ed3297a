package link

import "errors"

var (
	ErrUnavailable = errors.New("can bus unavailable")
	ErrAckTimeout  = errors.New("acknowledgment timeout")
	ErrNegativeAck = errors.New("negative acknowledgment")
	ErrClosed      = errors.New("transport closed")
)
