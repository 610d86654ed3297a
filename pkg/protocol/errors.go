package protocol

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidState = errors.New("operation not allowed in current state")
	ErrAborted      = errors.New("session aborted")
)

// A control operation that was not positively acknowledged
type AckError struct {
	Op  Opcode
	Err error
}

func (e *AckError) Error() string {
	return fmt.Sprintf("%v : %v", e.Op, e.Err)
}

func (e *AckError) Unwrap() error {
	return e.Err
}
