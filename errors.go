package canflash

import "errors"

var (
	ErrIllegalArgument = errors.New("error in function arguments")
)
