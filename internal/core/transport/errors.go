package transport

import (
	"errors"
	"fmt"
)

var (
	ErrClosedByPeer    = errors.New("connection closed by peer")
	ErrInvalidLength   = errors.New("invalid message length")
	ErrMessageTooLarge = errors.New("message exceeds maximum size")
)

// ConnectionError is returned for any failure of the underlying stream. It is
// always fatal to the connection it came from and never to anything else.
type ConnectionError struct {
	Addr string
	Op   string
	Err  error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connection error (%s) during %s: %v", e.Addr, e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
