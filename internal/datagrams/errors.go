package datagrams

import (
	"errors"
	"fmt"
)

// ErrNonASCIIMethod is returned for RPC method names outside of 7-bit ASCII.
var ErrNonASCIIMethod = errors.New("method name is not 7-bit ASCII")

// ProtocolError reports a datagram that could not be encoded or decoded. When
// returned from a decode, the rest of the buffer can no longer be trusted.
type ProtocolError struct {
	Tag    Type
	Offset int
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	msg := fmt.Sprintf("protocol error: %s datagram (tag %d) at offset %d", e.Tag, int16(e.Tag), e.Offset)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error { return e.Err }
