package rpc

import "fmt"

// Recipient says where a method invoked by a client is executed.
type Recipient uint8

const (
	// ServerOnly methods run on the server and nowhere else.
	ServerOnly Recipient = 0
	// Everyone methods run on the server and are then forwarded to every
	// other connected client.
	Everyone Recipient = 1
)

func (r Recipient) Valid() bool {
	return r == ServerOnly || r == Everyone
}

func (r Recipient) String() string {
	switch r {
	case ServerOnly:
		return "ServerOnly"
	case Everyone:
		return "Everyone"
	}
	return fmt.Sprintf("Recipient(%d)", uint8(r))
}
