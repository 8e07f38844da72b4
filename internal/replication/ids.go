// Package replication holds the state shared by the server and client
// services: who owns which networked entity, how entities are built from
// prefabs and how an inbound remote call finds the component it targets.
package replication

import (
	"fmt"
	"math"
)

// ConnectionID identifies a client connection. The server hands them out
// starting at 1; a client learns its own during the handshake.
type ConnectionID int16

// Unowned marks an entity that is driven by the server.
const Unowned ConnectionID = -1

func (id ConnectionID) String() string {
	if id == Unowned {
		return "unowned"
	}
	return fmt.Sprintf("conn-%d", int16(id))
}

// NetworkEntityID identifies a replicated entity on every peer.
type NetworkEntityID int32

// Allocator hands out NetworkEntityIDs in increasing order and never reuses one.
type Allocator struct {
	next int64
}

func (a *Allocator) Next() (NetworkEntityID, error) {
	if a.next > math.MaxInt32 {
		return 0, ErrIDsExhausted
	}
	id := NetworkEntityID(a.next)
	a.next++
	return id, nil
}

// ConnectionAllocator hands out ConnectionIDs starting at 1.
type ConnectionAllocator struct {
	last int32
}

func (a *ConnectionAllocator) Next() (ConnectionID, error) {
	if a.last >= math.MaxInt16 {
		return 0, ErrIDsExhausted
	}
	a.last++
	return ConnectionID(a.last), nil
}
