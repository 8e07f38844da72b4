package server

import (
	"time"

	"github.com/google/uuid"

	"github.com/dcrodman/roost/internal/core/transport"
	"github.com/dcrodman/roost/internal/replication"
)

// State is the handshake progress of a connection.
type State int

const (
	// Unacknowledged connections were sent their id and have not confirmed it yet.
	Unacknowledged State = iota
	// Connected connections take part in replication.
	Connected
)

func (s State) String() string {
	if s == Connected {
		return "connected"
	}
	return "unacknowledged"
}

type session struct {
	id         replication.ConnectionID
	conn       *transport.Conn
	state      State
	ledgerID   uuid.UUID
	acceptedAt time.Time
}

// ConnectionInfo describes one open connection.
type ConnectionInfo struct {
	ID         replication.ConnectionID
	State      State
	RemoteAddr string
}
