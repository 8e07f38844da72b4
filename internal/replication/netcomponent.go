package replication

import (
	"fmt"

	"github.com/dcrodman/roost/internal/rpc"
)

// Host is the service a networked component is attached to.
type Host interface {
	// Owns reports whether this peer is authoritative for the given owner.
	Owns(owner ConnectionID) bool
	// SendRPC queues a call to method on target for the remote peers.
	SendRPC(target *NetComponent, method string, params []byte) error
}

// NetComponent carries the replication state of one networked component. It
// is embedded by value in component types and stamped once, at spawn.
type NetComponent struct {
	host        Host
	netID       NetworkEntityID
	owner       ConnectionID
	componentID uint8
	kind        string
	attached    bool
}

// Attach binds the component to host under the given entity id and owner.
// The owner can not change afterwards.
func (n *NetComponent) Attach(host Host, id NetworkEntityID, owner ConnectionID, c Networked) error {
	if n.attached {
		return fmt.Errorf("%w: %s on entity %d", ErrAlreadyAttached, c.Kind(), n.netID)
	}
	n.host = host
	n.netID = id
	n.owner = owner
	n.componentID = c.ComponentID()
	n.kind = c.Kind()
	n.attached = true
	return nil
}

func (n *NetComponent) Attached() bool { return n.attached }

// Owner is Unowned until the component has been attached.
func (n *NetComponent) Owner() ConnectionID {
	if !n.attached {
		return Unowned
	}
	return n.owner
}

func (n *NetComponent) NetEntityID() NetworkEntityID { return n.netID }

// BoundComponentID and BoundKind identify the component this state was
// attached for, as used in remote call datagrams.
func (n *NetComponent) BoundComponentID() uint8 { return n.componentID }
func (n *NetComponent) BoundKind() string       { return n.kind }

// IsOwner reports whether this peer drives the component: on a client when
// the component belongs to it, on the server when nobody owns it.
func (n *NetComponent) IsOwner() bool {
	if !n.attached {
		return false
	}
	return n.host.Owns(n.owner)
}

// Invoke sends a call to method out to the other peers. It is meant to be
// called by the method itself after applying its local effect; inbound calls
// and components that are not replicated are not sent anywhere.
func (n *NetComponent) Invoke(call *rpc.Call, method string, args []any, kwargs map[string]any) error {
	if call.IsInbound() || !n.attached {
		return nil
	}
	params, err := rpc.Encode(args, kwargs)
	if err != nil {
		return fmt.Errorf("%s.%s on entity %d: %w", n.kind, method, n.netID, err)
	}
	return n.host.SendRPC(n, method, params)
}
