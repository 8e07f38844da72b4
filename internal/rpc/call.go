package rpc

// ServerSender is the sender reported to clients for calls that came from
// the server. Connection IDs handed out to clients start above it.
const ServerSender int16 = 0

// Call describes how a networked method is being invoked. Methods executed
// because a peer asked for it carry an inbound Call and must not be sent
// back out again; a nil *Call is the same as Local().
type Call struct {
	inbound bool
	sender  int16
}

// Local is the Call for a method invoked by game code on this peer.
func Local() *Call { return &Call{} }

// FromPeer is the Call for a method executed on behalf of sender.
func FromPeer(sender int16) *Call {
	return &Call{inbound: true, sender: sender}
}

func (c *Call) IsInbound() bool {
	return c != nil && c.inbound
}

// Sender returns the connection that requested the call. It is only
// meaningful when IsInbound is true.
func (c *Call) Sender() int16 {
	if c == nil {
		return ServerSender
	}
	return c.sender
}
