package replication

// Listeners keeps the connection callbacks of a service. They run on the
// tick goroutine, in registration order.
type Listeners struct {
	connected    []func(ConnectionID)
	disconnected []func(ConnectionID)
}

func (l *Listeners) OnConnected(fn func(ConnectionID)) {
	l.connected = append(l.connected, fn)
}

func (l *Listeners) OnDisconnected(fn func(ConnectionID)) {
	l.disconnected = append(l.disconnected, fn)
}

func (l *Listeners) FireConnected(id ConnectionID) {
	for _, fn := range l.connected {
		fn(id)
	}
}

func (l *Listeners) FireDisconnected(id ConnectionID) {
	for _, fn := range l.disconnected {
		fn(id)
	}
}
