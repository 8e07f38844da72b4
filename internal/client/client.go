// Package client implements the non-authoritative side of replication: it
// connects to a server, mirrors the entities the server spawns and exchanges
// remote calls for the components it owns.
package client

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/roost/internal/core"
	"github.com/dcrodman/roost/internal/core/debug"
	"github.com/dcrodman/roost/internal/core/transport"
	"github.com/dcrodman/roost/internal/datagrams"
	"github.com/dcrodman/roost/internal/metrics"
	"github.com/dcrodman/roost/internal/replication"
	"github.com/dcrodman/roost/internal/rpc"
)

// ErrNotConnected is returned before the handshake with the server completed.
var ErrNotConnected = errors.New("no client id available (not connected)")

// Client is driven by calling Update once per tick (or by Run).
type Client struct {
	Name    string
	Config  *core.Config
	Logger  *logrus.Logger
	Prefabs *replication.Prefabs
	RPC     *rpc.Table
	World   replication.World
	// Optional.
	Metrics *metrics.Metrics

	replication.Listeners

	conn     *transport.Conn
	id       replication.ConnectionID
	hasID    bool
	dialedAt time.Time
	entities *replication.Map
	outgoing []datagrams.Datagram
}

// Connect dials the configured server address.
func (c *Client) Connect(ctx context.Context) error {
	return c.ConnectTo(ctx, c.Config.Client.ServerAddress)
}

// ConnectTo dials address. The handshake completes during later updates.
func (c *Client) ConnectTo(ctx context.Context, address string) error {
	c.Reset()

	if timeout := c.Config.Client.ConnectTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	c.Logger.Infof("[%s] establishing connection to %s", c.Name, address)
	c.dialedAt = time.Now()
	conn, err := transport.Dial(ctx, address, c.Config.TransportOptions())
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// ConnectionID returns the id the server assigned to this client.
func (c *Client) ConnectionID() (replication.ConnectionID, error) {
	if !c.hasID {
		return 0, ErrNotConnected
	}
	return c.id, nil
}

// Connected reports whether the handshake has completed.
func (c *Client) Connected() bool {
	return c.conn != nil && c.hasID
}

// Reset closes the connection, forgets the client id and destroys every
// mirrored entity. It does not fire any listener.
func (c *Client) Reset() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.Logger.Debugf("[%s] failed to close connection: %s", c.Name, err)
		}
		c.conn = nil
	}
	c.hasID = false
	c.id = 0
	c.outgoing = nil

	if c.entities != nil {
		for _, rec := range c.entities.Sorted() {
			c.World.Destroy(rec.Entity)
		}
	}
	c.entities = replication.NewMap()
}

// Close is Reset under the name io.Closer users expect.
func (c *Client) Close() error {
	c.Reset()
	return nil
}

// Run calls step and then Update once per tick until ctx is cancelled or the
// connection is lost.
func (c *Client) Run(ctx context.Context, step func(dt time.Duration)) error {
	ticker := time.NewTicker(c.Config.TickInterval())
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			c.Reset()
			return ctx.Err()
		case now := <-ticker.C:
			if step != nil {
				step(now.Sub(last))
			}
			last = now
			if err := c.Update(); err != nil {
				return err
			}
		}
	}
}

// Update drains the connection, applies what the server sent and flushes the
// datagrams queued during the tick. A returned error means the connection was
// lost and the client has been reset.
func (c *Client) Update() error {
	if c.conn == nil {
		return nil
	}
	start := time.Now()
	defer func() { c.Metrics.ObserveTick(time.Since(start).Seconds()) }()

	messages, err := c.conn.Poll(c.Config.Transport.MaxMessagesPerPoll)
	for _, msg := range messages {
		ds, decodeErr := datagrams.DecodeAll(msg)
		c.logDatagrams(debug.Inbound, ds)

		for _, d := range ds {
			c.Metrics.DatagramReceived(d.Type().String())
			if violation := c.handle(d); violation != nil {
				c.fail("protocol_error", violation)
				return violation
			}
		}
		if decodeErr != nil {
			c.fail("protocol_error", decodeErr)
			return decodeErr
		}
	}
	if err != nil {
		c.fail("connection_error", err)
		return err
	}

	c.flush()
	c.Metrics.SetEntities(c.entities.Len())
	return nil
}

func (c *Client) fail(reason string, cause error) {
	id := c.id
	addr := c.conn.Addr()
	c.Reset()

	c.Metrics.Disconnected(reason)
	c.Logger.Infof("[%s] lost connection to %s: %v", c.Name, addr, cause)
	c.FireDisconnected(id)
}

func (c *Client) handle(d datagrams.Datagram) error {
	if !c.hasID {
		exchange, ok := d.(datagrams.ClientIDExchange)
		if !ok {
			return &datagrams.ProtocolError{Tag: d.Type(), Reason: "server sent invalid first datagram, expected ClientIDExchange"}
		}
		c.establish(exchange)
		return nil
	}

	switch d := d.(type) {
	case datagrams.SpawnNetworkEntity:
		c.spawnMirror(d)
	case datagrams.DestroyNetworkEntity:
		c.destroyMirror(replication.NetworkEntityID(d.NetEntityID))
	case datagrams.ToClientExecuteRPC:
		c.handleRPC(d)
	default:
		c.Logger.Debugf("[%s] ignoring %s", c.Name, d.Type())
	}
	return nil
}

func (c *Client) establish(d datagrams.ClientIDExchange) {
	c.id = replication.ConnectionID(d.ClientID)
	c.hasID = true
	c.Logger.Infof("[%s] established connection, received id %d (took %v)",
		c.Name, d.ClientID, time.Since(c.dialedAt).Round(time.Millisecond))

	c.outgoing = append(c.outgoing, datagrams.ClientIDExchangeAck{})
	c.FireConnected(c.id)
}

func (c *Client) spawnMirror(d datagrams.SpawnNetworkEntity) {
	id := replication.NetworkEntityID(d.NetEntityID)
	if _, ok := c.entities.Get(id); ok {
		c.Logger.Warnf("[%s] ignoring spawn of %s with duplicate entity id %d", c.Name, d.PrefabName, id)
		return
	}

	entity, err := c.Prefabs.Build(d.PrefabName)
	if err != nil {
		c.Logger.Warnf("[%s] ignoring spawn of entity %d: %v", c.Name, id, err)
		return
	}
	entity.SetPosition(d.Position)
	entity.SetRotation(float64(d.Rotation))

	owner := replication.ConnectionID(d.Owner)
	if err := replication.AttachEntity(c, entity, id, owner); err != nil {
		c.World.Destroy(entity)
		c.Logger.Warnf("[%s] ignoring spawn of entity %d: %v", c.Name, id, err)
		return
	}
	c.entities.Add(&replication.NetworkedEntity{Prefab: d.PrefabName, ID: id, Owner: owner, Entity: entity})
	c.Logger.Debugf("[%s] spawned %s as entity %d owned by %v", c.Name, d.PrefabName, id, owner)
}

func (c *Client) destroyMirror(id replication.NetworkEntityID) {
	rec, ok := c.entities.Remove(id)
	if !ok {
		c.Logger.Debugf("[%s] ignoring destroy of unknown entity %d", c.Name, id)
		return
	}
	c.World.Destroy(rec.Entity)
}

func (c *Client) handleRPC(d datagrams.ToClientExecuteRPC) {
	id := replication.NetworkEntityID(d.NetEntityID)
	err := replication.Dispatch(c.entities, c.RPC, rpc.FromPeer(rpc.ServerSender), id, d.ComponentID, d.MethodName, d.Params)
	switch {
	case err == nil:
	case replication.IsUnknownEntity(err):
		c.Metrics.RPCDropped("unknown_entity")
	default:
		c.Logger.Warnf("[%s] dropping call %s on entity %d: %v", c.Name, d.MethodName, id, err)
		c.Metrics.RPCDropped("dispatch_error")
	}
}

// Entity returns the mirror of id.
func (c *Client) Entity(id replication.NetworkEntityID) (*replication.NetworkedEntity, bool) {
	if c.entities == nil {
		return nil, false
	}
	return c.entities.Get(id)
}

// Entities returns a copy of the mirrored entities in id order.
func (c *Client) Entities() []replication.EntitySnapshot {
	if c.entities == nil {
		return nil
	}
	return c.entities.Snapshot()
}

// Owns is part of replication.Host: a client drives what it owns.
func (c *Client) Owns(owner replication.ConnectionID) bool {
	return c.hasID && owner == c.id
}

// SendRPC is part of replication.Host. The call is executed by the server,
// which forwards it to the other clients when the method is for Everyone.
func (c *Client) SendRPC(target *replication.NetComponent, method string, params []byte) error {
	if c.conn == nil {
		return ErrNotConnected
	}
	m, ok := c.RPC.Lookup(target.BoundKind(), method)
	if !ok {
		return &replication.LookupError{What: replication.LookupMethod, Name: target.BoundKind() + "." + method}
	}
	c.outgoing = append(c.outgoing, datagrams.ToServerExecuteRPC{
		Recipient:   uint8(m.Recipient),
		NetEntityID: int32(target.NetEntityID()),
		ComponentID: target.BoundComponentID(),
		MethodName:  method,
		Params:      params,
	})
	return nil
}

// flush sends everything queued this tick as a single message.
func (c *Client) flush() {
	if len(c.outgoing) == 0 {
		return
	}

	var msg []byte
	var sent []datagrams.Datagram
	for _, d := range c.outgoing {
		var err error
		if msg, err = datagrams.Append(msg, d); err != nil {
			c.Logger.Errorf("[%s] dropping outgoing %s: %v", c.Name, d.Type(), err)
			continue
		}
		sent = append(sent, d)
		c.Metrics.DatagramSent(d.Type().String())
	}
	c.outgoing = c.outgoing[:0]

	if len(msg) > 0 {
		c.logDatagrams(debug.Outbound, sent)
		c.conn.Send(msg)
	}
}

func (c *Client) logDatagrams(direction string, ds []datagrams.Datagram) {
	if c.Config.Debugging.PacketLoggingEnabled {
		debug.PrintDatagrams(c.Logger, c.Name, direction, c.conn.Addr(), ds)
	}
}
