// Package server implements the authoritative side of replication: it accepts
// clients, hands out connection ids, spawns and destroys networked entities and
// relays remote calls between clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dcrodman/roost/internal/core"
	"github.com/dcrodman/roost/internal/core/data"
	"github.com/dcrodman/roost/internal/core/debug"
	"github.com/dcrodman/roost/internal/core/geom"
	"github.com/dcrodman/roost/internal/core/transport"
	"github.com/dcrodman/roost/internal/datagrams"
	"github.com/dcrodman/roost/internal/metrics"
	"github.com/dcrodman/roost/internal/replication"
	"github.com/dcrodman/roost/internal/rpc"
)

// Server is driven by calling Update once per tick (or by Run). Everything but
// accepting sockets happens on the goroutine calling Update.
type Server struct {
	Name    string
	Config  *core.Config
	Logger  *logrus.Logger
	Prefabs *replication.Prefabs
	RPC     *rpc.Table
	World   replication.World
	// Optional.
	Metrics *metrics.Metrics
	Ledger  *data.Ledger

	replication.Listeners

	listener *net.TCPListener
	accepted chan *net.TCPConn
	closing  chan struct{}

	sessions   map[replication.ConnectionID]*session
	connIDs    replication.ConnectionAllocator
	entityIDs  replication.Allocator
	entities   *replication.Map
	tombstones *replication.Tombstones
	outgoing   []outgoingDatagram
}

type outgoingDatagram struct {
	datagram   datagrams.Datagram
	recipients []replication.ConnectionID
}

func (s *Server) init() {
	if s.sessions != nil {
		return
	}
	s.sessions = make(map[replication.ConnectionID]*session)
	s.entities = replication.NewMap()
	s.tombstones = replication.NewTombstones(s.Config.Replication.TombstoneTTL)
	s.closing = make(chan struct{})
}

// Listen opens the TCP socket and starts accepting connections in the
// background. Accepted connections are picked up by the next Update.
func (s *Server) Listen(address string) error {
	s.init()

	hostAddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return fmt.Errorf("error resolving address %s: %w", address, err)
	}
	socket, err := net.ListenTCP("tcp", hostAddr)
	if err != nil {
		return fmt.Errorf("error listening on socket: %w", err)
	}

	s.listener = socket
	s.accepted = make(chan *net.TCPConn, 64)
	go s.acceptLoop(socket)

	s.Logger.Infof("[%s] waiting for connections on %v", s.Name, socket.Addr())
	return nil
}

// Addr is the address the server is listening on.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) acceptLoop(socket *net.TCPListener) {
	for {
		connection, err := socket.AcceptTCP()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.Logger.Warnf("[%s] failed to accept connection: %s", s.Name, err)
			continue
		}

		select {
		case s.accepted <- connection:
		case <-s.closing:
			connection.Close()
			return
		}
	}
}

// Run calls step and then Update once per tick until ctx is cancelled, after
// which the server is closed.
func (s *Server) Run(ctx context.Context, step func(dt time.Duration)) error {
	interval := s.Config.TickInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := time.Now()
	for {
		select {
		case <-ctx.Done():
			s.Close()
			return ctx.Err()
		case now := <-ticker.C:
			if step != nil {
				step(now.Sub(last))
			}
			last = now
			s.Update()
		}
	}
}

// Update runs one tick: new connections are accepted, every connection is
// drained and its datagrams applied, and everything queued is flushed.
func (s *Server) Update() {
	s.init()
	start := time.Now()

	s.acceptPending()
	for _, id := range s.sessionIDs() {
		if sess, ok := s.sessions[id]; ok {
			s.receive(sess)
		}
	}
	s.flush()

	s.recordGauges()
	s.Metrics.ObserveTick(time.Since(start).Seconds())
}

func (s *Server) acceptPending() {
	for {
		select {
		case connection := <-s.accepted:
			s.acceptClient(connection)
		default:
			return
		}
	}
}

func (s *Server) acceptClient(connection *net.TCPConn) {
	addr := connection.RemoteAddr().String()

	if s.Config.MaxConnections > 0 && len(s.sessions) >= s.Config.MaxConnections {
		s.Logger.Infof("[%s] rejected connection from %s: server full", s.Name, addr)
		s.Metrics.ConnectionRefused()
		connection.Close()
		return
	}

	id, err := s.connIDs.Next()
	if err != nil {
		s.Logger.Errorf("[%s] rejected connection from %s: %v", s.Name, addr, err)
		s.Metrics.ConnectionRefused()
		connection.Close()
		return
	}

	_ = connection.SetNoDelay(true)
	sess := &session{
		id:         id,
		conn:       transport.New(connection, s.Config.TransportOptions()),
		state:      Unacknowledged,
		acceptedAt: time.Now(),
	}
	sess.ledgerID = s.Ledger.SessionAccepted(int16(id), addr)
	s.sessions[id] = sess
	s.Metrics.ConnectionAccepted()
	s.Logger.Infof("[%s] accepted connection from %s as %v", s.Name, addr, id)

	// The handshake goes out right away since the outgoing queue only serves
	// connected clients.
	s.sendNow(sess, datagrams.ClientIDExchange{ClientID: int16(id)})
}

// sendNow writes d to sess without going through the outgoing queue. A
// datagram that cannot be encoded costs the peer its connection.
func (s *Server) sendNow(sess *session, d datagrams.Datagram) bool {
	encoded, err := datagrams.Encode(d)
	if err != nil {
		s.Logger.Errorf("[%s] error encoding %s for %v: %v", s.Name, d.Type(), sess.id, err)
		s.drop(sess, "protocol_error", err)
		return false
	}
	s.logDatagrams(debug.Outbound, sess.conn.Addr(), []datagrams.Datagram{d})
	s.Metrics.DatagramSent(d.Type().String())
	sess.conn.Send(encoded)
	return true
}

func (s *Server) receive(sess *session) {
	messages, err := sess.conn.Poll(s.Config.Transport.MaxMessagesPerPoll)
	for _, msg := range messages {
		ds, decodeErr := datagrams.DecodeAll(msg)
		s.logDatagrams(debug.Inbound, sess.conn.Addr(), ds)

		for _, d := range ds {
			s.Metrics.DatagramReceived(d.Type().String())
			if violation := s.handle(sess, d); violation != nil {
				s.drop(sess, "protocol_error", violation)
				return
			}
		}
		if decodeErr != nil {
			s.drop(sess, "protocol_error", decodeErr)
			return
		}
	}

	if err != nil {
		reason := "connection_error"
		if errors.Is(err, transport.ErrClosedByPeer) {
			reason = "closed_by_peer"
		}
		s.drop(sess, reason, err)
	}
}

// handle applies one datagram from sess. The returned error is a protocol
// violation that ends the connection.
func (s *Server) handle(sess *session, d datagrams.Datagram) error {
	if sess.state == Unacknowledged {
		if _, ok := d.(datagrams.ClientIDExchangeAck); !ok {
			return &datagrams.ProtocolError{Tag: d.Type(), Reason: "expected ClientIDExchangeAck during handshake"}
		}
		s.connect(sess)
		return nil
	}

	switch d := d.(type) {
	case datagrams.ToServerExecuteRPC:
		s.handleRPC(sess, d)
	default:
		s.Logger.Debugf("[%s] ignoring %s from %v", s.Name, d.Type(), sess.id)
	}
	return nil
}

func (s *Server) connect(sess *session) {
	sess.state = Connected
	s.Logger.Infof("[%s] new client connected: %v (handshake took %v)", s.Name, sess.id, time.Since(sess.acceptedAt).Round(time.Millisecond))
	s.Ledger.SessionConnected(sess.ledgerID)

	s.syncClient(sess.id)
	s.FireConnected(sess.id)
}

// syncClient queues a spawn for every entity the client does not own.
func (s *Server) syncClient(id replication.ConnectionID) {
	recipient := []replication.ConnectionID{id}
	for _, rec := range s.entities.Sorted() {
		if rec.Owner == id {
			continue
		}
		s.enqueue(spawnDatagram(rec), recipient)
	}
}

func (s *Server) handleRPC(sess *session, d datagrams.ToServerExecuteRPC) {
	id := replication.NetworkEntityID(d.NetEntityID)
	target, err := replication.Resolve(s.entities, s.RPC, id, d.ComponentID, d.MethodName)
	if err != nil {
		var lookupErr *replication.LookupError
		switch {
		case replication.IsUnknownEntity(err):
			if s.tombstones.Buried(id) {
				s.Logger.Debugf("[%s] dropping %s from %v for destroyed entity %d", s.Name, d.MethodName, sess.id, id)
			} else {
				s.Logger.Debugf("[%s] dropping %s from %v for unknown entity %d", s.Name, d.MethodName, sess.id, id)
			}
			s.Metrics.RPCDropped("unknown_entity")
		case errors.As(err, &lookupErr):
			s.Logger.Warnf("[%s] dropping call from %v: %v", s.Name, sess.id, err)
			s.Metrics.RPCDropped("unknown_" + lookupErr.What)
		}
		return
	}

	recipient := rpc.Recipient(d.Recipient)
	if !recipient.Valid() {
		s.Logger.Warnf("[%s] dropping %s from %v: invalid recipient %d", s.Name, d.MethodName, sess.id, d.Recipient)
		s.Metrics.RPCDropped("invalid_recipient")
		return
	}

	if owner := target.Owner(); s.Config.Replication.EnforceOwnership && owner != replication.Unowned && owner != sess.id {
		s.Logger.Warnf("[%s] dropping %s from %v: entity %d is owned by %v", s.Name, d.MethodName, sess.id, id, owner)
		s.Metrics.RPCDropped("not_owner")
		return
	}

	if err := target.Execute(rpc.FromPeer(int16(sess.id)), d.Params); err != nil {
		s.Logger.Warnf("[%s] error executing call from %v: %v", s.Name, sess.id, err)
		if errors.Is(err, rpc.ErrInvalidParams) {
			s.Metrics.RPCDropped("invalid_params")
		} else {
			s.Metrics.RPCDropped("handler_error")
		}
		return
	}

	if recipient == rpc.Everyone {
		s.enqueue(datagrams.ToClientExecuteRPC{
			NetEntityID: d.NetEntityID,
			ComponentID: d.ComponentID,
			MethodName:  d.MethodName,
			Params:      d.Params,
		}, s.connectedExcept(sess.id))
	}
}

// Spawn builds prefab, registers it for replication under a new id and
// queues its creation on every connected client.
func (s *Server) Spawn(prefab string, owner replication.ConnectionID, position geom.Vec2, rotation float64) (*replication.NetworkedEntity, error) {
	s.init()

	entity, err := s.Prefabs.Build(prefab)
	if err != nil {
		return nil, err
	}
	id, err := s.entityIDs.Next()
	if err != nil {
		s.World.Destroy(entity)
		return nil, fmt.Errorf("spawning %s: %w", prefab, err)
	}

	entity.SetPosition(position)
	entity.SetRotation(rotation)
	if err := replication.AttachEntity(s, entity, id, owner); err != nil {
		s.World.Destroy(entity)
		return nil, fmt.Errorf("spawning %s: %w", prefab, err)
	}

	rec := &replication.NetworkedEntity{Prefab: prefab, ID: id, Owner: owner, Entity: entity}
	s.entities.Add(rec)
	s.Ledger.EntitySpawned(int32(id), prefab, int16(owner))
	s.enqueue(spawnDatagram(rec), s.connected())

	s.Logger.Debugf("[%s] spawned %s as entity %d owned by %v", s.Name, prefab, id, owner)
	return rec, nil
}

// Destroy removes the entity from replication and the world and queues its
// destruction on every connected client.
func (s *Server) Destroy(id replication.NetworkEntityID) error {
	s.init()

	rec, ok := s.entities.Remove(id)
	if !ok {
		return &replication.LookupError{What: replication.LookupEntity, Name: fmt.Sprint(id)}
	}
	s.World.Destroy(rec.Entity)
	s.tombstones.Bury(id)
	s.Ledger.EntityDestroyed(int32(id))
	s.enqueue(datagrams.DestroyNetworkEntity{NetEntityID: int32(id)}, s.connected())

	s.Logger.Debugf("[%s] destroyed entity %d", s.Name, id)
	return nil
}

// DestroyEntity is Destroy for callers holding the entity rather than its id.
func (s *Server) DestroyEntity(entity replication.Entity) error {
	s.init()

	rec, ok := s.entities.Find(entity)
	if !ok {
		return &replication.LookupError{What: replication.LookupEntity, Name: fmt.Sprintf("%T (not networked)", entity)}
	}
	return s.Destroy(rec.ID)
}

// Entity returns the replication record of id.
func (s *Server) Entity(id replication.NetworkEntityID) (*replication.NetworkedEntity, bool) {
	s.init()
	return s.entities.Get(id)
}

// Entities returns a copy of the replicated entities in id order.
func (s *Server) Entities() []replication.EntitySnapshot {
	s.init()
	return s.entities.Snapshot()
}

// Connections lists the open connections in id order.
func (s *Server) Connections() []ConnectionInfo {
	s.init()
	var out []ConnectionInfo
	for _, id := range s.sessionIDs() {
		sess := s.sessions[id]
		out = append(out, ConnectionInfo{ID: id, State: sess.state, RemoteAddr: sess.conn.Addr()})
	}
	return out
}

// Owns is part of replication.Host: the server drives unowned components.
func (s *Server) Owns(owner replication.ConnectionID) bool {
	return owner == replication.Unowned
}

// SendRPC is part of replication.Host. Server calls reach every connected
// client unless the method is declared ServerOnly.
func (s *Server) SendRPC(target *replication.NetComponent, method string, params []byte) error {
	m, ok := s.RPC.Lookup(target.BoundKind(), method)
	if !ok {
		return &replication.LookupError{What: replication.LookupMethod, Name: target.BoundKind() + "." + method}
	}
	if m.Recipient == rpc.ServerOnly {
		return nil
	}
	s.enqueue(datagrams.ToClientExecuteRPC{
		NetEntityID: int32(target.NetEntityID()),
		ComponentID: target.BoundComponentID(),
		MethodName:  method,
		Params:      params,
	}, s.connected())
	return nil
}

// enqueue records d for the next flush. Recipients are resolved by the caller
// so that clients connecting later in the tick do not receive it twice.
func (s *Server) enqueue(d datagrams.Datagram, recipients []replication.ConnectionID) {
	if len(recipients) == 0 {
		return
	}
	s.outgoing = append(s.outgoing, outgoingDatagram{datagram: d, recipients: recipients})
}

// flush sends everything queued this tick as one message per client.
func (s *Server) flush() {
	if len(s.outgoing) == 0 {
		return
	}

	messages := make(map[replication.ConnectionID][]byte)
	var logged map[replication.ConnectionID][]datagrams.Datagram
	if s.Config.Debugging.PacketLoggingEnabled {
		logged = make(map[replication.ConnectionID][]datagrams.Datagram)
	}

	for _, out := range s.outgoing {
		encoded, err := datagrams.Encode(out.datagram)
		if err != nil {
			s.Logger.Errorf("[%s] dropping outgoing %s: %v", s.Name, out.datagram.Type(), err)
			continue
		}
		for _, id := range out.recipients {
			if sess, ok := s.sessions[id]; !ok || sess.state != Connected {
				continue
			}
			messages[id] = append(messages[id], encoded...)
			s.Metrics.DatagramSent(out.datagram.Type().String())
			if logged != nil {
				logged[id] = append(logged[id], out.datagram)
			}
		}
	}
	s.outgoing = s.outgoing[:0]

	for _, id := range s.sessionIDs() {
		if msg, ok := messages[id]; ok {
			sess := s.sessions[id]
			s.logDatagrams(debug.Outbound, sess.conn.Addr(), logged[id])
			sess.conn.Send(msg)
		}
	}
}

// drop closes the connection of sess and forgets it. Entities it owned are
// destroyed when configured to.
func (s *Server) drop(sess *session, reason string, cause error) {
	if _, ok := s.sessions[sess.id]; !ok {
		return
	}
	delete(s.sessions, sess.id)

	if err := sess.conn.Close(); err != nil {
		s.Logger.Debugf("[%s] failed to close connection of %v: %s", s.Name, sess.id, err)
	}
	s.Ledger.SessionClosed(sess.ledgerID, reason)
	s.Metrics.Disconnected(reason)
	s.Logger.Infof("[%s] lost connection to %v (%s): %v", s.Name, sess.id, sess.state, cause)

	if s.Config.Replication.DestroyOwnedOnDisconnect && reason != "shutdown" {
		for _, rec := range s.entities.OwnedBy(sess.id) {
			if err := s.Destroy(rec.ID); err != nil {
				s.Logger.Warnf("[%s] error destroying entity %d of %v: %v", s.Name, rec.ID, sess.id, err)
			}
		}
	}
	s.FireDisconnected(sess.id)
}

// Close stops accepting connections and closes every open one.
func (s *Server) Close() {
	s.init()
	select {
	case <-s.closing:
		return
	default:
	}
	close(s.closing)

	if s.listener != nil {
		s.listener.Close()
	}
	s.flush()
	for _, id := range s.sessionIDs() {
		s.drop(s.sessions[id], "shutdown", errors.New("server shutting down"))
	}
	for {
		select {
		case connection := <-s.accepted:
			connection.Close()
		default:
			s.Logger.Infof("[%s] exited", s.Name)
			return
		}
	}
}

func (s *Server) sessionIDs() []replication.ConnectionID {
	ids := make([]replication.ConnectionID, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (s *Server) connected() []replication.ConnectionID {
	return s.connectedExcept(replication.Unowned)
}

// connectedExcept lists the connected clients other than skip.
func (s *Server) connectedExcept(skip replication.ConnectionID) []replication.ConnectionID {
	var ids []replication.ConnectionID
	for _, id := range s.sessionIDs() {
		if id != skip && s.sessions[id].state == Connected {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *Server) recordGauges() {
	if s.Metrics == nil {
		return
	}
	counts := map[State]int{}
	for _, sess := range s.sessions {
		counts[sess.state]++
	}
	s.Metrics.SetConnections(Unacknowledged.String(), counts[Unacknowledged])
	s.Metrics.SetConnections(Connected.String(), counts[Connected])
	s.Metrics.SetEntities(s.entities.Len())
}

func (s *Server) logDatagrams(direction, peer string, ds []datagrams.Datagram) {
	if s.Config.Debugging.PacketLoggingEnabled {
		debug.PrintDatagrams(s.Logger, s.Name, direction, peer, ds)
	}
}

func spawnDatagram(rec *replication.NetworkedEntity) datagrams.SpawnNetworkEntity {
	return datagrams.SpawnNetworkEntity{
		PrefabName:  rec.Prefab,
		Owner:       int16(rec.Owner),
		NetEntityID: int32(rec.ID),
		Position:    rec.Entity.Position(),
		Rotation:    wireRotation(rec.Entity.Rotation()),
	}
}

// wireRotation maps degrees onto the int16 carried by spawn datagrams.
func wireRotation(degrees float64) int16 {
	return int16(math.Round(math.Mod(degrees, 360)))
}
