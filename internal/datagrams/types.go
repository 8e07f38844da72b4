// Package datagrams defines the closed set of records exchanged between the
// server and its clients, and their binary encoding.
//
// Every datagram starts with a 2 byte little endian type tag followed by a
// type specific body. Any number of datagrams may be packed back to back into
// one framed message.
package datagrams

import (
	"fmt"

	"github.com/dcrodman/roost/internal/core/geom"
)

// Type is the tag at the start of every encoded datagram.
type Type int16

const (
	ClientIDExchangeType    Type = 1
	ClientIDExchangeAckType Type = 2

	SpawnNetworkEntityType   Type = 100
	DestroyNetworkEntityType Type = 101

	ToServerExecuteRPCType Type = 200
	ToClientExecuteRPCType Type = 201

	// Reserved for ownership hand-off. The codec understands it but nothing
	// sends it or acts on it.
	TransferOwnershipType Type = 300
)

var typeNames = map[Type]string{
	ClientIDExchangeType:     "ClientIDExchange",
	ClientIDExchangeAckType:  "ClientIDExchangeAck",
	SpawnNetworkEntityType:   "SpawnNetworkEntity",
	DestroyNetworkEntityType: "DestroyNetworkEntity",
	ToServerExecuteRPCType:   "ToServerExecuteRPC",
	ToClientExecuteRPCType:   "ToClientExecuteRPC",
	TransferOwnershipType:    "TransferOwnership",
}

func (t Type) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", int16(t))
}

// Known reports whether t is one of the tags the codec can decode.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

// Datagram is implemented by every record in this package.
type Datagram interface {
	Type() Type
}

// ClientIDExchange is the first thing the server sends on a new connection,
// telling the client which connection ID it was assigned.
type ClientIDExchange struct {
	ClientID int16
}

// ClientIDExchangeAck confirms receipt of ClientIDExchange.
type ClientIDExchangeAck struct{}

// SpawnNetworkEntity tells a client to build a local mirror of a replicated entity.
type SpawnNetworkEntity struct {
	PrefabName  string
	Owner       int16
	NetEntityID int32
	Position    geom.Vec2
	Rotation    int16
}

// DestroyNetworkEntity tells a client to drop its mirror of an entity.
type DestroyNetworkEntity struct {
	NetEntityID int32
}

// ToServerExecuteRPC asks the server to run a method on one of an entity's
// components. MethodName must be 7-bit ASCII.
type ToServerExecuteRPC struct {
	Recipient   uint8
	NetEntityID int32
	ComponentID uint8
	MethodName  string
	Params      []byte
}

// ToClientExecuteRPC asks a client to run a method on its mirror of an entity.
type ToClientExecuteRPC struct {
	NetEntityID int32
	ComponentID uint8
	MethodName  string
	Params      []byte
}

// TransferOwnership announces a new owner for an entity.
type TransferOwnership struct {
	NetEntityID int32
	Owner       int16
}

func (ClientIDExchange) Type() Type     { return ClientIDExchangeType }
func (ClientIDExchangeAck) Type() Type  { return ClientIDExchangeAckType }
func (SpawnNetworkEntity) Type() Type   { return SpawnNetworkEntityType }
func (DestroyNetworkEntity) Type() Type { return DestroyNetworkEntityType }
func (ToServerExecuteRPC) Type() Type   { return ToServerExecuteRPCType }
func (ToClientExecuteRPC) Type() Type   { return ToClientExecuteRPCType }
func (TransferOwnership) Type() Type    { return TransferOwnershipType }
