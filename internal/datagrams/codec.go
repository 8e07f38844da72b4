package datagrams

import (
	"fmt"
	"unicode/utf8"

	"github.com/dcrodman/roost/internal/core/bytes"
	"github.com/dcrodman/roost/internal/core/geom"
)

// Encode returns the wire representation of d.
func Encode(d Datagram) ([]byte, error) {
	return Append(nil, d)
}

// Append encodes d onto the end of buf. On error buf is returned unchanged.
func Append(buf []byte, d Datagram) ([]byte, error) {
	d = deref(d)
	w := bytes.NewWriter(buf)
	w.WriteInt16(int16(d.Type()))

	var err error
	switch d := d.(type) {
	case ClientIDExchange:
		w.WriteInt16(d.ClientID)
	case ClientIDExchangeAck:
	case SpawnNetworkEntity:
		if err = w.WriteString(d.PrefabName); err != nil {
			break
		}
		w.WriteInt16(d.Owner)
		w.WriteInt32(d.NetEntityID)
		w.WriteFloat64(d.Position.X)
		w.WriteFloat64(d.Position.Y)
		w.WriteInt16(d.Rotation)
	case DestroyNetworkEntity:
		w.WriteInt32(d.NetEntityID)
	case ToServerExecuteRPC:
		if !isASCII(d.MethodName) {
			err = fmt.Errorf("%w: %q", ErrNonASCIIMethod, d.MethodName)
			break
		}
		w.WriteUint8(d.Recipient)
		w.WriteInt32(d.NetEntityID)
		w.WriteUint8(d.ComponentID)
		if err = w.WriteString(d.MethodName); err != nil {
			break
		}
		err = w.WriteBytes(d.Params)
	case ToClientExecuteRPC:
		w.WriteInt32(d.NetEntityID)
		w.WriteUint8(d.ComponentID)
		if err = w.WriteString(d.MethodName); err != nil {
			break
		}
		err = w.WriteBytes(d.Params)
	case TransferOwnership:
		w.WriteInt32(d.NetEntityID)
		w.WriteInt16(d.Owner)
	default:
		return buf, &ProtocolError{Tag: d.Type(), Offset: len(buf), Reason: "no encoding for datagram"}
	}

	if err != nil {
		return buf, &ProtocolError{Tag: d.Type(), Offset: len(buf), Err: err}
	}
	return w.Bytes(), nil
}

// Decode reads one datagram from the start of data and returns it along with
// the number of bytes it occupied.
func Decode(data []byte) (Datagram, int, error) {
	r := bytes.NewReader(data)
	d, err := decodeNext(r)
	if err != nil {
		return nil, 0, err
	}
	return d, r.Position(), nil
}

// DecodeAll decodes every datagram packed into data. Decoding stops at the
// first error since the position of the next datagram is unknown from then on;
// the datagrams decoded before the failure are returned with it.
func DecodeAll(data []byte) ([]Datagram, error) {
	r := bytes.NewReader(data)
	var out []Datagram
	for !r.EOF() {
		d, err := decodeNext(r)
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}

func decodeNext(r *bytes.Reader) (Datagram, error) {
	start := r.Position()
	tag, err := r.ReadInt16()
	if err != nil {
		return nil, &ProtocolError{Offset: start, Reason: "truncated type tag", Err: err}
	}

	t := Type(tag)
	d, err := decodeBody(t, r)
	if err != nil {
		if pe, ok := err.(*ProtocolError); ok {
			pe.Tag, pe.Offset = t, start
			return nil, pe
		}
		return nil, &ProtocolError{Tag: t, Offset: start, Reason: "truncated body", Err: err}
	}
	return d, nil
}

func decodeBody(t Type, r *bytes.Reader) (Datagram, error) {
	var err error
	switch t {
	case ClientIDExchangeType:
		var d ClientIDExchange
		d.ClientID, err = r.ReadInt16()
		return d, err

	case ClientIDExchangeAckType:
		return ClientIDExchangeAck{}, nil

	case SpawnNetworkEntityType:
		var d SpawnNetworkEntity
		if d.PrefabName, err = r.ReadString(); err != nil {
			return nil, err
		}
		if d.Owner, err = r.ReadInt16(); err != nil {
			return nil, err
		}
		if d.NetEntityID, err = r.ReadInt32(); err != nil {
			return nil, err
		}
		if d.Position, err = readVec2(r); err != nil {
			return nil, err
		}
		d.Rotation, err = r.ReadInt16()
		return d, err

	case DestroyNetworkEntityType:
		var d DestroyNetworkEntity
		d.NetEntityID, err = r.ReadInt32()
		return d, err

	case ToServerExecuteRPCType:
		var d ToServerExecuteRPC
		if d.Recipient, err = r.ReadUint8(); err != nil {
			return nil, err
		}
		if d.NetEntityID, err = r.ReadInt32(); err != nil {
			return nil, err
		}
		if d.ComponentID, err = r.ReadUint8(); err != nil {
			return nil, err
		}
		if d.MethodName, err = r.ReadString(); err != nil {
			return nil, err
		}
		if !isASCII(d.MethodName) {
			return nil, &ProtocolError{Err: ErrNonASCIIMethod}
		}
		d.Params, err = r.ReadBytes()
		return d, err

	case ToClientExecuteRPCType:
		var d ToClientExecuteRPC
		if d.NetEntityID, err = r.ReadInt32(); err != nil {
			return nil, err
		}
		if d.ComponentID, err = r.ReadUint8(); err != nil {
			return nil, err
		}
		if d.MethodName, err = r.ReadString(); err != nil {
			return nil, err
		}
		if !utf8.ValidString(d.MethodName) {
			return nil, &ProtocolError{Reason: "method name is not valid UTF-8"}
		}
		d.Params, err = r.ReadBytes()
		return d, err

	case TransferOwnershipType:
		var d TransferOwnership
		if d.NetEntityID, err = r.ReadInt32(); err != nil {
			return nil, err
		}
		d.Owner, err = r.ReadInt16()
		return d, err
	}

	return nil, &ProtocolError{Reason: "unknown datagram type"}
}

func readVec2(r *bytes.Reader) (geom.Vec2, error) {
	x, err := r.ReadFloat64()
	if err != nil {
		return geom.Vec2{}, err
	}
	y, err := r.ReadFloat64()
	if err != nil {
		return geom.Vec2{}, err
	}
	return geom.V(x, y), nil
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			return false
		}
	}
	return true
}

func deref(d Datagram) Datagram {
	switch d := d.(type) {
	case *ClientIDExchange:
		return *d
	case *ClientIDExchangeAck:
		return *d
	case *SpawnNetworkEntity:
		return *d
	case *DestroyNetworkEntity:
		return *d
	case *ToServerExecuteRPC:
		return *d
	case *ToClientExecuteRPC:
		return *d
	case *TransferOwnership:
		return *d
	}
	return d
}
