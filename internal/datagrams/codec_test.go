package datagrams

import (
	"errors"
	"io"
	"math"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/dcrodman/roost/internal/core/geom"
)

var maxLengthName = strings.Repeat("p", math.MaxUint16)

func TestRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		d    Datagram
	}{
		{name: "client id exchange", d: ClientIDExchange{ClientID: 12}},
		{name: "client id exchange zero", d: ClientIDExchange{ClientID: 0}},
		{name: "client id exchange negative", d: ClientIDExchange{ClientID: math.MinInt16}},
		{name: "client id exchange ack", d: ClientIDExchangeAck{}},
		{
			name: "spawn",
			d: SpawnNetworkEntity{
				PrefabName:  "player",
				Owner:       3,
				NetEntityID: 42,
				Position:    geom.V(10.5, -3.25),
				Rotation:    270,
			},
		},
		{
			name: "spawn unowned with empty prefab name",
			d:    SpawnNetworkEntity{PrefabName: "", Owner: -1, NetEntityID: 0, Rotation: -90},
		},
		{
			name: "spawn with max length prefab name",
			d:    SpawnNetworkEntity{PrefabName: maxLengthName, Owner: math.MaxInt16, NetEntityID: math.MaxInt32},
		},
		{name: "spawn with utf-8 prefab name", d: SpawnNetworkEntity{PrefabName: "pigeon-🐦", NetEntityID: 1}},
		{name: "destroy", d: DestroyNetworkEntity{NetEntityID: 7}},
		{name: "destroy negative", d: DestroyNetworkEntity{NetEntityID: -1}},
		{
			name: "to server rpc",
			d: ToServerExecuteRPC{
				Recipient:   1,
				NetEntityID: 9,
				ComponentID: 2,
				MethodName:  "set_transform",
				Params:      []byte(`{"a":[[1,2],3],"k":{}}`),
			},
		},
		{
			name: "to server rpc empty params",
			d:    ToServerExecuteRPC{MethodName: "", Params: nil},
		},
		{
			name: "to client rpc",
			d: ToClientExecuteRPC{
				NetEntityID: 9,
				ComponentID: 255,
				MethodName:  "set_transform",
				Params:      make([]byte, math.MaxUint16),
			},
		},
		{name: "transfer ownership", d: TransferOwnership{NetEntityID: 3, Owner: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded, err := Encode(tt.d)
			if err != nil {
				t.Fatalf("Encode() returned an unexpected error: %v", err)
			}

			got, n, err := Decode(encoded)
			if err != nil {
				t.Fatalf("Decode() returned an unexpected error: %v", err)
			}
			if n != len(encoded) {
				t.Errorf("Decode() consumed %d bytes, want %d", n, len(encoded))
			}
			if diff := cmp.Diff(tt.d, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("decoded datagram did not match; diff:\n%s", diff)
			}
		})
	}
}

func TestEncode_Layout(t *testing.T) {
	encoded, err := Encode(&SpawnNetworkEntity{
		PrefabName:  "ab",
		Owner:       -1,
		NetEntityID: 258,
		Position:    geom.V(1, 0),
		Rotation:    90,
	})
	if err != nil {
		t.Fatalf("Encode() returned an unexpected error: %v", err)
	}

	want := []byte{
		0x64, 0x00, // tag 100
		0x02, 0x00, 'a', 'b', // prefab name
		0xFF, 0xFF, // owner -1
		0x02, 0x01, 0x00, 0x00, // id 258
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0xF0, 0x3F, // x = 1.0
		0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, // y = 0.0
		0x5A, 0x00, // rotation 90
	}
	if diff := cmp.Diff(want, encoded); diff != "" {
		t.Errorf("encoded spawn did not match the wire layout; diff:\n%s", diff)
	}

	ack, _ := Encode(ClientIDExchangeAck{})
	if diff := cmp.Diff([]byte{0x02, 0x00}, ack); diff != "" {
		t.Errorf("encoded ack did not match the wire layout; diff:\n%s", diff)
	}
}

func TestDecodeAll_Batching(t *testing.T) {
	all := []Datagram{
		ClientIDExchange{ClientID: 1},
		SpawnNetworkEntity{PrefabName: "player", Owner: 1, NetEntityID: 0, Position: geom.V(1, 2)},
		ToClientExecuteRPC{NetEntityID: 0, ComponentID: 1, MethodName: "jump", Params: []byte("{}")},
		DestroyNetworkEntity{NetEntityID: 0},
		ClientIDExchangeAck{},
	}

	for _, n := range []int{0, 1, 5} {
		var buf []byte
		for _, d := range all[:n] {
			var err error
			if buf, err = Append(buf, d); err != nil {
				t.Fatalf("Append() returned an unexpected error: %v", err)
			}
		}

		got, err := DecodeAll(buf)
		if err != nil {
			t.Fatalf("DecodeAll() with %d datagrams returned an unexpected error: %v", n, err)
		}
		if diff := cmp.Diff(all[:n], got, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("DecodeAll() with %d datagrams did not preserve order; diff:\n%s", n, diff)
		}
	}
}

func TestDecodeAll_Errors(t *testing.T) {
	valid, _ := Encode(DestroyNetworkEntity{NetEntityID: 5})

	tests := []struct {
		name      string
		data      []byte
		wantTag   Type
		wantCount int
		wantEOF   bool
	}{
		{
			name:      "unknown tag aborts the batch",
			data:      append(append([]byte{}, valid...), 0x39, 0x05, 0x01, 0x02),
			wantTag:   Type(1337),
			wantCount: 1,
		},
		{
			name:    "truncated body",
			data:    []byte{0x65, 0x00, 0x01},
			wantTag: DestroyNetworkEntityType,
			wantEOF: true,
		},
		{
			name:      "truncated tag",
			data:      append(append([]byte{}, valid...), 0x01),
			wantCount: 1,
			wantEOF:   true,
		},
		{
			name:    "non-ascii method name",
			data:    []byte{0xC8, 0x00, 0x00, 0x01, 0x00, 0x00, 0x00, 0x00, 0x02, 0x00, 0xC3, 0xA9, 0x00, 0x00},
			wantTag: ToServerExecuteRPCType,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeAll(tt.data)

			var protoErr *ProtocolError
			if !errors.As(err, &protoErr) {
				t.Fatalf("want *ProtocolError, got %v", err)
			}
			if protoErr.Tag != tt.wantTag {
				t.Errorf("ProtocolError.Tag = %v, want %v", protoErr.Tag, tt.wantTag)
			}
			if errors.Is(err, io.ErrUnexpectedEOF) != tt.wantEOF {
				t.Errorf("errors.Is(err, io.ErrUnexpectedEOF) = %v, want %v", !tt.wantEOF, tt.wantEOF)
			}
			if len(got) != tt.wantCount {
				t.Errorf("decoded %d datagrams before the error, want %d", len(got), tt.wantCount)
			}
		})
	}
}

func TestEncode_Errors(t *testing.T) {
	tests := []struct {
		name string
		d    Datagram
		want error
	}{
		{
			name: "non-ascii method name to server",
			d:    ToServerExecuteRPC{MethodName: "sauté"},
			want: ErrNonASCIIMethod,
		},
		{
			name: "prefab name too long",
			d:    SpawnNetworkEntity{PrefabName: maxLengthName + "p"},
		},
		{
			name: "params too long",
			d:    ToClientExecuteRPC{MethodName: "m", Params: make([]byte, math.MaxUint16+1)},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := []byte{1, 2, 3}
			got, err := Append(buf, tt.d)

			var protoErr *ProtocolError
			if !errors.As(err, &protoErr) {
				t.Fatalf("want *ProtocolError, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("want %v, got %v", tt.want, err)
			}
			if diff := cmp.Diff([]byte{1, 2, 3}, got); diff != "" {
				t.Errorf("Append() modified the buffer on failure; diff:\n%s", diff)
			}
		})
	}
}

func TestType_String(t *testing.T) {
	if got := SpawnNetworkEntityType.String(); got != "SpawnNetworkEntity" {
		t.Errorf("String() = %s", got)
	}
	if got := Type(42).String(); got != "Unknown(42)" {
		t.Errorf("String() = %s", got)
	}
	if Type(42).Known() {
		t.Errorf("Known() returned true for an unknown tag")
	}
}
