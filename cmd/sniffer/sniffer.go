package main

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"github.com/dcrodman/roost/internal/core/debug"
	"github.com/dcrodman/roost/internal/core/transport"
	"github.com/dcrodman/roost/internal/datagrams"
)

// stream reassembles the messages of one direction of a connection. Segments
// are assumed to arrive in order, which holds on loopback and most LANs.
type stream struct {
	buffer []byte
	broken bool
}

// feed appends payload and returns every message it completed.
func (st *stream) feed(payload []byte, maxMessageSize int) ([][]byte, error) {
	if st.broken {
		return nil, nil
	}
	st.buffer = append(st.buffer, payload...)

	var messages [][]byte
	for len(st.buffer) >= transport.HeaderSize {
		length := int32(binary.LittleEndian.Uint32(st.buffer))
		if length < 0 || (maxMessageSize > 0 && int(length) > maxMessageSize) {
			st.broken = true
			st.buffer = nil
			return messages, fmt.Errorf("%w: %d", transport.ErrInvalidLength, length)
		}
		end := transport.HeaderSize + int(length)
		if len(st.buffer) < end {
			break
		}
		messages = append(messages, st.buffer[transport.HeaderSize:end])
		st.buffer = st.buffer[end:]
	}
	// Compact so the backing array does not grow without bound.
	st.buffer = append([]byte(nil), st.buffer...)
	return messages, nil
}

type sniffer struct {
	Writer         io.Writer
	ServerPort     uint16
	MaxMessageSize int

	streams map[string]*stream
}

func (s *sniffer) handlePacket(network gopacket.Flow, tcp *layers.TCP) {
	if s.streams == nil {
		s.streams = make(map[string]*stream)
	}
	key := fmt.Sprintf("%v:%d->%v:%d", network.Src(), tcp.SrcPort, network.Dst(), tcp.DstPort)

	if tcp.SYN || tcp.FIN || tcp.RST {
		delete(s.streams, key)
		if tcp.FIN || tcp.RST {
			fmt.Fprintf(s.Writer, "%s closed\n", key)
			return
		}
	}
	if len(tcp.Payload) == 0 {
		return
	}

	st, ok := s.streams[key]
	if !ok {
		st = &stream{}
		s.streams[key] = st
	}
	s.handleSegment(key, uint16(tcp.DstPort) == s.ServerPort, st, tcp.Payload)
}

func (s *sniffer) handleSegment(key string, toServer bool, st *stream, payload []byte) {
	direction := debug.Inbound
	if !toServer {
		direction = debug.Outbound
	}

	messages, err := st.feed(payload, s.MaxMessageSize)
	for _, msg := range messages {
		ds, decodeErr := datagrams.DecodeAll(msg)
		fmt.Fprintf(s.Writer, "%s %s message of %d bytes, %d datagrams\n", key, direction, len(msg), len(ds))
		for _, d := range ds {
			fmt.Fprintln(s.Writer, debug.DumpDatagram(d))
		}
		if decodeErr != nil {
			fmt.Fprintf(s.Writer, "%s decode error: %v\n", key, decodeErr)
		}
	}
	if err != nil {
		fmt.Fprintf(s.Writer, "%s no longer framed (%v), ignoring the rest of the stream\n", key, err)
	}
}
