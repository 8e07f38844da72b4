// Package transport turns a TCP stream into discrete length-prefixed messages.
//
// Each message on the wire is a 4 byte little endian length followed by that
// many payload bytes. Writes happen on one background goroutine per Conn so
// that Send never blocks; reads are pulled by the owner of the Conn with Poll,
// which never waits on a peer that has nothing to say.
package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"
)

// HeaderSize is the length of the message size prefix.
const HeaderSize = 4

type Options struct {
	// How long Poll waits on an idle stream that is not a socket before
	// deciding nothing is readable. Sockets are checked without waiting.
	PollWait time.Duration
	// Upper bound on reading the rest of a message once its first byte arrived.
	// Zero waits indefinitely.
	MessageTimeout time.Duration
	// Largest accepted payload. Zero disables the check.
	MaxMessageSize int
	// How long Close waits for queued messages to be written.
	CloseTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{
		PollWait:       200 * time.Microsecond,
		MessageTimeout: 5 * time.Second,
		MaxMessageSize: 16 * 1024 * 1024,
		CloseTimeout:   2 * time.Second,
	}
}

// Conn is one framed connection to a peer.
type Conn struct {
	connection net.Conn
	reader     *bufio.Reader
	addr       string
	opts       Options

	mu       sync.Mutex
	pending  [][]byte
	closed   bool
	writeErr error

	wake       chan struct{}
	done       chan struct{}
	senderDone chan struct{}

	closeOnce sync.Once
	closeErr  error
}

// Dial connects to address and starts the sender for the new connection.
func Dial(ctx context.Context, address string, opts Options) (*Conn, error) {
	var dialer net.Dialer
	connection, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &ConnectionError{Addr: address, Op: "dial", Err: err}
	}
	if tcpConn, ok := connection.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	return New(connection, opts), nil
}

// New wraps an established stream and starts its sender.
func New(connection net.Conn, opts Options) *Conn {
	c := &Conn{
		connection: connection,
		reader:     bufio.NewReader(connection),
		addr:       connection.RemoteAddr().String(),
		opts:       opts,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		senderDone: make(chan struct{}),
	}
	go c.sendLoop()
	return c
}

func (c *Conn) RemoteAddr() net.Addr { return c.connection.RemoteAddr() }
func (c *Conn) Addr() string         { return c.addr }

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send queues payload to be written as one message and returns immediately.
// The payload is copied. Sending on a closed Conn is a programming error and panics.
func (c *Conn) Send(payload []byte) {
	frame := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame, uint32(len(payload)))
	copy(frame[HeaderSize:], payload)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		panic(fmt.Sprintf("transport: Send on closed connection to %s", c.addr))
	}
	c.pending = append(c.pending, frame)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Conn) sendLoop() {
	defer close(c.senderDone)

	for {
		select {
		case <-c.wake:
			if !c.flushPending() {
				return
			}
		case <-c.done:
			// Drain whatever was queued before Close.
			c.flushPending()
			return
		}
	}
}

// flushPending writes every queued frame and returns false once the stream has failed.
func (c *Conn) flushPending() bool {
	c.mu.Lock()
	batch := c.pending
	c.pending = nil
	c.mu.Unlock()

	for _, frame := range batch {
		if err := c.transmit(frame); err != nil {
			c.mu.Lock()
			if c.writeErr == nil {
				c.writeErr = err
			}
			c.mu.Unlock()
			return false
		}
	}
	return true
}

// transmit writes the contents of data to the connection until every byte is sent.
func (c *Conn) transmit(data []byte) error {
	for sent := 0; sent < len(data); {
		n, err := c.connection.Write(data[sent:])
		if err != nil {
			return &ConnectionError{Addr: c.addr, Op: "write", Err: err}
		}
		sent += n
	}
	return nil
}

// Poll returns the messages that can be read without waiting on the peer, at
// most max of them when max > 0. A *ConnectionError means the connection is
// unusable; any messages completed before the failure are returned with it.
func (c *Conn) Poll(max int) ([][]byte, error) {
	c.mu.Lock()
	writeErr := c.writeErr
	c.mu.Unlock()
	if writeErr != nil {
		return nil, writeErr
	}

	var messages [][]byte
	for max <= 0 || len(messages) < max {
		ready, err := c.ready()
		if err != nil {
			return messages, err
		}
		if !ready {
			break
		}

		msg, err := c.readMessage()
		if err != nil {
			return messages, err
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// ready reports whether at least one byte can be read right now.
func (c *Conn) ready() (bool, error) {
	if c.reader.Buffered() > 0 {
		return true, nil
	}

	ok, supported, err := peek(c.connection)
	if !supported {
		ok, err = c.peekWithDeadline()
	}
	switch {
	case err == nil:
		return ok, nil
	case errors.Is(err, io.EOF):
		return false, &ConnectionError{Addr: c.addr, Op: "poll", Err: ErrClosedByPeer}
	default:
		return false, &ConnectionError{Addr: c.addr, Op: "poll", Err: err}
	}
}

// peekWithDeadline serves streams without a socket underneath, such as
// net.Pipe, by waiting up to PollWait for a byte to show up.
func (c *Conn) peekWithDeadline() (bool, error) {
	if err := c.connection.SetReadDeadline(time.Now().Add(c.opts.PollWait)); err != nil {
		return false, err
	}
	_, err := c.reader.Peek(1)
	if isTimeout(err) {
		return false, nil
	}
	return err == nil, err
}

// readMessage reads exactly one length prefix and the payload it declares.
func (c *Conn) readMessage() ([]byte, error) {
	var deadline time.Time
	if c.opts.MessageTimeout > 0 {
		deadline = time.Now().Add(c.opts.MessageTimeout)
	}
	if err := c.connection.SetReadDeadline(deadline); err != nil {
		return nil, &ConnectionError{Addr: c.addr, Op: "read", Err: err}
	}

	var header [HeaderSize]byte
	if _, err := io.ReadFull(c.reader, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			err = ErrClosedByPeer
		}
		return nil, &ConnectionError{Addr: c.addr, Op: "read header", Err: err}
	}

	length := int32(binary.LittleEndian.Uint32(header[:]))
	if length < 0 {
		return nil, &ConnectionError{Addr: c.addr, Op: "read header", Err: fmt.Errorf("%w: %d", ErrInvalidLength, length)}
	}
	if c.opts.MaxMessageSize > 0 && int(length) > c.opts.MaxMessageSize {
		return nil, &ConnectionError{Addr: c.addr, Op: "read header", Err: fmt.Errorf("%w: %d bytes", ErrMessageTooLarge, length)}
	}

	payload, err := readPayload(c.reader, int(length))
	if err != nil {
		return nil, &ConnectionError{Addr: c.addr, Op: "read payload", Err: err}
	}
	// Readiness checks run without a deadline.
	if err := c.connection.SetReadDeadline(time.Time{}); err != nil {
		return nil, &ConnectionError{Addr: c.addr, Op: "read", Err: err}
	}
	return payload, nil
}

// payloadChunk caps how much is allocated ahead of the bytes actually received.
const payloadChunk = 64 * 1024

// readPayload reads length bytes from r. The buffer grows as bytes arrive so
// a header alone never pins the full declared size. On error the bytes read
// so far are returned.
func readPayload(r io.Reader, length int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(min(length, payloadChunk))
	if _, err := io.CopyN(&buf, r, int64(length)); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return buf.Bytes(), err
	}
	return buf.Bytes(), nil
}

// Close stops accepting sends, gives the sender up to CloseTimeout to write
// what was queued and then closes the stream. Calling it again is a no-op.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		close(c.done)

		timer := time.NewTimer(c.opts.CloseTimeout)
		select {
		case <-c.senderDone:
		case <-timer.C:
		}
		timer.Stop()

		c.closeErr = c.connection.Close()
		// A sender stuck in a write is released by the close above.
		<-c.senderDone
	})
	return c.closeErr
}

func isTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
