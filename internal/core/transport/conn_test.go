package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func newTestListener(t *testing.T) (*net.TCPListener, *net.TCPAddr) {
	listener, err := net.ListenTCP("tcp", &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		t.Fatalf("error initializing test listener: %v", err)
	}
	t.Cleanup(func() { listener.Close() })
	return listener, listener.Addr().(*net.TCPAddr)
}

// newTestPair returns a framed Conn and the raw peer on the other end of it.
func newTestPair(t *testing.T, opts Options) (*Conn, *net.TCPConn) {
	listener, addr := newTestListener(t)

	conn, err := Dial(context.Background(), addr.String(), opts)
	if err != nil {
		t.Fatalf("Dial() returned an unexpected error: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	peer, err := listener.AcceptTCP()
	if err != nil {
		t.Fatalf("error accepting test connection: %v", err)
	}
	t.Cleanup(func() { peer.Close() })
	return conn, peer
}

func frame(payload []byte) []byte {
	out := make([]byte, HeaderSize, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(out, uint32(len(payload)))
	return append(out, payload...)
}

// pollUntil polls conn until at least want messages have arrived or a
// second has passed.
func pollUntil(t *testing.T, conn *Conn, want int) [][]byte {
	t.Helper()
	var messages [][]byte
	deadline := time.Now().Add(time.Second)
	for len(messages) < want && time.Now().Before(deadline) {
		got, err := conn.Poll(0)
		if err != nil {
			t.Fatalf("Poll() returned an unexpected error: %v", err)
		}
		messages = append(messages, got...)
	}
	return messages
}

// pollError polls conn until it reports an error or a second has passed.
func pollError(t *testing.T, conn *Conn) error {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if _, err := conn.Poll(0); err != nil {
			return err
		}
	}
	t.Fatalf("Poll() did not report an error")
	return nil
}

func TestConn_SendWireFormat(t *testing.T) {
	conn, peer := newTestPair(t, DefaultOptions())

	conn.Send([]byte("abc"))
	conn.Send(nil)

	want := []byte{0x03, 0x00, 0x00, 0x00, 'a', 'b', 'c', 0x00, 0x00, 0x00, 0x00}
	got := make([]byte, len(want))
	peer.SetReadDeadline(time.Now().Add(time.Second))
	if _, err := io.ReadFull(peer, got); err != nil {
		t.Fatalf("error reading from test connection: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("written frames did not match; diff:\n%s", diff)
	}
}

func TestConn_RoundTrip(t *testing.T) {
	listener, addr := newTestListener(t)

	sender, err := Dial(context.Background(), addr.String(), DefaultOptions())
	if err != nil {
		t.Fatalf("Dial() returned an unexpected error: %v", err)
	}
	defer sender.Close()

	accepted, err := listener.AcceptTCP()
	if err != nil {
		t.Fatalf("error accepting test connection: %v", err)
	}
	receiver := New(accepted, DefaultOptions())
	defer receiver.Close()

	want := [][]byte{[]byte("hello"), {}, []byte("x"), make([]byte, 70000)}
	for _, msg := range want {
		sender.Send(msg)
	}

	got := pollUntil(t, receiver, len(want))
	if diff := cmp.Diff(want, got, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("received messages did not match; diff:\n%s", diff)
	}
}

func TestConn_PollIdle(t *testing.T) {
	conn, _ := newTestPair(t, DefaultOptions())

	const polls = 100
	start := time.Now()
	for i := 0; i < polls; i++ {
		got, err := conn.Poll(0)
		if err != nil {
			t.Fatalf("Poll() returned an unexpected error: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("Poll() on an idle connection returned %d messages", len(got))
		}
	}
	if elapsed := time.Since(start); elapsed > 5*time.Millisecond {
		t.Errorf("%d polls on an idle connection took %v", polls, elapsed)
	}
}

func TestConn_PollAfterQuietPeriod(t *testing.T) {
	opts := DefaultOptions()
	opts.MessageTimeout = 20 * time.Millisecond
	conn, peer := newTestPair(t, opts)

	if _, err := peer.Write(frame([]byte("first"))); err != nil {
		t.Fatalf("error writing to test connection: %v", err)
	}
	pollUntil(t, conn, 1)

	// Outlives the deadline set while reading the first message.
	time.Sleep(50 * time.Millisecond)
	if _, err := peer.Write(frame([]byte("second"))); err != nil {
		t.Fatalf("error writing to test connection: %v", err)
	}
	got := pollUntil(t, conn, 1)
	if diff := cmp.Diff([][]byte{[]byte("second")}, got); diff != "" {
		t.Errorf("received messages did not match; diff:\n%s", diff)
	}
}

func TestConn_PollPipe(t *testing.T) {
	local, remote := net.Pipe()
	defer remote.Close()
	opts := DefaultOptions()
	opts.PollWait = time.Millisecond
	conn := New(local, opts)
	defer conn.Close()

	got, err := conn.Poll(0)
	if err != nil {
		t.Fatalf("Poll() returned an unexpected error: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("Poll() on an idle pipe returned %d messages", len(got))
	}

	go remote.Write(frame([]byte("piped")))
	got = pollUntil(t, conn, 1)
	if diff := cmp.Diff([][]byte{[]byte("piped")}, got); diff != "" {
		t.Errorf("received messages did not match; diff:\n%s", diff)
	}
}

func TestReadPayload(t *testing.T) {
	payload, err := readPayload(bytes.NewReader([]byte("abcdef")), 4)
	if err != nil {
		t.Fatalf("readPayload() returned an unexpected error: %v", err)
	}
	if string(payload) != "abcd" {
		t.Errorf("readPayload() = %q, want %q", payload, "abcd")
	}

	// A header claiming 16 MiB followed by a few bytes must not allocate
	// the declared size.
	partial, err := readPayload(bytes.NewReader([]byte("short")), 16*1024*1024)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Errorf("readPayload() error = %v, want %v", err, io.ErrUnexpectedEOF)
	}
	if string(partial) != "short" {
		t.Errorf("readPayload() kept %q, want %q", partial, "short")
	}
	if cap(partial) > 2*payloadChunk {
		t.Errorf("readPayload() allocated %d bytes for %d received", cap(partial), len(partial))
	}
}

func TestConn_PollMax(t *testing.T) {
	conn, peer := newTestPair(t, DefaultOptions())

	var batch []byte
	for _, msg := range []string{"one", "two", "three"} {
		batch = append(batch, frame([]byte(msg))...)
	}
	if _, err := peer.Write(batch); err != nil {
		t.Fatalf("error writing to test connection: %v", err)
	}

	var got []string
	deadline := time.Now().Add(time.Second)
	for len(got) < 3 && time.Now().Before(deadline) {
		messages, err := conn.Poll(2)
		if err != nil {
			t.Fatalf("Poll() returned an unexpected error: %v", err)
		}
		if len(messages) > 2 {
			t.Fatalf("Poll(2) returned %d messages", len(messages))
		}
		for _, m := range messages {
			got = append(got, string(m))
		}
	}
	if diff := cmp.Diff([]string{"one", "two", "three"}, got); diff != "" {
		t.Errorf("received messages did not match; diff:\n%s", diff)
	}
}

func TestConn_PollErrors(t *testing.T) {
	oversized := make([]byte, HeaderSize)
	binary.LittleEndian.PutUint32(oversized, 2048)

	tests := []struct {
		name  string
		write []byte
		want  error
	}{
		{name: "closed by peer", write: nil, want: ErrClosedByPeer},
		{name: "partial header", write: []byte{0x05, 0x00}, want: io.ErrUnexpectedEOF},
		{name: "partial payload", write: []byte{0x05, 0x00, 0x00, 0x00, 'a'}, want: io.ErrUnexpectedEOF},
		{name: "negative length", write: []byte{0xFF, 0xFF, 0xFF, 0xFF}, want: ErrInvalidLength},
		{name: "oversized message", write: oversized, want: ErrMessageTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			opts.MaxMessageSize = 1024
			conn, peer := newTestPair(t, opts)

			if len(tt.write) > 0 {
				if _, err := peer.Write(tt.write); err != nil {
					t.Fatalf("error writing to test connection: %v", err)
				}
			}
			peer.Close()

			err := pollError(t, conn)
			var connErr *ConnectionError
			if !errors.As(err, &connErr) {
				t.Fatalf("want *ConnectionError, got %v", err)
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestConn_Close(t *testing.T) {
	conn, peer := newTestPair(t, DefaultOptions())

	conn.Send([]byte("last words"))
	if err := conn.Close(); err != nil {
		t.Fatalf("Close() returned an unexpected error: %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Errorf("second Close() returned an unexpected error: %v", err)
	}
	if !conn.Closed() {
		t.Errorf("Closed() = false after Close()")
	}

	// Messages queued before Close are still delivered.
	peer.SetReadDeadline(time.Now().Add(time.Second))
	got, err := io.ReadAll(peer)
	if err != nil {
		t.Fatalf("error reading from test connection: %v", err)
	}
	if diff := cmp.Diff(frame([]byte("last words")), got); diff != "" {
		t.Errorf("queued message was not flushed on close; diff:\n%s", diff)
	}

	defer func() {
		if recover() == nil {
			t.Errorf("Send() after Close() did not panic")
		}
	}()
	conn.Send([]byte("too late"))
}

func TestDial_Refused(t *testing.T) {
	listener, addr := newTestListener(t)
	listener.Close()

	_, err := Dial(context.Background(), addr.String(), DefaultOptions())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("want *ConnectionError, got %v", err)
	}
}
