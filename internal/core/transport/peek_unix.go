//go:build unix

package transport

import (
	"errors"
	"io"
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// peek checks the socket for readable bytes without blocking. supported is
// false for streams that are not backed by a file descriptor.
func peek(connection net.Conn) (ready, supported bool, err error) {
	sc, ok := connection.(syscall.Conn)
	if !ok {
		return false, false, nil
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return false, false, nil
	}

	var (
		b       [1]byte
		n       int
		recvErr error
	)
	err = raw.Read(func(fd uintptr) bool {
		n, _, recvErr = unix.Recvfrom(int(fd), b[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		return true
	})
	switch {
	case err != nil:
		return false, true, err
	case errors.Is(recvErr, unix.EAGAIN), errors.Is(recvErr, unix.EWOULDBLOCK), errors.Is(recvErr, unix.EINTR):
		return false, true, nil
	case recvErr != nil:
		return false, true, recvErr
	case n == 0:
		return false, true, io.EOF
	}
	return true, true, nil
}
