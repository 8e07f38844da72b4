//go:build !unix

package transport

import "net"

func peek(net.Conn) (ready, supported bool, err error) {
	return false, false, nil
}
