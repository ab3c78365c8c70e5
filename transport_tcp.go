// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package varlink

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"go.varlink.dev/varlink/varlinkaddr"
)

func tcpHostPort(addr varlinkaddr.Address) string {
	host := addr.Host
	if addr.IPv6 {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, addr.Port)
}

func listenTCP(addr varlinkaddr.Address) (net.Listener, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return sockErr
		},
	}

	l, err := lc.Listen(context.Background(), "tcp", tcpHostPort(addr))
	if err != nil {
		return nil, &ConnectionError{Op: "listen", Err: err}
	}
	return l, nil
}

func dialTCP(addr varlinkaddr.Address) (net.Conn, error) {
	conn, err := net.Dial("tcp", tcpHostPort(addr))
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}
	return conn, nil
}
