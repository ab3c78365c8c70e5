// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

//go:build !linux

package varlink

import (
	"context"
	"errors"
	"net"
	"sync"
)

// Reactor drives Server.Serve. Linux gets a single-threaded epoll loop
// (see reactor.go); everywhere else there is no portable readiness
// primitive reachable through golang.org/x/sys/unix that behaves the
// same way, so Reactor falls back to a goroutine per connection. This
// is a portability shim, not a second reactor design: externally it
// accepts, serves, and tears down connections identically to the epoll
// path, just on more than one goroutine.
type Reactor struct {
	server *Server
}

func (re *Reactor) Serve(l net.Listener) error {
	s := re.server

	var wg sync.WaitGroup

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		wg.Wait()
	}()

	for {
		conn, err := l.Accept()
		switch {
		case errors.Is(err, net.ErrClosed):
			return nil
		case err != nil:
			s.logger().Errorf("accept: %v", err)
			return err
		}

		s.logger().Debugf("accepted connection from %v", conn.RemoteAddr())

		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ServeConn(ctx, conn)
		}()
	}
}
