// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

//go:build unix

package varlink

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.varlink.dev/varlink/varlinkaddr"
)

// childTeardownGrace is how long a spawned exec:/ssh:/bridge: child is
// given to exit after SIGTERM before it is sent SIGKILL.
const childTeardownGrace = 2 * time.Second

// processConn adapts a spawned child's duplex stream (whether its
// stdio, for ssh:/bridge:, or one end of a socketpair, for exec:) to
// net.Conn, and tears the child down with SIGTERM-then-SIGKILL on
// Close, per the transport's teardown discipline.
type processConn struct {
	net.Conn
	cmd *exec.Cmd
}

func (p *processConn) Close() error {
	err := p.Conn.Close()
	terminateProcess(p.cmd)
	return err
}

func dialExec(addr varlinkaddr.Address) (net.Conn, error) {
	if len(addr.Argv) == 0 {
		return nil, &ConnectionError{Op: "dial", Err: fmt.Errorf("exec: empty command")}
	}

	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}

	parentFile := os.NewFile(uintptr(fds[0]), "varlink-exec-parent")
	childFile := os.NewFile(uintptr(fds[1]), "varlink-exec-child")
	defer childFile.Close()

	parentConn, err := net.FileConn(parentFile)
	parentFile.Close()
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}

	cmd := exec.Command(addr.Argv[0], addr.Argv[1:]...)
	cmd.Stderr = os.Stderr
	cmd.ExtraFiles = []*os.File{childFile}

	if err := cmd.Start(); err != nil {
		parentConn.Close()
		return nil, &ConnectionError{Op: "dial", Err: err}
	}

	return &processConn{Conn: parentConn, cmd: cmd}, nil
}

func terminateProcess(cmd *exec.Cmd) {
	if cmd == nil || cmd.Process == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()

	cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-done:
		return
	case <-time.After(childTeardownGrace):
	}
	cmd.Process.Signal(syscall.SIGKILL)
	<-done
}
