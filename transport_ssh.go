// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

//go:build unix

package varlink

import (
	"io"
	"net"
	"os"
	"os/exec"
	"time"

	"go.varlink.dev/varlink/varlinkaddr"
)

// stdioConn adapts a child process's Stdin/Stdout to net.Conn. It does
// not support file-descriptor passing: ssh:/bridge: speak the protocol
// over a plain byte stream, not a unix socket.
type stdioConn struct {
	stdin  io.WriteCloser
	stdout io.ReadCloser
}

func (c *stdioConn) Read(b []byte) (int, error)  { return c.stdout.Read(b) }
func (c *stdioConn) Write(b []byte) (int, error) { return c.stdin.Write(b) }
func (c *stdioConn) Close() error {
	err1 := c.stdin.Close()
	err2 := c.stdout.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
func (c *stdioConn) LocalAddr() net.Addr                { return pipeAddr{} }
func (c *stdioConn) RemoteAddr() net.Addr                { return pipeAddr{} }
func (c *stdioConn) SetDeadline(t time.Time) error       { return nil }
func (c *stdioConn) SetReadDeadline(t time.Time) error   { return nil }
func (c *stdioConn) SetWriteDeadline(t time.Time) error  { return nil }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "pipe" }
func (pipeAddr) String() string  { return "pipe" }

func dialSubprocess(argv []string) (net.Conn, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}
	if err := cmd.Start(); err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}

	return &processConn{
		Conn: &stdioConn{stdin: stdin, stdout: stdout},
		cmd:  cmd,
	}, nil
}

func dialSSH(addr varlinkaddr.Address) (net.Conn, error) {
	if addr.Host2 == "" {
		return nil, &ConnectionError{Op: "dial", Err: io.ErrUnexpectedEOF}
	}
	return dialSubprocess([]string{"ssh", addr.Host2, "varlink", "bridge"})
}

func dialBridge(addr varlinkaddr.Address) (net.Conn, error) {
	if len(addr.Argv) == 0 {
		return nil, &ConnectionError{Op: "dial", Err: io.ErrUnexpectedEOF}
	}
	return dialSubprocess(addr.Argv)
}
