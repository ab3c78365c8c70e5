// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

//go:build !unix

package varlink

import (
	"fmt"
	"net"

	"go.varlink.dev/varlink/varlinkaddr"
)

// exec:/ssh:/bridge: rely on SIGTERM/SIGKILL teardown and, for exec:, a
// unix socketpair -- neither is available outside unix builds.

func dialExec(addr varlinkaddr.Address) (net.Conn, error) {
	return nil, &ConnectionError{Op: "dial", Err: fmt.Errorf("exec: unsupported on this platform")}
}

func dialSSH(addr varlinkaddr.Address) (net.Conn, error) {
	return nil, &ConnectionError{Op: "dial", Err: fmt.Errorf("ssh: unsupported on this platform")}
}

func dialBridge(addr varlinkaddr.Address) (net.Conn, error) {
	return nil, &ConnectionError{Op: "dial", Err: fmt.Errorf("bridge: unsupported on this platform")}
}
