// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package varlink

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"strconv"

	"go.varlink.dev/varlink/varlinkaddr"
)

func chmodSocket(path string, mode uint32) error {
	return os.Chmod(path, os.FileMode(mode))
}

func chown(path string, uid, gid int) error {
	return os.Chown(path, uid, gid)
}

func listenUnix(addr varlinkaddr.Address) (net.Listener, error) {
	network := "@" + addr.Path
	if !addr.Abstract {
		network = addr.Path
	}

	l, err := net.Listen("unix", network)
	if err != nil {
		return nil, &ConnectionError{Op: "listen", Err: err}
	}

	if addr.Abstract {
		return l, nil
	}

	ul := l.(*net.UnixListener)
	// Filesystem sockets are unlinked on close; abstract addresses never
	// created a filesystem node to begin with.
	ul.SetUnlinkOnClose(true)

	if addr.Mode != nil {
		if err := chmodSocket(addr.Path, *addr.Mode); err != nil {
			l.Close()
			return nil, &ConnectionError{Op: "listen", Err: err}
		}
	}
	if addr.User != "" || addr.Group != "" {
		if err := chownSocket(addr.Path, addr.User, addr.Group); err != nil {
			l.Close()
			return nil, &ConnectionError{Op: "listen", Err: err}
		}
	}
	return l, nil
}

func dialUnix(addr varlinkaddr.Address) (net.Conn, error) {
	network := addr.Path
	if addr.Abstract {
		network = "@" + addr.Path
	}
	conn, err := net.Dial("unix", network)
	if err != nil {
		return nil, &ConnectionError{Op: "dial", Err: err}
	}
	return conn, nil
}

func lookupUID(name string) (int, error) {
	if id, err := strconv.Atoi(name); err == nil {
		return id, nil
	}
	u, err := user.Lookup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(u.Uid)
}

func lookupGID(name string) (int, error) {
	if id, err := strconv.Atoi(name); err == nil {
		return id, nil
	}
	g, err := user.LookupGroup(name)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}

func chownSocket(path, userName, groupName string) error {
	uid, gid := -1, -1
	var err error
	if userName != "" {
		uid, err = lookupUID(userName)
		if err != nil {
			return fmt.Errorf("user %q: %w", userName, err)
		}
	}
	if groupName != "" {
		gid, err = lookupGID(groupName)
		if err != nil {
			return fmt.Errorf("group %q: %w", groupName, err)
		}
	}
	return chown(path, uid, gid)
}
