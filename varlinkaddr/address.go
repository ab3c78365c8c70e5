// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

// Package varlinkaddr parses and renders the Varlink connection address
// grammar:
//
//	<scheme>:<scheme-body>[/<interface-name>]
//	scheme := "unix" | "tcp" | "exec" | "ssh" | "bridge"
//
// It is a superset of the bare <scheme>:<addr> shape that
// go.varlink.dev/varlink.URI handles: URI is kept as a two-field
// compatibility alias for callers that only ever dealt with unix/tcp
// addresses, while Address is the typed form every transport in this
// module dials and listens against.
package varlinkaddr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Scheme identifies which transport an Address selects.
type Scheme string

const (
	Unix   Scheme = "unix"
	TCP    Scheme = "tcp"
	Exec   Scheme = "exec"
	SSH    Scheme = "ssh"
	Bridge Scheme = "bridge"
)

// ErrCannotConnect is returned for any address that cannot be parsed:
// malformed port numbers, empty paths, unterminated IPv6 literals, or
// unknown schemes -- mirroring the single CannotConnect error class
// that a peer would see for all of these over the wire.
var ErrCannotConnect = errors.New("cannot connect")

// Address is a parsed Varlink connection address.
type Address struct {
	Scheme Scheme

	// Interface is the default interface name carried by a trailing
	// "/<interface>" suffix. Empty means no default: callers must
	// qualify method names with their own interface prefix.
	Interface string

	// Unix fields.
	Path     string // filesystem path, or the bare name after "@" for abstract sockets
	Abstract bool
	Mode     *uint32 // nil means no chmod on bind
	User     string
	Group    string

	// TCP fields.
	Host string
	Port int
	IPv6 bool

	// Exec/SSH/Bridge fields.
	Argv []string // exec: argv[0] is the path to spawn; bridge: shell-parsed command
	Host2 string  // ssh: the remote host
}

func (a Address) String() string {
	var body string
	switch a.Scheme {
	case Unix:
		body = a.unixBody()
	case TCP:
		body = a.tcpBody()
	case Exec, Bridge:
		body = strings.Join(a.Argv, " ")
	case SSH:
		body = a.Host2
	}
	s := fmt.Sprintf("%s:%s", a.Scheme, body)
	if a.Interface != "" {
		s += "/" + a.Interface
	}
	return s
}

func (a Address) unixBody() string {
	var sb strings.Builder
	if a.Abstract {
		sb.WriteByte('@')
	}
	sb.WriteString(a.Path)
	if a.Mode != nil {
		fmt.Fprintf(&sb, ";mode=%o", *a.Mode)
	}
	if a.User != "" {
		fmt.Fprintf(&sb, ";user=%s", a.User)
	}
	if a.Group != "" {
		fmt.Fprintf(&sb, ";group=%s", a.Group)
	}
	return sb.String()
}

func (a Address) tcpBody() string {
	host := a.Host
	if a.IPv6 {
		host = "[" + host + "]"
	}
	return fmt.Sprintf("%s:%d", host, a.Port)
}

// Parse parses a Varlink connection address.
func Parse(s string) (Address, error) {
	scheme, rest, ok := strings.Cut(s, ":")
	if !ok {
		return Address{}, fmt.Errorf("parsing %q: %w: not in the form <scheme>:<body>", s, ErrCannotConnect)
	}

	body, intf := splitTrailingInterface(rest)

	var (
		addr Address
		err  error
	)
	switch Scheme(scheme) {
	case Unix:
		addr, err = parseUnix(body)
	case TCP:
		addr, err = parseTCP(body)
	case Exec:
		addr, err = parseExec(body)
	case SSH:
		addr, err = parseSSH(body)
	case Bridge:
		addr, err = parseBridge(body)
	default:
		return Address{}, fmt.Errorf("parsing %q: %w: unknown scheme %q", s, ErrCannotConnect, scheme)
	}
	if err != nil {
		return Address{}, fmt.Errorf("parsing %q: %w", s, err)
	}

	addr.Scheme = Scheme(scheme)
	addr.Interface = intf
	return addr, nil
}

// splitTrailingInterface strips a trailing "/<interface>" suffix, which
// is unambiguous because none of the five scheme bodies can themselves
// contain an unescaped "/" in a position that would be confused with it
// except exec:/bridge: argv, which this is called on before argv
// splitting -- so a literal "/" in a spawned path is not supported as
// the address grammar reserves it for the interface suffix.
func splitTrailingInterface(body string) (rest, intf string) {
	i := strings.LastIndexByte(body, '/')
	if i == -1 {
		return body, ""
	}
	return body[:i], body[i+1:]
}

func parseUnix(body string) (Address, error) {
	path, props, _ := strings.Cut(body, ";")
	if path == "" {
		return Address{}, fmt.Errorf("%w: empty path", ErrCannotConnect)
	}

	addr := Address{}
	if strings.HasPrefix(path, "@") {
		addr.Abstract = true
		addr.Path = path[1:]
	} else {
		addr.Path = path
	}

	for props != "" {
		var kv string
		kv, props, _ = strings.Cut(props, ";")
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return Address{}, fmt.Errorf("%w: malformed property %q", ErrCannotConnect, kv)
		}
		switch key {
		case "mode":
			m, err := strconv.ParseUint(val, 8, 32)
			if err != nil {
				return Address{}, fmt.Errorf("%w: malformed mode %q: %v", ErrCannotConnect, val, err)
			}
			mode := uint32(m)
			addr.Mode = &mode
		case "user":
			addr.User = val
		case "group":
			addr.Group = val
		default:
			// Reserved for future extensions; ignored rather than
			// rejected, matching go-varlink's own tolerance of unknown
			// connection properties.
		}
	}
	return addr, nil
}

func parseTCP(body string) (Address, error) {
	if body == "" {
		return Address{}, fmt.Errorf("%w: empty address", ErrCannotConnect)
	}

	var host, port string
	if strings.HasPrefix(body, "[") {
		end := strings.IndexByte(body, ']')
		if end == -1 {
			return Address{}, fmt.Errorf("%w: unterminated IPv6 literal", ErrCannotConnect)
		}
		host = body[1:end]
		rest := body[end+1:]
		rest = strings.TrimPrefix(rest, ":")
		port = rest

		p, err := strconv.Atoi(port)
		if err != nil || p < 0 || p > 65535 {
			return Address{}, fmt.Errorf("%w: malformed port %q", ErrCannotConnect, port)
		}
		return Address{Host: host, Port: p, IPv6: true}, nil
	}

	i := strings.LastIndexByte(body, ':')
	if i == -1 {
		return Address{}, fmt.Errorf("%w: missing port in %q", ErrCannotConnect, body)
	}
	host, port = body[:i], body[i+1:]
	if host == "" {
		return Address{}, fmt.Errorf("%w: empty host", ErrCannotConnect)
	}
	if strings.IndexByte(host, ':') != -1 {
		return Address{}, fmt.Errorf("%w: IPv6 address %q must be bracketed", ErrCannotConnect, host)
	}

	p, err := strconv.Atoi(port)
	if err != nil || p < 0 || p > 65535 {
		return Address{}, fmt.Errorf("%w: malformed port %q", ErrCannotConnect, port)
	}
	return Address{Host: host, Port: p}, nil
}

func parseExec(body string) (Address, error) {
	argv := strings.Fields(body)
	if len(argv) == 0 {
		return Address{}, fmt.Errorf("%w: empty command", ErrCannotConnect)
	}
	return Address{Argv: argv}, nil
}

func parseBridge(body string) (Address, error) {
	argv, err := splitShellWords(body)
	if err != nil {
		return Address{}, fmt.Errorf("%w: %v", ErrCannotConnect, err)
	}
	if len(argv) == 0 {
		return Address{}, fmt.Errorf("%w: empty command", ErrCannotConnect)
	}
	return Address{Argv: argv}, nil
}

func parseSSH(body string) (Address, error) {
	if body == "" {
		return Address{}, fmt.Errorf("%w: empty host", ErrCannotConnect)
	}
	return Address{Host2: body}, nil
}

// splitShellWords performs a minimal POSIX-ish word split, honoring
// single and double quotes, for the bridge: command grammar.
func splitShellWords(s string) ([]string, error) {
	var (
		words []string
		cur   strings.Builder
		inTok bool
	)
	runes := []rune(s)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch r {
		case ' ', '\t':
			if inTok {
				words = append(words, cur.String())
				cur.Reset()
				inTok = false
			}
		case '\'':
			inTok = true
			i++
			for i < len(runes) && runes[i] != '\'' {
				cur.WriteRune(runes[i])
				i++
			}
			if i >= len(runes) {
				return nil, errors.New("unterminated single quote")
			}
		case '"':
			inTok = true
			i++
			for i < len(runes) && runes[i] != '"' {
				cur.WriteRune(runes[i])
				i++
			}
			if i >= len(runes) {
				return nil, errors.New("unterminated double quote")
			}
		default:
			inTok = true
			cur.WriteRune(r)
		}
	}
	if inTok {
		words = append(words, cur.String())
	}
	return words, nil
}
