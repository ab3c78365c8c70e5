// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

// Command varlink is a CLI front-end for calling and introspecting
// varlink services, and for bridging a remote peer's protocol stream
// onto the local resolver.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	logging "github.com/op/go-logging"
	"github.com/urfave/cli/v2"

	varlink "go.varlink.dev/varlink"
	"go.varlink.dev/varlink/org.varlink.service"
)

var log = logging.MustGetLogger("varlink-cli")

// exitError carries the process exit code a command should terminate
// with, per the convention: 0 success, 1 connection errors, 2
// protocol/invalid-argument errors, 3 a varlink-level error reply.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func connErr(err error) error     { return &exitError{code: 1, err: err} }
func protocolErr(err error) error { return &exitError{code: 2, err: err} }
func replyErr(err error) error    { return &exitError{code: 3, err: err} }

func red(s string) string {
	c := color.New(color.FgHiRed)
	c.EnableColor()
	return c.SprintFunc()(s)
}

func yellow(s string) string {
	c := color.New(color.FgHiYellow)
	c.EnableColor()
	return c.SprintFunc()(s)
}

// splitAddrMethod splits an "ADDR/INTERFACE.METHOD" or "ADDR/INTERFACE"
// argument at the last "/", which the address grammar reserves for the
// trailing interface suffix.
func splitAddrMethod(target string) (addr, rest string, err error) {
	i := strings.LastIndexByte(target, '/')
	if i == -1 {
		return "", "", fmt.Errorf("%q: missing /interface[.method] suffix", target)
	}
	return target[:i], target[i+1:], nil
}

func main() {
	app := &cli.App{
		Name:  "varlink",
		Usage: "call and introspect varlink services",
		Commands: []*cli.Command{
			{
				Name:      "help",
				Usage:     "print the IDL text of an interface",
				ArgsUsage: "ADDR/INTERFACE",
				Action:    helpCommand,
			},
			{
				Name:      "info",
				Usage:     "print vendor/product/interface info for a service",
				ArgsUsage: "ADDR",
				Action:    infoCommand,
			},
			{
				Name:      "call",
				Usage:     "invoke a method and print each reply as JSON",
				ArgsUsage: "ADDR/INTERFACE.METHOD [JSON]",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "more", Usage: "keep printing replies until the stream terminates"},
					&cli.BoolFlag{Name: "oneway", Usage: "send the call and do not wait for a reply"},
				},
				Action: callCommand,
			},
			{
				Name:   "bridge",
				Usage:  "relay NUL-terminated JSON frames on stdin to resolved services, replies to stdout",
				Action: bridgeCommand,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		var ee *exitError
		if !errors.As(err, &ee) {
			ee = &exitError{code: 2, err: err}
		}
		fmt.Fprintln(os.Stderr, red(ee.err.Error()))
		os.Exit(ee.code)
	}
}

func helpCommand(c *cli.Context) error {
	target := c.Args().First()
	if target == "" {
		return protocolErr(errors.New("help: missing ADDR/INTERFACE argument"))
	}

	addr, intf, err := splitAddrMethod(target)
	if err != nil {
		return protocolErr(err)
	}

	client := &varlink.Client{}
	out, err := service.GetInterfaceDescription(context.Background(), client, intf, varlink.CallURI(addr))
	if err != nil {
		return classifyErr(err)
	}

	fmt.Println(out.Description)
	return nil
}

func infoCommand(c *cli.Context) error {
	addr := c.Args().First()
	if addr == "" {
		return protocolErr(errors.New("info: missing ADDR argument"))
	}

	client := &varlink.Client{}
	out, err := service.GetInfo(context.Background(), client, varlink.CallURI(addr))
	if err != nil {
		return classifyErr(err)
	}

	fmt.Printf("%s %s %s\n%s\n", out.Vendor, out.Product, out.Version, out.Url)
	for _, i := range out.Interfaces {
		fmt.Println("  " + i)
	}
	return nil
}

func callCommand(c *cli.Context) error {
	target := c.Args().First()
	if target == "" {
		return protocolErr(errors.New("call: missing ADDR/INTERFACE.METHOD argument"))
	}

	addr, method, err := splitAddrMethod(target)
	if err != nil {
		return protocolErr(err)
	}

	var params json.RawMessage
	if raw := c.Args().Get(1); raw != "" {
		if !json.Valid([]byte(raw)) {
			return protocolErr(fmt.Errorf("call: invalid JSON parameters: %s", raw))
		}
		params = json.RawMessage(raw)
	} else {
		params = json.RawMessage("{}")
	}

	opts := []varlink.CallOption{varlink.CallURI(addr)}
	if c.Bool("more") {
		opts = append(opts, varlink.More())
	}
	if c.Bool("oneway") {
		opts = append(opts, varlink.OneWay())
	}

	client := &varlink.Client{}
	rs, err := client.Call(context.Background(), method, params, opts...)
	if err != nil {
		return classifyErr(err)
	}

	if c.Bool("oneway") {
		return nil
	}

	for rs.Next() {
		payload, err := json.Marshal(rs.Reply())
		if err != nil {
			return protocolErr(err)
		}
		fmt.Println(string(payload))
		if !c.Bool("more") {
			break
		}
	}

	return classifyErr(rs.Error())
}

// bridgeCommand relays NUL-terminated JSON call frames read from stdin
// to the service that org.varlink.resolver resolves each one to,
// writing NUL-terminated reply frames to stdout.
func bridgeCommand(c *cli.Context) error {
	resolver := varlink.DefaultResolver
	client := &varlink.Client{Resolver: resolver}

	r := bufio.NewReader(os.Stdin)
	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()

	for {
		frame, err := r.ReadBytes('\x00')
		switch {
		case err == nil:
			frame = frame[:len(frame)-1]
		case errors.Is(err, io.EOF) && len(frame) == 0:
			return nil
		case errors.Is(err, io.EOF):
			log.Errorf("bridge: partial frame at eof, discarding")
			return nil
		default:
			return connErr(err)
		}

		var call varlink.Call
		if err := json.Unmarshal(frame, &call); err != nil {
			log.Errorf("bridge: malformed frame: %v", err)
			continue
		}

		rs, err := client.Call(context.Background(), call.Method, call.Parameters)
		if err != nil {
			log.Errorf("bridge: %s: %v", call.Method, err)
			continue
		}

		for rs.Next() {
			payload, err := json.Marshal(rs.Reply())
			if err != nil {
				log.Errorf("bridge: marshal reply: %v", err)
				break
			}
			if _, err := w.Write(payload); err != nil {
				return connErr(err)
			}
			if err := w.WriteByte(0); err != nil {
				return connErr(err)
			}
			if err := w.Flush(); err != nil {
				return connErr(err)
			}
		}
	}
}

// classifyErr maps an error from a Client.Call/ReplyStream into the
// command's exit code taxonomy: connection errors, protocol errors, and
// varlink-level error replies are distinguished so the caller's exit
// code tells them which.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}

	var connErrT *varlink.ConnectionError
	if errors.As(err, &connErrT) {
		return connErr(err)
	}

	if verr, ok := varlink.AsVarlinkError(err); ok {
		return replyErr(fmt.Errorf("%s", yellow(verr.Code)))
	}

	return protocolErr(err)
}
