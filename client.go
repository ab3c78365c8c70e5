// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package varlink

import (
	"context"
	"errors"
	"strings"

	"go.varlink.dev/varlink/internal/service"
	"go.varlink.dev/varlink/syntax"
)

var DefaultClient = &Client{}

type Client struct {
	// The RoundTripper to make calls with. If nil, DefaultTransport is used.
	Transport RoundTripper

	// Resolver resolves a bare interface name into an address when Call
	// is given a method name without a URI attached. If nil,
	// DefaultResolver is used.
	Resolver *Resolver

	cache ModelCache
}

// Call performs a method call with the specified parameters and options using
// the underlying Transport.
func (client *Client) Call(ctx context.Context, method string, params any, opts ...CallOption) (*ReplyStream, error) {
	call, err := MakeCall(method, params, opts...)
	if err != nil {
		return nil, err
	}

	if call.URI == (URI{}) && method != ResolverInterfaceName+".Resolve" {
		if i := strings.LastIndexByte(method, '.'); i != -1 {
			if addr, rerr := client.resolver().Resolve(ctx, method[:i]); rerr == nil {
				if u, uerr := ParseURI(addr); uerr == nil {
					call.URI = u
				}
			}
		}
	}

	if verr := client.validateArguments(ctx, &call); verr != nil {
		return nil, verr
	}

	transport := client.Transport
	if transport == nil {
		transport = DefaultTransport
	}

	return transport.RoundTrip(ctx, nil, &call)
}

// validateArguments checks call.Parameters against the target method's
// input struct before anything is written to the wire, fetching and
// memoizing the interface's type model over GetInterfaceDescription on
// first use. A peer that doesn't support introspection, or a method the
// fetched model doesn't know about, is not a validation failure -- there
// is simply nothing to check against, so the call proceeds unvalidated.
// The bootstrap calls Model itself makes are skipped to avoid recursing
// into validation of its own GetInterfaceDescription/Resolve calls.
func (client *Client) validateArguments(ctx context.Context, call *Call) error {
	i := strings.LastIndexByte(call.Method, '.')
	if i == -1 {
		return nil
	}
	intf, meth := call.Method[:i], call.Method[i+1:]
	if intf == service.InterfaceName || intf == ResolverInterfaceName {
		return nil
	}

	model, err := client.Model(ctx, intf)
	if err != nil {
		return nil
	}

	methodDef, ok := model.Method(meth)
	if !ok {
		return nil
	}

	if verr := model.Validate(methodDef.Input, call.Parameters); verr != nil {
		return service.InvalidParameter(validationField(verr))
	}
	return nil
}

// validationField extracts the top-level field name from a
// syntax.ValidationError's dotted path, for use as the "parameter" value
// of an InvalidParameter error.
func validationField(err error) string {
	var verr *syntax.ValidationError
	if errors.As(err, &verr) && verr.Path != "" {
		if i := strings.IndexAny(verr.Path, ".["); i != -1 {
			return verr.Path[:i]
		}
		return verr.Path
	}
	return ""
}

// DoCall performs a method call with the default client and context.Background().
func DoCall(method string, params any, opts ...CallOption) (*ReplyStream, error) {
	return DoCallContext(context.Background(), method, params, opts...)
}

// DoCallContext performs a method call with the default client.
func DoCallContext(ctx context.Context, method string, params any, opts ...CallOption) (*ReplyStream, error) {
	return DefaultClient.Call(ctx, method, params, opts...)
}
