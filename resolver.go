// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package varlink

import (
	"context"
)

// ResolverInterfaceName is the fully-qualified name of the resolver
// interface that maps bare interface names to addresses.
const ResolverInterfaceName = "org.varlink.resolver"

// DefaultResolverAddress is where the system resolver is conventionally
// reachable -- the same well-known abstract socket org.varlink.resolver
// itself listens on.
const DefaultResolverAddress = "unix:@org.varlink.resolver"

// DefaultResolver resolves bare interface names against
// DefaultResolverAddress.
var DefaultResolver = &Resolver{Address: DefaultResolverAddress}

// Resolver is a client for org.varlink.resolver.Resolve(interface:
// string) -> (address: string), consulted by a Client that was handed a
// bare interface name instead of a full connection address. Resolution
// is deliberately "just another interface call": this module has no
// service discovery mechanism of its own beyond calling this interface
// like any other.
type Resolver struct {
	// Address is the connection address of the resolver service.
	Address string

	// Client is the underlying Client used to reach the resolver. If
	// nil, DefaultClient is used.
	Client *Client
}

type resolveInput struct {
	Interface string `json:"interface"`
}

type resolveOutput struct {
	Address string `json:"address"`
}

// Resolve looks up the connection address serving intf.
func (r *Resolver) Resolve(ctx context.Context, intf string) (string, error) {
	client := r.Client
	if client == nil {
		client = DefaultClient
	}

	rs, err := client.Call(ctx, ResolverInterfaceName+".Resolve", &resolveInput{Interface: intf}, CallURI(r.Address))
	if err != nil {
		return "", err
	}
	if !rs.Next() {
		return "", rs.Error()
	}

	var out resolveOutput
	if verr := rs.Unmarshal(&out); verr != nil {
		return "", verr
	}
	return out.Address, nil
}

func (client *Client) resolver() *Resolver {
	if client.Resolver != nil {
		return client.Resolver
	}
	return DefaultResolver
}
