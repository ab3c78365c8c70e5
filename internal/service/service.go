// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

// Package service holds the subset of org.varlink.service generated types
// that the core package needs to dispatch built-in calls. It is kept
// separate from the public org.varlink.service package to avoid an import
// cycle: the public package's client stubs import go.varlink.dev/varlink,
// which in turn needs these types to implement the reactor's built-in
// handler.
package service

import "encoding/json"

// InterfaceName is the fully-qualified name of this interface.
const InterfaceName = "org.varlink.service"

// Description is the raw IDL text of this interface, returned verbatim by
// GetInterfaceDescription (introspection is required to be byte-identical
// to the authoritative source, see the parser's round-trip invariant).
const Description = `# The Varlink Service Interface is provided by every varlink service. It
# describes the service and the interfaces it implements.
interface org.varlink.service

# Get a list of all the interfaces a service provides and information
# about the implementation.
method GetInfo() -> (
	vendor: string,
	product: string,
	version: string,
	url: string,
	interfaces: []string
)

# Get the description of an interface that is implemented by this service.
method GetInterfaceDescription(interface: string) -> (description: string)

# The requested interface was not found.
error InterfaceNotFound (interface: string)

# The requested method was not found
error MethodNotFound (method: string)

# The interface defines the requested method, but the service does not
# implement it.
error MethodNotImplemented (method: string)

# One of the passed parameters is invalid.
error InvalidParameter (parameter: string)
`

// GetInfoOutput is the return value of GetInfo.
type GetInfoOutput struct {
	Vendor     string   `json:"vendor"`
	Product    string   `json:"product"`
	Version    string   `json:"version"`
	Url        string   `json:"url"`
	Interfaces []string `json:"interfaces"`
}

// GetInterfaceDescriptionInput is the input of GetInterfaceDescription.
type GetInterfaceDescriptionInput struct {
	Interface string `json:"interface"`
}

// GetInterfaceDescriptionOutput is the return value of
// GetInterfaceDescription.
type GetInterfaceDescriptionOutput struct {
	Description string `json:"description"`
}

type errorValue struct {
	code   string
	params any
}

func (err *errorValue) Error() string {
	return err.code
}

func (err *errorValue) ErrorCode() string {
	return err.code
}

func (err *errorValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(err.params)
}

// InterfaceNotFound builds the org.varlink.service.InterfaceNotFound error.
func InterfaceNotFound(intf string) *errorValue {
	return &errorValue{
		code:   InterfaceName + ".InterfaceNotFound",
		params: struct{ Interface string `json:"interface"` }{intf},
	}
}

// MethodNotFound builds the org.varlink.service.MethodNotFound error.
func MethodNotFound(method string) *errorValue {
	return &errorValue{
		code:   InterfaceName + ".MethodNotFound",
		params: struct{ Method string `json:"method"` }{method},
	}
}

// MethodNotImplemented builds the org.varlink.service.MethodNotImplemented error.
func MethodNotImplemented(method string) *errorValue {
	return &errorValue{
		code:   InterfaceName + ".MethodNotImplemented",
		params: struct{ Method string `json:"method"` }{method},
	}
}

// InvalidParameter builds the org.varlink.service.InvalidParameter error.
func InvalidParameter(parameter string) *errorValue {
	return &errorValue{
		code:   InterfaceName + ".InvalidParameter",
		params: struct {
			Parameter string `json:"parameter"`
		}{parameter},
	}
}
