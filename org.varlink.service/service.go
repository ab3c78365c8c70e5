// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

// Package service is the generated client package for org.varlink.service,
// the introspection interface that every varlink service must implement.
//
// Unlike internal/service, this package is safe to use from callers: it
// exposes typed call helpers on top of go.varlink.dev/varlink, plus the
// parsed syntax.InterfaceDef for tooling that wants to walk the interface
// programmatically instead of re-parsing Description.
package service

import (
	"context"
	"encoding/json"
	"strings"

	varlink "go.varlink.dev/varlink"
	"go.varlink.dev/varlink/syntax"
)

//go:generate go run go.varlink.dev/varlink/cmd/codegen -output=service.go ../idl/org.varlink.service.varlink

// InterfaceName is the fully-qualified name of this interface.
const InterfaceName = "org.varlink.service"

// Description is the raw IDL text of this interface.
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

// Definition is the parsed form of Description, built once at init time so
// that tools can inspect the interface without re-parsing its source.
var Definition = mustParse(Description)

func mustParse(src string) syntax.InterfaceDef {
	intf, err := syntax.NewParser(strings.NewReader(src)).Parse()
	if err != nil {
		panic("org.varlink.service: built-in description failed to parse: " + err.Error())
	}
	return intf
}

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

// GetInfo calls org.varlink.service.GetInfo on the given client.
func GetInfo(ctx context.Context, client *varlink.Client, opts ...varlink.CallOption) (out GetInfoOutput, err error) {
	rs, err := client.Call(ctx, InterfaceName+".GetInfo", nil, opts...)
	if err != nil {
		return out, err
	}
	if !rs.Next() {
		return out, rs.Error()
	}
	if verr := rs.Unmarshal(&out); verr != nil {
		return out, verr
	}
	return out, rs.Error()
}

// GetInterfaceDescription calls org.varlink.service.GetInterfaceDescription
// on the given client.
func GetInterfaceDescription(ctx context.Context, client *varlink.Client, intf string, opts ...varlink.CallOption) (out GetInterfaceDescriptionOutput, err error) {
	in := GetInterfaceDescriptionInput{Interface: intf}
	rs, err := client.Call(ctx, InterfaceName+".GetInterfaceDescription", &in, opts...)
	if err != nil {
		return out, err
	}
	if !rs.Next() {
		return out, rs.Error()
	}
	if verr := rs.Unmarshal(&out); verr != nil {
		return out, verr
	}
	return out, rs.Error()
}

type errorValue struct {
	code   string
	params any
}

func (err *errorValue) Error() string       { return err.code }
func (err *errorValue) ErrorCode() string   { return err.code }
func (err *errorValue) MarshalJSON() ([]byte, error) {
	return json.Marshal(err.params)
}

// InterfaceNotFound builds the org.varlink.service.InterfaceNotFound error.
func InterfaceNotFound(intf string) *errorValue {
	return &errorValue{code: InterfaceName + ".InterfaceNotFound", params: struct {
		Interface string `json:"interface"`
	}{intf}}
}

// MethodNotFound builds the org.varlink.service.MethodNotFound error.
func MethodNotFound(method string) *errorValue {
	return &errorValue{code: InterfaceName + ".MethodNotFound", params: struct {
		Method string `json:"method"`
	}{method}}
}

// MethodNotImplemented builds the org.varlink.service.MethodNotImplemented error.
func MethodNotImplemented(method string) *errorValue {
	return &errorValue{code: InterfaceName + ".MethodNotImplemented", params: struct {
		Method string `json:"method"`
	}{method}}
}

// InvalidParameter builds the org.varlink.service.InvalidParameter error.
func InvalidParameter(parameter string) *errorValue {
	return &errorValue{code: InterfaceName + ".InvalidParameter", params: struct {
		Parameter string `json:"parameter"`
	}{parameter}}
}
