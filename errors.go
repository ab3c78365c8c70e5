// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package varlink

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.varlink.dev/varlink/syntax"
)

var ErrPeerDisconnected errDisconnected

// ConnectionError reports a transport-level failure that isn't a wire
// error reply -- a frame over MaxFrameSize, a malformed envelope, a
// dial or accept failure. It never carries an error code a client could
// dispatch on; callers that need to distinguish it from a protocol error
// reply should use errors.As.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Op == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("varlink: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// IDLError reports that a service's interface description failed to
// parse as Varlink IDL, whether read from a local source file or
// fetched from a peer via GetInterfaceDescription.
type IDLError struct {
	Interface string
	Err       *syntax.Error
}

func (e *IDLError) Error() string {
	return fmt.Sprintf("varlink: interface %q: %v", e.Interface, e.Err)
}

func (e *IDLError) Unwrap() error {
	return e.Err
}

// VarlinkError is the exported form of a wire error reply, as returned by
// AsVarlinkError.
type VarlinkError struct {
	Code       string
	Parameters json.RawMessage
}

func (e *VarlinkError) Error() string {
	return e.Code
}

func (e *VarlinkError) ErrorCode() string {
	return e.Code
}

func (e *VarlinkError) Unmarshal(v any) error {
	if len(e.Parameters) == 0 {
		return nil
	}
	return json.Unmarshal(e.Parameters, v)
}

// AsVarlinkError reports whether err is (or wraps) a wire error reply,
// and if so returns its exported form.
func AsVarlinkError(err error) (*VarlinkError, bool) {
	var verr *varlinkError
	if !errors.As(err, &verr) {
		return nil, false
	}
	return &VarlinkError{Code: verr.Code, Parameters: verr.Parameters}, true
}

// Error represents all varlink errors. Errors consist of a fully qualified
// error code in the form of (e.g. org.interface.ErrorType), and parameters.
//
// Parameters are obtained by json-marshaling the error value. Errors may
// implement json.Marshaler to customize that behaviour.
type Error interface {
	error

	ErrorCode() string
}

type varlinkError struct {
	Code       string
	Parameters json.RawMessage
}

func NewError(code string, kvs ...any) Error {
	if len(kvs)%2 != 0 {
		panic("programming error: key-value pair list has odd number of elements")
	}

	params := make(map[string]any, len(kvs)/2)
	for i := 0; i < len(kvs); i += 2 {
		key, val := kvs[i].(string), kvs[i+1]
		params[key] = val
	}

	verr := &varlinkError{Code: code}

	if len(params) != 0 {
		data, err := json.Marshal(params)
		if err != nil {
			panic(fmt.Sprintf("NewVarlinkError: values don't marshal: %v", err))
		}

		verr.Parameters = json.RawMessage(data)
	}

	return verr
}

func (err *varlinkError) Error() string {
	return err.Code
}

func (err *varlinkError) ErrorCode() string {
	return err.Code
}

func (err *varlinkError) MarshalJSON() ([]byte, error) {
	return []byte(err.Parameters), nil
}
