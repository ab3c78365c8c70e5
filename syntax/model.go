// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package syntax

import (
	"encoding/json"
	"fmt"
)

// Model is the runtime type model of a parsed interface: symbol tables
// from name to definition, built once and consulted by both the client
// (to validate outgoing arguments before writing them to the wire) and
// the server (to validate incoming parameters before dispatch).
//
// Unlike the codegen tool, which produces Go types at build time, Model
// lets callers validate against an interface description fetched at
// runtime over GetInterfaceDescription -- no code generation required.
type Model struct {
	Interface InterfaceDef

	types   map[string]TypeDef
	methods map[string]MethodDef
	errors  map[string]ErrorDef
}

// NewModel builds a Model by walking intf once.
func NewModel(intf InterfaceDef) *Model {
	m := &Model{
		Interface: intf,
		types:     make(map[string]TypeDef, len(intf.Types)),
		methods:   make(map[string]MethodDef, len(intf.Methods)),
		errors:    make(map[string]ErrorDef, len(intf.Errors)),
	}
	for _, t := range intf.Types {
		m.types[t.Name] = t
	}
	for _, meth := range intf.Methods {
		m.methods[meth.Name] = meth
	}
	for _, e := range intf.Errors {
		m.errors[e.Name] = e
	}
	return m
}

// TypeDef looks up a named type defined by the interface.
func (m *Model) TypeDef(name string) (TypeDef, bool) {
	t, ok := m.types[name]
	return t, ok
}

// Method looks up a method defined by the interface.
func (m *Model) Method(name string) (MethodDef, bool) {
	meth, ok := m.methods[name]
	return meth, ok
}

// ErrorDef looks up an error type defined by the interface.
func (m *Model) ErrorDef(name string) (ErrorDef, bool) {
	e, ok := m.errors[name]
	return e, ok
}

// ValidationError reports that a JSON value does not conform to a
// varlink type, at the given dotted field path.
type ValidationError struct {
	Path string
	Err  error
}

func (e *ValidationError) Error() string {
	if e.Path == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Validate checks that raw decodes into typ according to the interface's
// type model, resolving any NamedType references against m. It does not
// allocate a destination value -- it merely walks raw far enough to
// confirm shape and field presence, which is all a server needs before
// dispatch, and all a client needs before it writes arguments to the
// wire.
func (m *Model) Validate(typ Type, raw json.RawMessage) error {
	return m.validate("", typ, raw)
}

func (m *Model) validate(path string, typ Type, raw json.RawMessage) error {
	switch t := typ.(type) {
	case NullableType:
		if isJSONNull(raw) {
			return nil
		}
		return m.validate(path, t.Type, raw)

	case NamedType:
		def, ok := m.types[t.Name]
		if !ok {
			return &ValidationError{Path: path, Err: fmt.Errorf("unknown type %q", t.Name)}
		}
		return m.validate(path, def.Type, raw)

	case BuiltinType:
		return validateBuiltin(path, t.Name, raw)

	case StructType:
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil {
			return &ValidationError{Path: path, Err: fmt.Errorf("expected object: %w", err)}
		}
		for _, f := range t.Fields {
			v, ok := fields[f.Name]
			if !ok {
				if _, nullable := f.Type.(NullableType); nullable {
					continue
				}
				return &ValidationError{Path: path, Err: fmt.Errorf("missing field %q", f.Name)}
			}
			if err := m.validate(joinPath(path, f.Name), f.Type, v); err != nil {
				return err
			}
		}
		return nil

	case EnumType:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return &ValidationError{Path: path, Err: fmt.Errorf("expected enum value: %w", err)}
		}
		for _, v := range t.Values {
			if v.Name == s {
				return nil
			}
		}
		return &ValidationError{Path: path, Err: fmt.Errorf("%q is not a valid enum value", s)}

	case ArrayType:
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return &ValidationError{Path: path, Err: fmt.Errorf("expected array: %w", err)}
		}
		for i, item := range items {
			if err := m.validate(fmt.Sprintf("%s[%d]", path, i), t.ElemType, item); err != nil {
				return err
			}
		}
		return nil

	case DictType:
		var entries map[string]json.RawMessage
		if err := json.Unmarshal(raw, &entries); err != nil {
			return &ValidationError{Path: path, Err: fmt.Errorf("expected object: %w", err)}
		}
		for k, v := range entries {
			if err := m.validate(joinPath(path, k), t.ElemType, v); err != nil {
				return err
			}
		}
		return nil

	default:
		return &ValidationError{Path: path, Err: fmt.Errorf("unhandled type %T", typ)}
	}
}

func validateBuiltin(path, name string, raw json.RawMessage) error {
	var v interface{}
	switch name {
	case "bool":
		var b bool
		if err := json.Unmarshal(raw, &b); err != nil {
			return &ValidationError{Path: path, Err: fmt.Errorf("expected bool: %w", err)}
		}
		return nil
	case "int":
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return &ValidationError{Path: path, Err: fmt.Errorf("expected int: %w", err)}
		}
		if _, err := n.Int64(); err != nil {
			return &ValidationError{Path: path, Err: fmt.Errorf("expected int: %s has a fractional or out-of-range value", n)}
		}
		return nil
	case "float":
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return &ValidationError{Path: path, Err: fmt.Errorf("expected float: %w", err)}
		}
		return nil
	case "string":
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return &ValidationError{Path: path, Err: fmt.Errorf("expected string: %w", err)}
		}
		return nil
	case "object", "any":
		if err := json.Unmarshal(raw, &v); err != nil {
			return &ValidationError{Path: path, Err: fmt.Errorf("expected value: %w", err)}
		}
		return nil
	default:
		return &ValidationError{Path: path, Err: fmt.Errorf("unknown builtin type %q", name)}
	}
}

func isJSONNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}

func joinPath(path, field string) string {
	if path == "" {
		return field
	}
	return path + "." + field
}
