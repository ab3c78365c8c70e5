// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package syntax

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Format re-emits an InterfaceDef as canonical Varlink IDL source, to
// pretty-print interfaces parsed from a less canonically formatted
// source. GetInterfaceDescription does not go through Format: ServeMux
// replies with the description text exactly as it was registered.
func Format(w io.Writer, intf InterfaceDef) error {
	bw := bufio.NewWriter(w)
	f := &formatter{w: bw}
	f.interfaceDef(intf)
	if f.err != nil {
		return f.err
	}
	return bw.Flush()
}

// FormatString is a convenience wrapper around Format.
func FormatString(intf InterfaceDef) (string, error) {
	var sb strings.Builder
	if err := Format(&sb, intf); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Normalise parses src and re-emits it through Format, collapsing
// whitespace and comment placement into the canonical form. It is used
// to test the round-trip law Format(Parse(s)) == Normalise(s): parsing
// canonical output must reproduce it exactly.
func Normalise(src string) (string, error) {
	intf, err := NewParser(strings.NewReader(src)).Parse()
	if err != nil {
		return "", err
	}
	return FormatString(intf)
}

type formatter struct {
	w   *bufio.Writer
	err error
}

func (f *formatter) printf(format string, args ...interface{}) {
	if f.err != nil {
		return
	}
	_, f.err = fmt.Fprintf(f.w, format, args...)
}

func (f *formatter) comments(comments []Token) {
	for _, c := range comments {
		f.printf("# %s\n", c.Value.(string))
	}
}

func (f *formatter) interfaceDef(intf InterfaceDef) {
	f.comments(intf.Comments)
	f.printf("interface %s\n", intf.Name)

	for _, t := range intf.Types {
		f.printf("\n")
		f.comments(t.Comments)
		f.printf("type %s ", t.Name)
		f.typ(t.Type)
		f.printf("\n")
	}
	for _, m := range intf.Methods {
		f.printf("\n")
		f.comments(m.Comments)
		f.printf("method %s(", m.Name)
		f.fields(m.Input.Fields)
		f.printf(") -> (")
		f.fields(m.Output.Fields)
		f.printf(")\n")
	}
	for _, e := range intf.Errors {
		f.printf("\n")
		f.comments(e.Comments)
		f.printf("error %s (", e.Name)
		f.fields(e.Params.Fields)
		f.printf(")\n")
	}
}

func (f *formatter) fields(fields []StructField) {
	for i, field := range fields {
		if i > 0 {
			f.printf(", ")
		}
		f.printf("%s: ", field.Name)
		f.typ(field.Type)
	}
}

func (f *formatter) typ(typ Type) {
	switch t := typ.(type) {
	case NullableType:
		f.printf("?")
		f.typ(t.Type)
	case ArrayType:
		f.printf("[]")
		f.typ(t.ElemType)
	case DictType:
		f.printf("[string]")
		f.typ(t.ElemType)
	case StructType:
		f.printf("(")
		f.fields(t.Fields)
		f.printf(")")
	case EnumType:
		f.printf("(")
		for i, v := range t.Values {
			if i > 0 {
				f.printf(", ")
			}
			f.printf("%s", v.Name)
		}
		f.printf(")")
	case NamedType:
		f.printf("%s", t.Name)
	case BuiltinType:
		f.printf("%s", t.Name)
	default:
		if f.err == nil {
			f.err = fmt.Errorf("syntax: cannot format type %T", typ)
		}
	}
}
