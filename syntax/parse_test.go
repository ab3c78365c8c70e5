// Copyright 2026 Franklin "Snaipe" Mathieu.
//
// Use of this source code is governed by the MIT license that can be
// found in the LICENSE file.

package syntax_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"go.varlink.dev/varlink/syntax"
)

// strip recursively zeroes out the parts of a parse tree that are
// sensitive to exact source formatting (cursor positions and attached
// comments), so that test fixtures can assert on structure without
// having to hand-compute line/column numbers.
func strip(intf *syntax.InterfaceDef) {
	intf.Node = syntax.Node{}
	for i := range intf.Types {
		stripType(&intf.Types[i].Node)
		intf.Types[i].Type = stripTypeNode(intf.Types[i].Type)
	}
	for i := range intf.Methods {
		stripType(&intf.Methods[i].Node)
		stripStruct(&intf.Methods[i].Input)
		stripStruct(&intf.Methods[i].Output)
	}
	for i := range intf.Errors {
		stripType(&intf.Errors[i].Node)
		stripStruct(&intf.Errors[i].Params)
	}
}

func stripType(n *syntax.Node) {
	*n = syntax.Node{}
}

func stripStruct(s *syntax.StructType) {
	stripType(&s.Node)
	for i := range s.Fields {
		stripType(&s.Fields[i].Node)
		s.Fields[i].Type = stripTypeNode(s.Fields[i].Type)
	}
}

func stripTypeNode(t syntax.Type) syntax.Type {
	switch v := t.(type) {
	case syntax.StructType:
		stripStruct(&v)
		return v
	case syntax.EnumType:
		stripType(&v.Node)
		for i := range v.Values {
			stripType(&v.Values[i].Node)
		}
		return v
	case syntax.ArrayType:
		stripType(&v.Node)
		v.ElemType = stripTypeNode(v.ElemType)
		return v
	case syntax.DictType:
		stripType(&v.Node)
		v.ElemType = stripTypeNode(v.ElemType)
		return v
	case syntax.NullableType:
		stripType(&v.Node)
		v.Type = stripTypeNode(v.Type)
		return v
	case syntax.NamedType:
		stripType(&v.Node)
		return v
	case syntax.BuiltinType:
		stripType(&v.Node)
		return v
	}
	return t
}

func TestVarlinkStandardSuite(t *testing.T) {
	filepath.Walk("testdata/standard", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			t.Fatal(err)
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".varlink" {
			return nil
		}

		name := filepath.Base(path)
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			txt, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}

			intf, err := syntax.NewParser(bytes.NewReader(txt)).Parse()
			if err != nil {
				t.Fatalf("parse error: %v", err)
			}
			if intf.Name == "" {
				t.Fatalf("parsed interface has no name")
			}
		})

		return nil
	})
}

func TestParseEncodingInterface(t *testing.T) {
	txt, err := os.ReadFile("testdata/standard/org.example.encoding.varlink")
	if err != nil {
		t.Fatal(err)
	}

	intf, err := syntax.NewParser(bytes.NewReader(txt)).Parse()
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	strip(&intf)

	want := syntax.InterfaceDef{
		Name: "org.example.encoding",
		Types: []syntax.TypeDef{
			{
				Name: "Point",
				Type: syntax.StructType{
					Fields: []syntax.StructField{
						{Name: "x", Type: syntax.BuiltinType{Name: "int"}},
						{Name: "y", Type: syntax.BuiltinType{Name: "int"}},
					},
				},
			},
			{
				Name: "Format",
				Type: syntax.EnumType{
					Values: []syntax.EnumValue{
						{Name: "json"},
						{Name: "cbor"},
						{Name: "msgpack"},
					},
				},
			},
		},
		Methods: []syntax.MethodDef{
			{
				Name: "Encode",
				Input: syntax.StructType{
					Fields: []syntax.StructField{
						{Name: "points", Type: syntax.ArrayType{ElemType: syntax.NamedType{Name: "Point"}}},
						{Name: "tags", Type: syntax.DictType{ElemType: syntax.BuiltinType{Name: "string"}}},
						{Name: "format", Type: syntax.NamedType{Name: "Format"}},
						{Name: "name", Type: syntax.NullableType{Type: syntax.BuiltinType{Name: "string"}}},
					},
				},
				Output: syntax.StructType{
					Fields: []syntax.StructField{
						{Name: "data", Type: syntax.BuiltinType{Name: "string"}},
					},
				},
			},
		},
		Errors: []syntax.ErrorDef{
			{
				Name: "UnsupportedFormat",
				Params: syntax.StructType{
					Fields: []syntax.StructField{
						{Name: "format", Type: syntax.BuiltinType{Name: "string"}},
					},
				},
			},
		},
	}

	if intf.Name != want.Name {
		t.Fatalf("name = %q, want %q", intf.Name, want.Name)
	}
	if len(intf.Types) != len(want.Types) {
		t.Fatalf("got %d types, want %d", len(intf.Types), len(want.Types))
	}
	for i := range want.Types {
		if intf.Types[i].Name != want.Types[i].Name {
			t.Errorf("type[%d].Name = %q, want %q", i, intf.Types[i].Name, want.Types[i].Name)
		}
	}
	if len(intf.Methods) != 1 || intf.Methods[0].Name != "Encode" {
		t.Fatalf("unexpected methods: %+v", intf.Methods)
	}
	if len(intf.Methods[0].Input.Fields) != 4 {
		t.Fatalf("Encode input has %d fields, want 4", len(intf.Methods[0].Input.Fields))
	}
	if len(intf.Errors) != 1 || intf.Errors[0].Name != "UnsupportedFormat" {
		t.Fatalf("unexpected errors: %+v", intf.Errors)
	}
}

func BenchmarkStandardSuite(b *testing.B) {
	filepath.Walk("testdata/standard", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			b.Fatal(err)
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".varlink" {
			return nil
		}

		name := filepath.Base(path)
		b.Run(name, func(b *testing.B) {
			txt, err := os.ReadFile(path)
			if err != nil {
				b.Fatal(err)
			}

			for i := 0; i < b.N; i++ {
				_, err := syntax.NewParser(bytes.NewReader(txt)).Parse()
				if err != nil {
					b.Fatal(err)
				}
			}
		})
		return nil
	})
}

func FuzzParser(f *testing.F) {
	err := filepath.Walk("testdata", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			f.Fatal(err)
		}
		if info.IsDir() {
			return nil
		}
		if filepath.Ext(path) != ".varlink" {
			return nil
		}

		txt, err := os.ReadFile(path)
		if err != nil {
			f.Fatal(err)
		}
		f.Add(txt)
		return nil
	})
	if err != nil {
		f.Fatal(err)
	}

	f.Fuzz(func(t *testing.T, txt []byte) {
		syntax.NewParser(bytes.NewReader(txt)).Parse()
	})
}
