// Package abi implements the SIMD calling convention of Intel GT kernels:
// how arguments and return values of one lane are laid out in the
// vectorized GRF window starting at the return value register, or on the
// lane-indexed stack when they do not fit.
//
// Values are stored Structure-of-Arrays: for a struct with fields a, b, c
// all the lanes of a come first, then all the lanes of b, then c.
package abi

import (
	"fmt"
	"strings"
)

// Type is a source level type, as described by the debug information of a
// kernel.
type Type interface {
	Common() *CommonType
	String() string
	Size() int64
}

// CommonType holds fields common to multiple types.
type CommonType struct {
	ByteSize int64  // size of value of this type, in bytes
	Name     string // name that can be used to refer to type
}

func (c *CommonType) Common() *CommonType { return c }

func (c *CommonType) Size() int64 { return c.ByteSize }

// Basic types

// A BasicType holds fields common to all basic types.
type BasicType struct {
	CommonType
}

func (b *BasicType) String() string { return b.Name }

// A CharType represents a signed character type.
type CharType struct {
	BasicType
}

// An IntType represents a signed integer type.
type IntType struct {
	BasicType
}

// A UintType represents an unsigned integer type.
type UintType struct {
	BasicType
}

// A FloatType represents a floating point type.
type FloatType struct {
	BasicType
}

// A BoolType represents a boolean type.
type BoolType struct {
	BasicType
}

// An EnumType represents an enumerated type.
type EnumType struct {
	CommonType
	EnumName string
}

func (t *EnumType) String() string { return "enum " + t.EnumName }

// A PtrType represents a pointer type.
type PtrType struct {
	CommonType
	Type Type
}

func (t *PtrType) String() string {
	if t.Type == nil {
		return "void *"
	}
	return t.Type.String() + " *"
}

// A StructType represents a struct, union, or C++ class type.
type StructType struct {
	CommonType
	StructName string
	Kind       string // "struct", "union", or "class".
	Field      []*StructField
}

// A StructField represents a field in a struct, union, or C++ class type.
type StructField struct {
	Name       string
	Type       Type
	ByteOffset int64
}

func (t *StructType) String() string {
	if t.StructName != "" {
		return t.Kind + " " + t.StructName
	}
	var b strings.Builder
	b.WriteString(t.Kind + " {")
	for i, f := range t.Field {
		if i > 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(&b, "%s %s", f.Name, f.Type)
	}
	b.WriteString("}")
	return b.String()
}

// An ArrayType represents a fixed size array type. Vector is set for the
// vector extension types (OpenCL int4, float8 and so on), which are passed
// by value.
type ArrayType struct {
	CommonType
	Type   Type
	Count  int64
	Vector bool
}

func (t *ArrayType) String() string {
	if t.Vector {
		return fmt.Sprintf("%s __attribute__((vector_size(%d)))", t.Type, t.ByteSize)
	}
	return fmt.Sprintf("%s [%d]", t.Type, t.Count)
}

// A TypedefType represents a named type.
type TypedefType struct {
	CommonType
	Type Type
}

func (t *TypedefType) String() string { return t.Name }

func (t *TypedefType) Size() int64 { return t.Type.Size() }

// resolveTypedef strips typedefs from typ.
func resolveTypedef(typ Type) Type {
	for {
		tt, ok := typ.(*TypedefType)
		if !ok {
			return typ
		}
		typ = tt.Type
	}
}

// isScalar reports whether typ is an integer, boolean, enum, floating
// point or pointer type.
func isScalar(typ Type) bool {
	switch resolveTypedef(typ).(type) {
	case *IntType, *UintType, *CharType, *BoolType, *FloatType, *EnumType, *PtrType:
		return true
	}
	return false
}
