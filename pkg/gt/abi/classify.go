package abi

import "fmt"

// Class is the passing convention of a value.
type Class uint8

const (
	ClassUnsupported Class = iota
	// ClassPrimitive is a scalar of at most 8 bytes, one slice per lane.
	ClassPrimitive
	// ClassVector is a vector type, one run of lanes per element.
	ClassVector
	// ClassPromotedStruct is a small struct of scalars, one run of lanes
	// per field.
	ClassPromotedStruct
	// ClassByReference is an aggregate passed as a pointer to a copy, or
	// returned through a hidden pointer.
	ClassByReference
)

func (c Class) String() string {
	switch c {
	case ClassPrimitive:
		return "primitive"
	case ClassVector:
		return "vector"
	case ClassPromotedStruct:
		return "promoted struct"
	case ClassByReference:
		return "by reference"
	case ClassUnsupported:
		return "unsupported"
	}
	return fmt.Sprintf("Class(%d)", uint8(c))
}

// Size limits of promotable structs.
const (
	maxPromotedArgSize = 16
	maxPromotedRetSize = 8
	maxPrimitiveSize   = 8
)

// Classify returns the convention used to pass a value of type typ, as an
// argument or, if forReturn is set, as a return value.
func Classify(typ Type, forReturn bool) Class {
	typ = resolveTypedef(typ)
	switch t := typ.(type) {
	case *IntType, *UintType, *CharType, *BoolType, *FloatType, *EnumType, *PtrType:
		if t.Size() <= 0 || t.Size() > maxPrimitiveSize {
			return ClassUnsupported
		}
		return ClassPrimitive
	case *ArrayType:
		if !t.Vector || t.Count <= 0 || !isScalar(t.Type) {
			return ClassUnsupported
		}
		if es := t.Type.Size(); es <= 0 || es > maxPrimitiveSize {
			return ClassUnsupported
		}
		return ClassVector
	case *StructType:
		if t.Size() <= 0 {
			return ClassUnsupported
		}
		if promotable(t, forReturn) {
			return ClassPromotedStruct
		}
		return ClassByReference
	}
	return ClassUnsupported
}

// promotable reports whether t is a struct small enough to be passed by
// value whose fields are all scalars.
func promotable(t *StructType, forReturn bool) bool {
	if t.Kind == "union" || len(t.Field) == 0 {
		return false
	}
	limit := int64(maxPromotedArgSize)
	if forReturn {
		limit = maxPromotedRetSize
	}
	if t.Size() > limit {
		return false
	}
	end := int64(0)
	for _, f := range t.Field {
		if !isScalar(f.Type) {
			return false
		}
		if f.ByteOffset < end || f.ByteOffset+f.Type.Size() > t.Size() {
			return false
		}
		end = f.ByteOffset + f.Type.Size()
	}
	return true
}
