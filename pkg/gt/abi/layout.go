package abi

import "github.com/simtdbg/simtdbg/pkg/gt/gterr"

// chunk maps bytes of one lane's value to their position in a vectorized
// area.
type chunk struct {
	valOff  int64 // offset in the lane's value
	size    int64
	areaOff int64 // offset in the vectorized area
}

// laneChunks returns where the bytes of the value of lane live inside the
// vectorized area of a value of type typ, for a thread running width
// lanes. Packing and unpacking both walk this list, so a value written by
// one is read back unchanged by the other.
func laneChunks(typ Type, class Class, lane, width int) ([]chunk, error) {
	typ = resolveTypedef(typ)
	w := int64(width)
	l := int64(lane)
	switch class {
	case ClassPrimitive:
		n := typ.Size()
		return []chunk{{valOff: 0, size: n, areaOff: l * n}}, nil

	case ClassVector:
		t := typ.(*ArrayType)
		e := t.Type.Size()
		r := make([]chunk, t.Count)
		for i := int64(0); i < t.Count; i++ {
			r[i] = chunk{valOff: i * e, size: e, areaOff: l*e + i*e*w}
		}
		return r, nil

	case ClassPromotedStruct:
		t := typ.(*StructType)
		r := make([]chunk, len(t.Field))
		cursor := int64(0)
		for i, f := range t.Field {
			fsize := f.Type.Size()
			next := t.Size()
			if i+1 < len(t.Field) {
				next = t.Field[i+1].ByteOffset
			}
			r[i] = chunk{valOff: f.ByteOffset, size: fsize, areaOff: cursor + l*fsize}
			cursor += (next - f.ByteOffset) * w
		}
		return r, nil
	}
	return nil, gterr.Internalf("vectorized layout", "no vectorized layout for %s (%v)", typ, class)
}

// footprint returns the size of the vectorized area of a value, rounded up
// to 16 bytes.
func footprint(typ Type, width int) int64 {
	return alignUp(typ.Size()*int64(width), areaAlign)
}

const areaAlign = 16

func alignUp(n, align int64) int64 {
	return (n + align - 1) &^ (align - 1)
}
