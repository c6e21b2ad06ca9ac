// Package insn implements the instruction codec of Intel GT class devices.
//
// Instructions are either 16 bytes long (full form) or 8 bytes long
// (compacted form); the compaction control bit, bit 29, selects the form
// and is at the same position in both. Bits are numbered from the least
// significant bit of byte 0, so bit pos lives in byte pos>>3 at offset
// pos&7.
//
// The device has no trap instruction. A software breakpoint is a reserved
// debug control bit set on the instruction itself: bit 7 in the compacted
// form, bit 30 in the full form.
package insn

import (
	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
)

const (
	// MaxLength is the maximum length of an instruction in bytes.
	MaxLength = 16
	// CompactedLength is the length of a compacted instruction.
	CompactedLength = 8
	// FullLength is the length of a full instruction.
	FullLength = 16

	opcodeWidth = 7

	compactionBit          = 29
	compactedBreakpointBit = 7
	fullBreakpointBit      = 30
)

// Inst holds one instruction. Only the first Len() bytes are meaningful.
type Inst [MaxLength]byte

// Decode copies an instruction out of buf. Buf must hold at least the
// compacted length, and the full length if the compaction bit is clear.
func Decode(buf []byte) (Inst, error) {
	var in Inst
	if len(buf) < CompactedLength {
		return in, gterr.Targetf("decode instruction", "short buffer: %d bytes", len(buf))
	}
	copy(in[:], buf)
	if !in.IsCompacted() && len(buf) < FullLength {
		return in, gterr.Targetf("decode instruction", "short buffer for full instruction: %d bytes", len(buf))
	}
	if in.IsCompacted() {
		for i := CompactedLength; i < MaxLength; i++ {
			in[i] = 0
		}
	}
	return in, nil
}

// IsCompacted reports whether the compaction control bit is set.
func (in *Inst) IsCompacted() bool {
	return in[3]&0x20 != 0
}

// Len returns the length of the instruction in bytes.
func (in *Inst) Len() int {
	if in.IsCompacted() {
		return CompactedLength
	}
	return FullLength
}

// Bytes returns the encoded instruction, Len() bytes long.
func (in *Inst) Bytes() []byte {
	return in[:in.Len()]
}

// Opcode returns the 7 bit opcode shared by both forms.
func (in *Inst) Opcode() uint8 {
	return in[0] & (1<<opcodeWidth - 1)
}

func checkPos(op string, pos int) error {
	if pos < 0 || pos >= MaxLength*8 {
		return gterr.Internalf(op, "bad bit offset: %d", pos)
	}
	return nil
}

func (in *Inst) bit(pos int) bool {
	return in[pos>>3]&(1<<uint(pos&7)) != 0
}

func (in *Inst) setBit(pos int) bool {
	old := in.bit(pos)
	in[pos>>3] |= 1 << uint(pos&7)
	return old
}

func (in *Inst) clearBit(pos int) bool {
	old := in.bit(pos)
	in[pos>>3] &^= 1 << uint(pos&7)
	return old
}

// Bit returns the bit at pos.
func (in *Inst) Bit(pos int) (bool, error) {
	if err := checkPos("get instruction bit", pos); err != nil {
		return false, err
	}
	return in.bit(pos), nil
}

// SetBit sets the bit at pos and returns its previous state.
func (in *Inst) SetBit(pos int) (bool, error) {
	if err := checkPos("set instruction bit", pos); err != nil {
		return false, err
	}
	return in.setBit(pos), nil
}

// ClearBit clears the bit at pos and returns its previous state.
func (in *Inst) ClearBit(pos int) (bool, error) {
	if err := checkPos("clear instruction bit", pos); err != nil {
		return false, err
	}
	return in.clearBit(pos), nil
}

// Field returns the width bits starting at bit lo.
func (in *Inst) Field(lo, width int) (uint32, error) {
	if width <= 0 || width > 32 {
		return 0, gterr.Internalf("get instruction field", "bad field width: %d", width)
	}
	if err := checkPos("get instruction field", lo); err != nil {
		return 0, err
	}
	if err := checkPos("get instruction field", lo+width-1); err != nil {
		return 0, err
	}
	return in.field(lo, width), nil
}

// SetField stores the low width bits of v starting at bit lo.
func (in *Inst) SetField(lo, width int, v uint32) error {
	if width <= 0 || width > 32 {
		return gterr.Internalf("set instruction field", "bad field width: %d", width)
	}
	if err := checkPos("set instruction field", lo); err != nil {
		return err
	}
	if err := checkPos("set instruction field", lo+width-1); err != nil {
		return err
	}
	if width < 32 && v>>uint(width) != 0 {
		return gterr.Internalf("set instruction field", "value %#x does not fit in %d bits", v, width)
	}
	in.setField(lo, width, v)
	return nil
}

func (in *Inst) field(lo, width int) uint32 {
	var v uint32
	for i := width - 1; i >= 0; i-- {
		v <<= 1
		if in.bit(lo + i) {
			v |= 1
		}
	}
	return v
}

func (in *Inst) setField(lo, width int, v uint32) {
	for i := 0; i < width; i++ {
		if v&(1<<uint(i)) != 0 {
			in.setBit(lo + i)
		} else {
			in.clearBit(lo + i)
		}
	}
}

// BreakpointBit returns the offset of the breakpoint bit of in, which
// depends on whether in is compacted.
func (in *Inst) BreakpointBit() int {
	if in.IsCompacted() {
		return compactedBreakpointBit
	}
	return fullBreakpointBit
}

// SetBreakpoint sets the breakpoint bit and returns its previous state. A
// true result means the instruction already carried a breakpoint that the
// debugger did not put there (a permanent breakpoint); callers warn about
// it but carry on.
func (in *Inst) SetBreakpoint() bool {
	return in.setBit(in.BreakpointBit())
}

// ClearBreakpoint clears the breakpoint bit and returns its previous state.
func (in *Inst) ClearBreakpoint() bool {
	return in.clearBit(in.BreakpointBit())
}

// HasBreakpoint reports whether the breakpoint bit is set.
func (in *Inst) HasBreakpoint() bool {
	return in.bit(in.BreakpointBit())
}
