package insn

import (
	"fmt"

	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
)

// Family is a group of device generations that share an instruction
// encoding. Encodings that depend on the generation (atomic control,
// predication, execution size, compacted control tables) are looked up
// through the family table instead of being repeated at each use site.
type Family uint8

const (
	FamilyUnknown Family = iota
	// Gen9 covers Gen9 and Gen11 devices.
	Gen9
	// Xe covers Gen12, XeHPG and XeHPC devices.
	Xe
	// Xe2 covers the newest devices.
	Xe2
)

func (f Family) String() string {
	if e := f.encoding(); e != nil {
		return e.name
	}
	return fmt.Sprintf("Family(%d)", uint8(f))
}

// Opcodes shared by every family.
const (
	OpJmpi  = 0x20
	OpBrd   = 0x21
	OpIf    = 0x22
	OpBrc   = 0x23
	OpElse  = 0x24
	OpEndif = 0x25
	OpWhile = 0x27
	OpBreak = 0x28
	OpCont  = 0x29
	OpHalt  = 0x2a
	OpCalla = 0x2b
	OpCall  = 0x2c
	OpRet   = 0x2d
	OpGoto  = 0x2e
	OpJoin  = 0x2f
)

// Matrix multiply opcodes (Xe and later).
const (
	OpDpas  = 0x59
	OpDpasw = 0x5a
)

var branchOps = map[uint8]bool{
	OpJmpi: true, OpBrd: true, OpIf: true, OpBrc: true, OpElse: true,
	OpEndif: true, OpWhile: true, OpBreak: true, OpCont: true, OpHalt: true,
	OpCalla: true, OpCall: true, OpRet: true, OpGoto: true, OpJoin: true,
}

const (
	predCtrlWidth  = 4
	execSizeWidth  = 3
	regNumWidth    = 8
	immWidth       = 32
	immLo          = 96
	ctrlIndexWidth = 5

	// predSequentialFlag is the predicate control value that predicates each
	// channel on the corresponding bit of the selected flag register.
	predSequentialFlag = 1
)

// encoding is the per family table.
type encoding struct {
	name string

	opNop uint8

	// Full form.
	atomicBit      int
	forwardingBits []int
	predCtrlLo     int
	predInvBit     int
	flagSubRegBit  int
	flagRegBit     int
	execSizeLo     int
	dstRegLo       int
	src0RegLo      int

	// Compacted form.
	ctrlIndexLo int
	ctrlTable   [1 << ctrlIndexWidth]uint32
	ctrlAtomic  uint32
	// compactedAtomicOps are the opcodes whose compacted control index may
	// select an atomic control word.
	compactedAtomicOps map[uint8]bool
}

// Compacted control words: bits 0-3 predicate control, bit 4 predicate
// invert, bits 5-7 execution size, bit 8 atomic, bit 9 no dependency
// check.
const (
	ctrlAtomic    = 0x100
	ctrlNoDepChk  = 0x200
	ctrlAtomicChk = ctrlAtomic | ctrlNoDepChk
)

var gen9Encoding = encoding{
	name:           "gen9",
	opNop:          0x7e,
	atomicBit:      14,
	forwardingBits: []int{9, 10},
	predCtrlLo:     16,
	predInvBit:     20,
	execSizeLo:     21,
	flagSubRegBit:  33,
	flagRegBit:     34,
	dstRegLo:       53,
	src0RegLo:      69,
	ctrlIndexLo:    8,
	ctrlTable: [...]uint32{
		0x060, 0x080, 0x0a0, 0x040, 0x061, 0x081, 0x0a1, 0x071,
		0x091, 0x0b1, 0x020, 0x000, 0x062, 0x082, 0x0a2, 0x001,
		0x260, 0x280, 0x2a0, 0x240, 0x261, 0x281, 0x2a1, 0x271,
		0x291, 0x2b1, 0x220, 0x200, 0x262, 0x282, 0x2a2, 0x201,
	},
}

var xeEncoding = encoding{
	name:           "xe",
	opNop:          0x60,
	atomicBit:      32,
	forwardingBits: []int{33},
	predCtrlLo:     16,
	predInvBit:     20,
	flagSubRegBit:  22,
	flagRegBit:     23,
	execSizeLo:     24,
	dstRegLo:       56,
	src0RegLo:      72,
	ctrlIndexLo:    16,
	ctrlTable: [...]uint32{
		0x160, 0x180, 0x1a0, 0x140, 0x161, 0x181, 0x1a1, 0x171,
		0x191, 0x1b1, 0x120, 0x100, 0x362, 0x382, 0x3a2, 0x301,
		0x060, 0x080, 0x0a0, 0x040, 0x061, 0x081, 0x0a1, 0x071,
		0x091, 0x0b1, 0x020, 0x000, 0x062, 0x082, 0x0a2, 0x001,
	},
	ctrlAtomic:         ctrlAtomic,
	compactedAtomicOps: map[uint8]bool{OpDpas: true, OpDpasw: true},
}

var xe2Encoding = encoding{
	name:           "xe2",
	opNop:          0x60,
	atomicBit:      34,
	forwardingBits: []int{35},
	predCtrlLo:     16,
	predInvBit:     20,
	flagSubRegBit:  22,
	flagRegBit:     23,
	execSizeLo:     26,
	dstRegLo:       56,
	src0RegLo:      72,
	ctrlIndexLo:    16,
	ctrlTable: [...]uint32{
		0x160, 0x180, 0x1a0, 0x140, 0x161, 0x181, 0x1a1, 0x171,
		0x191, 0x1b1, 0x120, 0x100, 0x162, 0x182, 0x1a2, 0x101,
		0x060, 0x080, 0x0a0, 0x040, 0x061, 0x081, 0x0a1, 0x071,
		0x091, 0x0b1, 0x020, 0x000, 0x062, 0x082, 0x0a2, 0x001,
	},
	ctrlAtomic:         ctrlAtomic,
	compactedAtomicOps: map[uint8]bool{OpDpas: true, OpDpasw: true},
}

func (f Family) encoding() *encoding {
	switch f {
	case Gen9:
		return &gen9Encoding
	case Xe:
		return &xeEncoding
	case Xe2:
		return &xe2Encoding
	default:
		return nil
	}
}

func (f Family) mustEncoding(op string) (*encoding, error) {
	e := f.encoding()
	if e == nil {
		return nil, gterr.Internalf(op, "unknown device family %d", uint8(f))
	}
	return e, nil
}

// IsBranch reports whether in transfers control.
func (f Family) IsBranch(in *Inst) (bool, error) {
	if _, err := f.mustEncoding("classify instruction"); err != nil {
		return false, err
	}
	return branchOps[in.Opcode()], nil
}

// IsAtomic reports whether in belongs to a hardware atomic sequence, that
// is, whether the thread must not be switched out after executing it.
// The full form has a dedicated control bit. In the compacted form only a
// few opcodes can be atomic, through their control index.
func (f Family) IsAtomic(in *Inst) (bool, error) {
	e, err := f.mustEncoding("classify instruction")
	if err != nil {
		return false, err
	}
	if !in.IsCompacted() {
		return in.bit(e.atomicBit), nil
	}
	if !e.compactedAtomicOps[in.Opcode()] {
		return false, nil
	}
	idx := in.field(e.ctrlIndexLo, ctrlIndexWidth)
	return e.ctrlTable[idx]&e.ctrlAtomic != 0, nil
}

// CtrlIndex returns the control index of a compacted instruction.
func (f Family) CtrlIndex(in *Inst) (uint32, error) {
	e, err := f.mustEncoding("control index")
	if err != nil {
		return 0, err
	}
	if !in.IsCompacted() {
		return 0, gterr.Internalf("control index", "instruction is not compacted")
	}
	return in.field(e.ctrlIndexLo, ctrlIndexWidth), nil
}

// SetCtrlIndex stores the control index of a compacted instruction.
func (f Family) SetCtrlIndex(in *Inst, idx uint32) error {
	e, err := f.mustEncoding("control index")
	if err != nil {
		return err
	}
	if !in.IsCompacted() {
		return gterr.Internalf("control index", "instruction is not compacted")
	}
	return in.SetField(e.ctrlIndexLo, ctrlIndexWidth, idx)
}

// ClearAtomic turns in into the non-atomic equivalent of itself, the form
// that can be executed out of line by a displaced step. Full instructions
// lose their atomic and forwarding control bits. Compacted instructions
// have their control index remapped to the entry of the control table
// that differs only by the atomic bit; if the table has no such entry the
// instruction cannot be displaced.
func (f Family) ClearAtomic(in *Inst) error {
	const op = "clear atomic control"
	e, err := f.mustEncoding(op)
	if err != nil {
		return err
	}
	if !in.IsCompacted() {
		in.clearBit(e.atomicBit)
		for _, b := range e.forwardingBits {
			in.clearBit(b)
		}
		return nil
	}
	if !e.compactedAtomicOps[in.Opcode()] {
		return nil
	}
	idx := in.field(e.ctrlIndexLo, ctrlIndexWidth)
	ctrl := e.ctrlTable[idx]
	if ctrl&e.ctrlAtomic == 0 {
		return nil
	}
	want := ctrl &^ e.ctrlAtomic
	for i, c := range e.ctrlTable {
		if c == want {
			in.setField(e.ctrlIndexLo, ctrlIndexWidth, uint32(i))
			return nil
		}
	}
	return gterr.Targetf(op, "no non-atomic equivalent for control index %#x of opcode %#x", idx, in.Opcode())
}

// ExecSizeCode returns the execution size encoding of a SIMD width.
func ExecSizeCode(width int) (uint32, error) {
	switch width {
	case 1:
		return 0, nil
	case 2:
		return 1, nil
	case 4:
		return 2, nil
	case 8:
		return 3, nil
	case 16:
		return 4, nil
	case 32:
		return 5, nil
	}
	return 0, gterr.Internalf("execution size", "unsupported SIMD width %d", width)
}

// SetExecSize stores the execution size of a full instruction.
func (f Family) SetExecSize(in *Inst, width int) error {
	e, err := f.mustEncoding("set execution size")
	if err != nil {
		return err
	}
	code, err := ExecSizeCode(width)
	if err != nil {
		return err
	}
	return in.SetField(e.execSizeLo, execSizeWidth, code)
}

// ExecSize returns the SIMD width encoded in a full instruction.
func (f Family) ExecSize(in *Inst) (int, error) {
	e, err := f.mustEncoding("execution size")
	if err != nil {
		return 0, err
	}
	return 1 << in.field(e.execSizeLo, execSizeWidth), nil
}

// SetPredicate predicates each channel of a full instruction on the
// matching bit of flag register flagReg, subregister flagSubReg.
func (f Family) SetPredicate(in *Inst, flagReg, flagSubReg int) error {
	e, err := f.mustEncoding("set predicate")
	if err != nil {
		return err
	}
	if flagReg < 0 || flagReg > 1 || flagSubReg < 0 || flagSubReg > 1 {
		return gterr.Internalf("set predicate", "bad flag register f%d.%d", flagReg, flagSubReg)
	}
	in.setField(e.predCtrlLo, predCtrlWidth, predSequentialFlag)
	in.clearBit(e.predInvBit)
	in.setField(e.flagRegBit, 1, uint32(flagReg))
	in.setField(e.flagSubRegBit, 1, uint32(flagSubReg))
	return nil
}

// Predicate returns the predicate control and flag register of a full
// instruction.
func (f Family) Predicate(in *Inst) (ctrl uint32, flagReg, flagSubReg int, err error) {
	e, err := f.mustEncoding("predicate")
	if err != nil {
		return 0, 0, 0, err
	}
	ctrl = in.field(e.predCtrlLo, predCtrlWidth)
	flagReg = int(in.field(e.flagRegBit, 1))
	flagSubReg = int(in.field(e.flagSubRegBit, 1))
	return ctrl, flagReg, flagSubReg, nil
}

// Nop returns a full nop instruction.
func (f Family) Nop() (Inst, error) {
	var in Inst
	e, err := f.mustEncoding("encode nop")
	if err != nil {
		return in, err
	}
	in.setField(0, opcodeWidth, uint32(e.opNop))
	return in, nil
}

// Call returns a full absolute call to target, an offset from the ISA
// base. The return address is saved in GRF retReg. The call executes
// width channels.
func (f Family) Call(target uint32, retReg, width int) (Inst, error) {
	var in Inst
	e, err := f.mustEncoding("encode call")
	if err != nil {
		return in, err
	}
	if retReg < 0 || retReg >= 1<<regNumWidth {
		return in, gterr.Internalf("encode call", "bad return register r%d", retReg)
	}
	in.setField(0, opcodeWidth, OpCalla)
	if err := f.SetExecSize(&in, width); err != nil {
		return in, err
	}
	in.setField(e.dstRegLo, regNumWidth, uint32(retReg))
	in.setField(immLo, immWidth, target)
	return in, nil
}

// CallTarget returns the target of a call built by Call.
func (f Family) CallTarget(in *Inst) (uint32, error) {
	if in.Opcode() != OpCalla {
		return 0, gterr.Internalf("call target", "not a calla instruction: opcode %#x", in.Opcode())
	}
	return in.field(immLo, immWidth), nil
}

// Return returns a full ret instruction that jumps to the address saved
// in GRF srcReg.
func (f Family) Return(srcReg, width int) (Inst, error) {
	var in Inst
	e, err := f.mustEncoding("encode ret")
	if err != nil {
		return in, err
	}
	if srcReg < 0 || srcReg >= 1<<regNumWidth {
		return in, gterr.Internalf("encode ret", "bad source register r%d", srcReg)
	}
	in.setField(0, opcodeWidth, OpRet)
	if err := f.SetExecSize(&in, width); err != nil {
		return in, err
	}
	in.setField(e.src0RegLo, regNumWidth, uint32(srcReg))
	return in, nil
}
