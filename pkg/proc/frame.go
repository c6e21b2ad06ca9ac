package proc

import (
	"encoding/binary"

	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
)

// Registers a call leaves the caller's state in.
const (
	// retPCGRF holds the return address of a call, an offset from the ISA
	// base, in its first dword.
	retPCGRF = 1
	// savedSPGRF holds the caller's stack pointer in its low qword.
	savedSPGRF = 125
)

// Frame is one frame of a thread's call stack.
type Frame struct {
	PC uint64
	SP uint64
	// Fn is the function containing PC, nil if there is no symbol for it.
	Fn *Function
}

// ID returns the entry of the function of f, or its pc when the function
// is unknown. Frames of the same activation share an ID.
func (f Frame) ID() uint64 {
	if f.Fn != nil {
		return f.Fn.Entry
	}
	return f.PC
}

func (th *Thread) frame(pc, sp uint64) Frame {
	f := Frame{PC: pc, SP: sp}
	if bi := th.target.bi; bi != nil {
		f.Fn = bi.PCToFunc(pc)
	}
	return f
}

// Frame returns the innermost frame of th.
func (th *Thread) Frame() (Frame, error) {
	pc, err := th.PC()
	if err != nil {
		return Frame{}, err
	}
	info := th.info()
	sp, err := readRegUint(th.regs, info.SP(), 8)
	if err != nil {
		return Frame{}, err
	}
	return th.frame(pc, sp), nil
}

// CallerFrame returns the frame that called the innermost frame of th: its
// pc is the return address saved by the call and its stack pointer the one
// saved for the caller.
func (th *Thread) CallerFrame() (Frame, error) {
	isabase, err := th.ISABase()
	if err != nil {
		return Frame{}, err
	}
	buf := make([]byte, 8)
	if err := th.regs.ReadRegister(retPCGRF, 0, buf[:4]); err != nil {
		return Frame{}, gterr.Wrap(gterr.Target, "unwind pc", err)
	}
	pc := isabase + uint64(binary.LittleEndian.Uint32(buf))
	if err := th.regs.ReadRegister(savedSPGRF, 0, buf); err != nil {
		return Frame{}, gterr.Wrap(gterr.Target, "unwind sp", err)
	}
	return th.frame(pc, binary.LittleEndian.Uint64(buf)), nil
}

// CallerRegister returns the register of the innermost frame that holds
// the caller's value of register n. Registers other than pc and sp are
// not saved by calls.
func (th *Thread) CallerRegister(n int) int {
	info := th.info()
	switch n {
	case info.PC():
		return retPCGRF
	case info.SP():
		return savedSPGRF
	}
	return n
}
