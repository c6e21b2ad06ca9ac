package proc

import (
	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
	"github.com/simtdbg/simtdbg/pkg/gt/insn"
	"github.com/simtdbg/simtdbg/pkg/gt/scratch"
	"github.com/simtdbg/simtdbg/pkg/logflags"
)

// This file implements stepping through atomic sequences.
//
// After executing an instruction with the atomic control set the hardware
// must not switch the thread out until the sequence ends with a non-atomic
// instruction. A debug event in the middle of a sequence corrupts the
// thread switch state, so:
//
//   - breakpoints are never placed inside a sequence, they are moved past
//     its end (AdjustBreakpointAddress);
//   - single stepping an atomic instruction either runs a non-atomic copy
//     of it out of line (PrepareDisplacedStep) or, where the caller does
//     not support displaced steps, puts a step breakpoint after the end of
//     the sequence (SoftwareSingleStep).
//
// Sequences contain no branches, so both are decided by a linear scan of
// the enclosing function.

// StepState is the state of a single step.
type StepState uint8

const (
	// StepNonAtomic is a step of an ordinary instruction, done by the
	// hardware.
	StepNonAtomic StepState = iota
	// StepNeedsDisplacedStep is a step of an atomic instruction that has not
	// been prepared yet.
	StepNeedsDisplacedStep
	// StepCopyPrepared: a non-atomic copy of the instruction is in scratch
	// memory and the pc points to it.
	StepCopyPrepared
	// StepCopyExecuted: the copy was executed and the pc moved back.
	StepCopyExecuted
)

func (s StepState) String() string {
	switch s {
	case StepNonAtomic:
		return "non-atomic"
	case StepNeedsDisplacedStep:
		return "needs displaced step"
	case StepCopyPrepared:
		return "copy prepared"
	case StepCopyExecuted:
		return "copy executed"
	}
	return "unknown"
}

// AdjustBreakpointAddress returns the address where a breakpoint requested
// at addr can be placed: addr itself, unless addr is inside an atomic
// sequence, in which case it is the first instruction after the sequence.
// A request at the entry point of a function is never moved.
func (t *Target) AdjustBreakpointAddress(addr uint64) (uint64, error) {
	const op = "adjust breakpoint address"
	if t.bi == nil {
		return addr, nil
	}
	fn := t.bi.PCToFunc(addr)
	if fn == nil || addr == fn.Entry {
		return addr, nil
	}

	mem := cacheMemory(t.mem, fn.Entry, int(fn.End-fn.Entry))
	inside := false
	moved := false
	for pc := fn.Entry; pc < fn.End; {
		if pc == addr {
			if !inside {
				return addr, nil
			}
			moved = true
		} else if pc > addr && !inside {
			if moved {
				return pc, nil
			}
			// addr is not an instruction boundary.
			return addr, nil
		}
		in, err := readInst(mem, pc)
		if err != nil {
			return 0, err
		}
		atomic, err := t.family.IsAtomic(&in)
		if err != nil {
			return 0, err
		}
		if inside {
			branch, err := t.family.IsBranch(&in)
			if err != nil {
				return 0, err
			}
			if branch {
				return 0, gterr.Internalf(op, "branch at %#x inside an atomic sequence of %s", pc, fn.Name)
			}
		}
		inside = atomic
		pc += uint64(in.Len())
	}
	if moved || inside {
		return 0, gterr.Internalf(op, "atomic sequence of %s at %#x runs past the end of the function", fn.Name, addr)
	}
	return addr, nil
}

// StepState returns how the instruction at the pc of th must be stepped.
func (t *Target) StepState(th *Thread) (StepState, error) {
	pc, err := th.PC()
	if err != nil {
		return StepNonAtomic, err
	}
	in, err := readInst(t.mem, pc)
	if err != nil {
		return StepNonAtomic, err
	}
	atomic, err := t.family.IsAtomic(&in)
	if err != nil {
		return StepNonAtomic, err
	}
	if atomic {
		return StepNeedsDisplacedStep, nil
	}
	return StepNonAtomic, nil
}

// DisplacedStep is a step of an atomic instruction through a non-atomic
// copy in scratch memory.
type DisplacedStep struct {
	t     *Target
	th    *Thread
	State StepState
	// From is the address of the original instruction, To the address of
	// the copy.
	From, To uint64
	Inst     insn.Inst
}

// PrepareDisplacedStep copies the atomic instruction at the pc of th to
// scratch memory, clears its atomic control and moves the pc to the copy.
// The caller then single steps th and calls Finish.
func (t *Target) PrepareDisplacedStep(th *Thread) (*DisplacedStep, error) {
	const op = "prepare displaced step"
	pc, err := th.PC()
	if err != nil {
		return nil, err
	}
	in, err := readInst(t.mem, pc)
	if err != nil {
		return nil, err
	}
	branch, err := t.family.IsBranch(&in)
	if err != nil {
		return nil, err
	}
	if branch {
		return nil, gterr.Internalf(op, "atomic branch at %#x", pc)
	}
	if bp := t.breakpoints[pc]; bp != nil && !bp.Permanent {
		in.ClearBreakpoint()
	}
	if err := t.family.ClearAtomic(&in); err != nil {
		return nil, err
	}
	sc, err := t.Scratch(th)
	if err != nil {
		return nil, err
	}
	to, err := sc.Alloc(uint64(in.Len()))
	if err != nil {
		return nil, err
	}
	ds := &DisplacedStep{t: t, th: th, State: StepNeedsDisplacedStep, From: pc, To: to, Inst: in}
	if err := writeInst(t.mem, to, &in); err != nil {
		freeCopy(sc, to)
		return nil, err
	}
	if err := th.SetPC(to); err != nil {
		freeCopy(sc, to)
		return nil, err
	}
	ds.State = StepCopyPrepared
	logflags.SteppingLogger().Debugf("displaced step of %#x at %#x", pc, to)
	return ds, nil
}

// freeCopy releases the copy of a displaced step that could not be
// prepared.
func freeCopy(sc *scratch.Allocator, addr uint64) {
	if err := sc.Free(addr); err != nil {
		logflags.SteppingLogger().Debugf("releasing displaced step copy at %#x: %v", addr, err)
	}
}

// Finish moves the pc of the thread back from the copy to the original
// instruction stream, by the displacement of the copy, and releases the
// copy. It must be called exactly once, also when the step failed.
func (ds *DisplacedStep) Finish() error {
	if ds.State != StepCopyPrepared {
		return gterr.Internalf("finish displaced step", "displaced step in state %v", ds.State)
	}
	ds.State = StepCopyExecuted
	sc, err := ds.t.Scratch(ds.th)
	if err != nil {
		return err
	}
	pc, err := ds.th.PC()
	if err == nil {
		if pc < ds.To {
			err = gterr.Targetf("finish displaced step", "pc %#x before the copy at %#x", pc, ds.To)
		} else {
			err = ds.th.SetPC(ds.From + (pc - ds.To))
		}
	}
	if ferr := sc.Free(ds.To); err == nil {
		err = ferr
	}
	return err
}

// SoftwareSingleStep returns the addresses where a step breakpoint must be
// placed to single step th. It is only needed for atomic instructions: for
// those it returns the first address after the sequence. Otherwise it
// returns nil and the hardware single step is used.
func (t *Target) SoftwareSingleStep(th *Thread) ([]uint64, error) {
	pc, err := th.PC()
	if err != nil {
		return nil, err
	}
	in, err := readInst(t.mem, pc)
	if err != nil {
		return nil, err
	}
	atomic, err := t.family.IsAtomic(&in)
	if err != nil {
		return nil, err
	}
	if !atomic {
		return nil, nil
	}
	branch, err := t.family.IsBranch(&in)
	if err != nil {
		return nil, err
	}
	if branch {
		return nil, gterr.Internalf("software single step", "atomic branch at %#x", pc)
	}
	next, err := t.AdjustBreakpointAddress(pc + uint64(in.Len()))
	if err != nil {
		return nil, err
	}
	logflags.SteppingLogger().Debugf("software single step of atomic instruction at %#x: step breakpoint at %#x", pc, next)
	return []uint64{next}, nil
}
