package proc

import (
	"context"
	"errors"

	"github.com/simtdbg/simtdbg/pkg/gt/abi"
	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
	"github.com/simtdbg/simtdbg/pkg/gt/regnum"
	"github.com/simtdbg/simtdbg/pkg/logflags"
)

// This file implements calls of device functions from the debugger.
//
// The call is made by one lane of a stopped thread. Two instructions are
// written to scratch memory:
//
//	stub:      (f1) calla <function>, r1    predicated on the calling lane
//	stub+16:   nop                          with the breakpoint bit set
//
// the arguments are laid out as the callee expects them (package abi), the
// execution mask and f1 are set to the calling lane and the thread resumes
// at the stub. When the function returns the thread stops at the nop, the
// trampoline, and the return value is read.
//
// If the thread stops anywhere else (an exception or an interrupt from the
// host) the call is unwound: a ret through r1 is written to a separate
// scratch slot and executed so that the callee frame is popped and control
// returns through the trampoline.
//
// In both cases the registers saved before the call are restored and all
// scratch memory is freed, exactly once.

const (
	// fncallRetReg is the GRF where the call saves the return address.
	fncallRetReg = retPCGRF
	// fncallFlagReg is the flag register predicating the call.
	fncallFlagReg = 1

	fncallStubSize = 2 * 16
)

var (
	errFuncCallInProgress = errors.New("cannot call function while another function call is already in progress")
	errFuncCallNoFunction = errors.New("no function to call")
)

// CallReturn describes a completed inferior call.
type CallReturn struct {
	Info     *regnum.ArchInfo
	Function *Function
	// ReturnType is nil for functions that return nothing.
	ReturnType abi.Type
	// StructReturn is set when the value was returned through a hidden
	// pointer to StructReturnAddr.
	StructReturn     bool
	StructReturnAddr uint64
	// Value is the return value of the calling lane.
	Value []byte
}

// dummyCall is the state that must be undone after an inferior call.
type dummyCall struct {
	t     *Target
	th    *Thread
	arch  *regnum.ArchInfo
	width int

	// stub is the address of the injected call, the trampoline follows it.
	stub  uint64
	emask uint64
	saved [][]byte
	// slots lists every scratch allocation made for the call.
	slots []uint64
	done  bool
}

func (dc *dummyCall) trampoline() uint64 { return dc.stub + 16 }

// CallFunction calls fn with args on the selected lane of th and returns
// its value of type ret, nil if it returns nothing. The state of th is
// restored whatever the outcome.
func (t *Target) CallFunction(ctx context.Context, th *Thread, fn *Function, args []abi.Value, ret abi.Type) (cr *CallReturn, err error) {
	if t.fncallInProgress {
		return nil, errFuncCallInProgress
	}
	if fn == nil {
		return nil, errFuncCallNoFunction
	}
	t.fncallInProgress = true
	defer func() {
		t.fncallInProgress = false
	}()

	log := logflags.FnCallLogger()
	width, err := th.SIMDWidth()
	if err != nil {
		return nil, err
	}
	lane := th.Lane()
	if lane >= width {
		return nil, gterr.Targetf("call function", "lane %d out of SIMD width %d", lane, width)
	}

	dc, err := t.injectCall(th, fn, width)
	if err != nil {
		return nil, err
	}
	defer func() {
		if cerr := dc.release(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	conv := t.convention(th, width)
	layout, err := conv.PushArguments(args, ret)
	if err != nil {
		return nil, err
	}
	if err := th.SetPC(dc.stub); err != nil {
		return nil, err
	}

	log.Debugf("calling %s at %#x from lane %d of thread %d (SIMD%d), stub at %#x", fn.Name, fn.Entry, lane, th.ID, width, dc.stub)
	sr, err := t.Resume(ctx, th)
	if err != nil {
		return nil, err
	}
	// Resume dropped the cached width.
	th.simdWidth = width
	pc, err := th.PC()
	if err != nil {
		return nil, err
	}
	if pc != dc.trampoline() {
		log.Debugf("call of %s interrupted at %#x (%v)", fn.Name, pc, sr)
		if sr != StopExited {
			if uerr := dc.unwind(ctx); uerr != nil {
				return nil, uerr
			}
		}
		return nil, gterr.Targetf("call function", "call of %s interrupted at %#x: %v", fn.Name, pc, sr)
	}

	cr = &CallReturn{
		Info:             t.info,
		Function:         fn,
		ReturnType:       ret,
		StructReturn:     layout.StructReturn,
		StructReturnAddr: layout.StructReturnAddr,
	}
	if ret != nil {
		cr.Value, err = conv.ReturnValue(ret, layout)
		if err != nil {
			return nil, err
		}
	}
	log.Debugf("call of %s returned", fn.Name)
	return cr, nil
}

// ReturnValue reads the value of type typ returned to the selected lane of
// th by a call laid out as layout.
func (t *Target) ReturnValue(th *Thread, typ abi.Type, layout *abi.CallLayout) ([]byte, error) {
	width, err := th.SIMDWidth()
	if err != nil {
		return nil, err
	}
	return t.convention(th, width).ReturnValue(typ, layout)
}

func (t *Target) convention(th *Thread, width int) *abi.Convention {
	return &abi.Convention{
		Info:      t.info,
		SIMDWidth: width,
		Lane:      th.Lane(),
		Regs:      th.regs,
		Mem:       t.mem,
	}
}

// injectCall saves the registers of th, writes the call stub and limits
// execution to the selected lane.
func (t *Target) injectCall(th *Thread, fn *Function, width int) (*dummyCall, error) {
	const op = "inject call"
	info := t.info
	saved, err := th.saveRegisters()
	if err != nil {
		return nil, err
	}
	isabase, err := th.ISABase()
	if err != nil {
		return nil, err
	}
	if fn.Entry < isabase {
		return nil, gterr.Targetf(op, "%s at %#x is below the ISA base %#x", fn.Name, fn.Entry, isabase)
	}
	emask, err := readRegUint(th.regs, info.Emask(), info.RegSize(info.Emask()))
	if err != nil {
		return nil, err
	}
	sc, err := t.Scratch(th)
	if err != nil {
		return nil, err
	}
	stub, err := sc.Alloc(fncallStubSize)
	if err != nil {
		return nil, err
	}
	dc := &dummyCall{t: t, th: th, arch: info, width: width, stub: stub, emask: emask, saved: saved, slots: []uint64{stub}}

	call, err := t.family.Call(uint32(fn.Entry-isabase), fncallRetReg, width)
	if err == nil {
		err = t.family.SetPredicate(&call, fncallFlagReg, 0)
	}
	if err == nil {
		err = writeInst(t.mem, stub, &call)
	}
	if err != nil {
		dc.abort()
		return nil, err
	}
	nop, err := t.family.Nop()
	if err == nil {
		nop.SetBreakpoint()
		err = writeInst(t.mem, dc.trampoline(), &nop)
	}
	if err != nil {
		dc.abort()
		return nil, err
	}

	mask := uint64(1) << uint(th.Lane())
	flag := info.FlagBase() + fncallFlagReg
	if err := writeRegUint(th.regs, flag, info.RegSize(flag), mask); err != nil {
		dc.abort()
		return nil, err
	}
	if err := writeRegUint(th.regs, info.Emask(), info.RegSize(info.Emask()), mask); err != nil {
		dc.abort()
		return nil, err
	}
	logflags.FnCallLogger().Debugf("saved emask %#x, lane mask %#x in f%d", emask, mask, fncallFlagReg)
	return dc, nil
}

// unwind returns from the interrupted callee through the trampoline.
func (dc *dummyCall) unwind(ctx context.Context) error {
	const op = "unwind call"
	t, th := dc.t, dc.th
	sc, err := t.Scratch(th)
	if err != nil {
		return err
	}
	ret, err := t.family.Return(fncallRetReg, dc.width)
	if err != nil {
		return err
	}
	slot, err := sc.Alloc(uint64(ret.Len()))
	if err != nil {
		return err
	}
	dc.slots = append(dc.slots, slot)
	if err := writeInst(t.mem, slot, &ret); err != nil {
		return err
	}
	if err := th.SetPC(slot); err != nil {
		return err
	}
	logflags.FnCallLogger().Debugf("unwinding through ret at %#x", slot)
	if _, err := t.Resume(ctx, th); err != nil {
		return err
	}
	pc, err := th.PC()
	if err != nil {
		return err
	}
	if pc != dc.trampoline() {
		return gterr.Targetf(op, "thread %d stopped at %#x instead of the trampoline %#x", th.ID, pc, dc.trampoline())
	}
	return nil
}

// release restores the registers of the thread and frees the scratch
// memory of the call. Only the first call has an effect.
// abort releases dc on a failed injection, where the injection error is
// the one reported.
func (dc *dummyCall) abort() {
	if err := dc.release(); err != nil {
		logflags.FnCallLogger().Debugf("cleanup of aborted call on thread %d: %v", dc.th.ID, err)
	}
}

func (dc *dummyCall) release() error {
	if dc.done {
		return nil
	}
	dc.done = true
	var err error
	if rerr := dc.th.restoreRegisters(dc.saved); rerr != nil {
		err = rerr
	}
	dc.th.invalidate()
	sc, serr := dc.t.Scratch(dc.th)
	if serr != nil {
		if err == nil {
			err = serr
		}
		return err
	}
	for _, addr := range dc.slots {
		if ferr := sc.Free(addr); ferr != nil && err == nil {
			err = ferr
		}
	}
	dc.slots = nil
	logflags.FnCallLogger().Debugf("restored thread %d, emask %#x", dc.th.ID, dc.emask)
	return err
}
