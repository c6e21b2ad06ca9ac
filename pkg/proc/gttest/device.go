package gttest

import (
	"testing"

	"github.com/simtdbg/simtdbg/pkg/config"
	"github.com/simtdbg/simtdbg/pkg/gt/insn"
	"github.com/simtdbg/simtdbg/pkg/gt/regnum"
	"github.com/simtdbg/simtdbg/pkg/proc"
)

// Default layout of the fake device.
const (
	ISABase      = 0x100000
	ScratchBegin = 0x1000
	ScratchEnd   = 0x1100
	StackBase    = 0x200000
)

// Device is a fake device with one hardware thread.
type Device struct {
	Target *proc.Target
	Thread *proc.Thread
	Mem    *Memory
	Regs   *Registers
	Runner *Runner
}

// Options configures NewDevice.
type Options struct {
	DeviceID uint32
	BinInfo  proc.BinaryInfo
	Config   *config.Config
	Features []regnum.Feature
}

// NewDevice returns a stopped fake device: the debug area header is at the
// ISA base, the stack is mapped and the thread's pc is the ISA base.
func NewDevice(t testing.TB, opts Options) *Device {
	t.Helper()
	mem := NewMemory()
	mem.Map(ISABase, PageSize)
	mem.WriteDebugArea(ISABase, ScratchBegin, ScratchEnd)
	mem.Map(StackBase, 4*PageSize)
	runner := &Runner{}
	if opts.DeviceID == 0 {
		opts.DeviceID = 0x0bd5
	}
	tgt, err := proc.NewTarget(new(regnum.Cache), proc.NewTargetConfig{
		DeviceID: opts.DeviceID,
		Features: opts.Features,
		Mem:      mem,
		Runner:   runner,
		BinInfo:  opts.BinInfo,
		Config:   opts.Config,
	})
	if err != nil {
		t.Fatalf("NewTarget: %v", err)
	}
	info := tgt.ArchInfo()
	regs := NewRegisters(info)
	regs.SetPC(ISABase, ISABase)
	regs.SetUint(info.SP(), StackBase)
	regs.SetUint(info.Emask(), 0xffffffff)
	return &Device{
		Target: tgt,
		Thread: tgt.NewThread(1, regs),
		Mem:    mem,
		Regs:   regs,
		Runner: runner,
	}
}

// WriteCode writes insts back to back starting at addr and returns the
// address of each.
func (d *Device) WriteCode(t testing.TB, addr uint64, insts ...insn.Inst) []uint64 {
	t.Helper()
	r := make([]uint64, 0, len(insts))
	for i := range insts {
		r = append(r, addr)
		b := insts[i].Bytes()
		if _, err := d.Mem.WriteMemory(addr, b); err != nil {
			t.Fatalf("writing instruction at %#x: %v", addr, err)
		}
		addr += uint64(len(b))
	}
	return r
}

// ReadInst decodes the instruction at addr.
func (d *Device) ReadInst(t testing.TB, addr uint64) insn.Inst {
	t.Helper()
	in, err := insn.Decode(d.Mem.Bytes(addr, insn.MaxLength))
	if err != nil {
		t.Fatalf("decoding instruction at %#x: %v", addr, err)
	}
	return in
}
