package proc_test

import (
	"context"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/simtdbg/simtdbg/pkg/config"
	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
	"github.com/simtdbg/simtdbg/pkg/gt/insn"
	"github.com/simtdbg/simtdbg/pkg/gt/regnum"
	"github.com/simtdbg/simtdbg/pkg/proc"
	"github.com/simtdbg/simtdbg/pkg/proc/gttest"
)

const (
	xeDevice  = 0x0bd5
	xe2Device = 0x6420

	// atomic control bit of full Xe instructions
	xeAtomicBit = 32

	kernelEnd = gttest.ISABase + 0x2000
)

func testModule(fns ...proc.Function) *proc.ModuleInfo {
	return proc.NewModuleInfo(fns, []proc.Kernel{{Name: "kernel", Entry: gttest.ISABase, End: kernelEnd, SIMDWidth: 16}})
}

func nopInst(t *testing.T) insn.Inst {
	t.Helper()
	in, err := insn.Xe.Nop()
	if err != nil {
		t.Fatalf("Nop: %v", err)
	}
	return in
}

func atomicInst(t *testing.T) insn.Inst {
	t.Helper()
	in := nopInst(t)
	if _, err := in.SetBit(xeAtomicBit); err != nil {
		t.Fatal(err)
	}
	if ok, _ := insn.Xe.IsAtomic(&in); !ok {
		t.Fatalf("instruction %x is not atomic", in.Bytes())
	}
	return in
}

func branchInst(atomic bool) insn.Inst {
	var in insn.Inst
	in[0] = insn.OpJmpi
	if atomic {
		in.SetBit(xeAtomicBit)
	}
	return in
}

func TestNewTarget(t *testing.T) {
	d := gttest.NewDevice(t, gttest.Options{DeviceID: xeDevice})
	if v := d.Target.ArchInfo().Version(); v != regnum.XeHPC {
		t.Errorf("version: got %v, expected %v", v, regnum.XeHPC)
	}
	if f := d.Target.Family(); f != insn.Xe {
		t.Errorf("family: got %v, expected %v", f, insn.Xe)
	}
	if d.Target.Device.ID != xeDevice {
		t.Errorf("device: got %#x", d.Target.Device.ID)
	}

	_, err := proc.NewTarget(new(regnum.Cache), proc.NewTargetConfig{DeviceID: 0x1234})
	if !gterr.IsTarget(err) {
		t.Errorf("unknown device: expected a target error, got %v", err)
	}
}

func TestNewTargetFeatures(t *testing.T) {
	gen9, err := new(regnum.Cache).GetOrCreate(regnum.Gen9)
	if err != nil {
		t.Fatal(err)
	}
	// The target description wins over the device table.
	logs := gttest.CaptureLogs(t)
	d := gttest.NewDevice(t, gttest.Options{DeviceID: xeDevice, Features: gen9.Features()})
	if v := d.Target.ArchInfo().Version(); v != regnum.Gen9 {
		t.Errorf("version: got %v, expected %v", v, regnum.Gen9)
	}
	if out := logs.String(); !strings.Contains(out, "level=warning") || !strings.Contains(out, "target description is gen9") {
		t.Errorf("no mismatch warning, log was:\n%s", out)
	}

	bad := gen9.Features()
	bad[0].Registers = bad[0].Registers[1:]
	_, err = proc.NewTarget(new(regnum.Cache), proc.NewTargetConfig{DeviceID: xeDevice, Features: bad})
	if !gterr.IsTarget(err) {
		t.Errorf("bad features: expected a target error, got %v", err)
	}
}

func TestPC(t *testing.T) {
	d := gttest.NewDevice(t, gttest.Options{})
	pc, err := d.Thread.PC()
	if err != nil {
		t.Fatal(err)
	}
	if pc != gttest.ISABase {
		t.Errorf("pc: got %#x, expected %#x", pc, gttest.ISABase)
	}
	if err := d.Thread.SetPC(gttest.ISABase + 0x40); err != nil {
		t.Fatal(err)
	}
	if ip := d.Regs.Uint(d.Target.ArchInfo().PC()); ip != 0x40 {
		t.Errorf("ip: got %#x, expected 0x40", ip)
	}
	if err := d.Thread.SetPC(gttest.ISABase - 16); !gterr.IsTarget(err) {
		t.Errorf("pc below isabase: expected a target error, got %v", err)
	}
}

func TestSIMDWidthFromMetadata(t *testing.T) {
	d := gttest.NewDevice(t, gttest.Options{BinInfo: testModule()})
	w, err := d.Thread.SIMDWidth()
	if err != nil {
		t.Fatal(err)
	}
	if w != 16 {
		t.Errorf("SIMD width: got %d, expected 16", w)
	}

	d.Regs.SetUint(d.Target.ArchInfo().Emask(), 0xa)
	lanes, err := d.Thread.ActiveLanes()
	if err != nil {
		t.Fatal(err)
	}
	if len(lanes) != 2 || lanes[0] != 1 || lanes[1] != 3 {
		t.Errorf("active lanes: got %v, expected [1 3]", lanes)
	}

	if err := d.Thread.SelectLane(16); !gterr.IsTarget(err) {
		t.Errorf("lane 16: expected a target error, got %v", err)
	}
	if err := d.Thread.SelectLane(15); err != nil {
		t.Errorf("lane 15: %v", err)
	}
}

func writeImplicitArgs(t *testing.T, d *gttest.Device, addr uint64, width byte) {
	t.Helper()
	ptr := make([]byte, 8)
	binary.LittleEndian.PutUint64(ptr, addr)
	if err := d.Regs.WriteRegister(0, 8, ptr); err != nil {
		t.Fatal(err)
	}
	if _, err := d.Mem.WriteMemory(addr, []byte{32, 1, 3, width}); err != nil {
		t.Fatal(err)
	}
}

func TestSIMDWidthFromImplicitArgs(t *testing.T) {
	const args = gttest.StackBase + 0x3000
	logs := gttest.CaptureLogs(t)
	d := gttest.NewDevice(t, gttest.Options{})
	writeImplicitArgs(t, d, args, 32)

	w, err := d.Thread.SIMDWidth()
	if err != nil {
		t.Fatal(err)
	}
	if w != 32 {
		t.Errorf("SIMD width: got %d, expected 32", w)
	}
	if out := logs.String(); !strings.Contains(out, "level=warning") || !strings.Contains(out, "using SIMD32 from implicit arguments") {
		t.Errorf("no fallback warning, log was:\n%s", out)
	}
	mask, err := d.Thread.ExecMask()
	if err != nil {
		t.Fatal(err)
	}
	if mask != 0xffffffff {
		t.Errorf("exec mask: got %#x", mask)
	}

	// Valid until the next resume.
	writeImplicitArgs(t, d, args, 8)
	if w, _ := d.Thread.SIMDWidth(); w != 32 {
		t.Errorf("SIMD width before resume: got %d, expected 32", w)
	}
	d.Runner.Script = append(d.Runner.Script, gttest.StopAt(d.Regs, gttest.ISABase+0x10, proc.StopStep))
	if _, err := d.Target.Resume(context.Background(), d.Thread); err != nil {
		t.Fatal(err)
	}
	if w, _ := d.Thread.SIMDWidth(); w != 8 {
		t.Errorf("SIMD width after resume: got %d, expected 8", w)
	}

	writeImplicitArgs(t, d, args, 7)
	d.Target.ClearCaches()
	if _, err := d.Thread.SIMDWidth(); !gterr.IsTarget(err) {
		t.Errorf("SIMD7: expected a target error, got %v", err)
	}
}

func TestSIMDWidthNoSource(t *testing.T) {
	d := gttest.NewDevice(t, gttest.Options{})
	if _, err := d.Thread.SIMDWidth(); !gterr.IsTarget(err) {
		t.Errorf("expected a target error, got %v", err)
	}
}

func TestResumeErrors(t *testing.T) {
	d := gttest.NewDevice(t, gttest.Options{})
	_, err := d.Target.Resume(context.Background(), d.Thread)
	if !gterr.IsTarget(err) {
		t.Errorf("empty script: expected a target error, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Target.Resume(ctx, d.Thread); err == nil {
		t.Errorf("cancelled context: expected an error")
	}
}

func TestScratch(t *testing.T) {
	d := gttest.NewDevice(t, gttest.Options{})
	sc, err := d.Target.Scratch(d.Thread)
	if err != nil {
		t.Fatal(err)
	}
	if sc.Start() != gttest.ISABase+gttest.ScratchBegin || sc.Size() != gttest.ScratchEnd-gttest.ScratchBegin {
		t.Errorf("scratch region: got [%#x, +%#x)", sc.Start(), sc.Size())
	}
	sc2, err := d.Target.Scratch(d.Thread)
	if err != nil {
		t.Fatal(err)
	}
	if sc != sc2 {
		t.Errorf("scratch allocator created twice")
	}

	// No header at the configured offset.
	d = gttest.NewDevice(t, gttest.Options{Config: &config.Config{DebugAreaOffset: 0x800}})
	if _, err := d.Target.Scratch(d.Thread); !gterr.IsTarget(err) {
		t.Errorf("missing header: expected a target error, got %v", err)
	}
}

func TestDevices(t *testing.T) {
	devs := proc.Devices()
	if len(devs) == 0 {
		t.Fatal("no devices")
	}
	for i := 1; i < len(devs); i++ {
		if devs[i-1].ID >= devs[i].ID {
			t.Errorf("devices not sorted: %#x before %#x", devs[i-1].ID, devs[i].ID)
		}
	}
	for _, dev := range devs {
		got, err := proc.LookupDevice(dev.ID)
		if err != nil {
			t.Errorf("%#x: %v", dev.ID, err)
			continue
		}
		if got.Version == regnum.VersionUnknown || got.Family == insn.FamilyUnknown {
			t.Errorf("%#x: incomplete entry %+v", dev.ID, got)
		}
	}
}
