package proc_test

import (
	"strings"
	"testing"

	"github.com/simtdbg/simtdbg/pkg/config"
	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
	"github.com/simtdbg/simtdbg/pkg/proc"
	"github.com/simtdbg/simtdbg/pkg/proc/gttest"
)

const fnEntry = gttest.ISABase + 0x100

// atomicDevice returns a device with a function at fnEntry made of a nop,
// the atomic sequence atomic, atomic, nop, and a nop.
func atomicDevice(t *testing.T) (*gttest.Device, []uint64) {
	t.Helper()
	fn := proc.Function{Name: "main", Entry: fnEntry, End: fnEntry + 5*16}
	d := gttest.NewDevice(t, gttest.Options{BinInfo: testModule(fn)})
	pcs := d.WriteCode(t, fnEntry, nopInst(t), atomicInst(t), atomicInst(t), nopInst(t), nopInst(t))
	return d, pcs
}

func TestAdjustBreakpointAddress(t *testing.T) {
	d, pcs := atomicDevice(t)
	for _, tc := range []struct {
		addr, exp uint64
	}{
		{pcs[0], pcs[0]},
		// The first instruction of a sequence can be stopped at.
		{pcs[1], pcs[1]},
		{pcs[2], pcs[4]},
		// So is the last one, the non-atomic instruction that ends it.
		{pcs[3], pcs[4]},
		{pcs[4], pcs[4]},
		// Outside of any function.
		{gttest.ISABase + 0x800, gttest.ISABase + 0x800},
	} {
		got, err := d.Target.AdjustBreakpointAddress(tc.addr)
		if err != nil {
			t.Errorf("%#x: %v", tc.addr, err)
			continue
		}
		if got != tc.exp {
			t.Errorf("%#x: got %#x, expected %#x", tc.addr, got, tc.exp)
		}
	}
}

func TestAdjustBreakpointAddressEntry(t *testing.T) {
	fn := proc.Function{Name: "main", Entry: fnEntry, End: fnEntry + 3*16}
	d := gttest.NewDevice(t, gttest.Options{BinInfo: testModule(fn)})
	d.WriteCode(t, fnEntry, nopInst(t), atomicInst(t), nopInst(t))
	reads := d.Mem.Reads
	got, err := d.Target.AdjustBreakpointAddress(fnEntry)
	if err != nil {
		t.Fatal(err)
	}
	if got != fnEntry {
		t.Errorf("got %#x, expected %#x", got, fnEntry)
	}
	if d.Mem.Reads != reads {
		t.Errorf("function scanned for its entry point: %d reads", d.Mem.Reads-reads)
	}
}

func TestAdjustBreakpointAddressErrors(t *testing.T) {
	// branch inside an atomic sequence
	fn := proc.Function{Name: "bad", Entry: fnEntry, End: fnEntry + 4*16}
	d := gttest.NewDevice(t, gttest.Options{BinInfo: testModule(fn)})
	pcs := d.WriteCode(t, fnEntry, nopInst(t), atomicInst(t), branchInst(false), nopInst(t))
	if _, err := d.Target.AdjustBreakpointAddress(pcs[3]); !gterr.IsInternal(err) {
		t.Errorf("branch in sequence: expected an internal error, got %v", err)
	}

	// sequence running past the end of the function
	fn = proc.Function{Name: "short", Entry: fnEntry, End: fnEntry + 3*16}
	d = gttest.NewDevice(t, gttest.Options{BinInfo: testModule(fn)})
	pcs = d.WriteCode(t, fnEntry, nopInst(t), atomicInst(t), atomicInst(t))
	if _, err := d.Target.AdjustBreakpointAddress(pcs[2]); !gterr.IsInternal(err) {
		t.Errorf("unterminated sequence: expected an internal error, got %v", err)
	}
}

func TestBreakpoints(t *testing.T) {
	d, pcs := atomicDevice(t)

	bp, err := d.Target.SetBreakpoint(pcs[2])
	if err != nil {
		t.Fatal(err)
	}
	if bp.Addr != pcs[4] || bp.RequestedAddr != pcs[2] || bp.Permanent {
		t.Errorf("breakpoint: got %+v", bp)
	}
	if in := d.ReadInst(t, pcs[4]); !in.HasBreakpoint() {
		t.Errorf("breakpoint bit not written at %#x", pcs[4])
	}
	if in := d.ReadInst(t, pcs[2]); in.HasBreakpoint() {
		t.Errorf("breakpoint bit written inside the atomic sequence")
	}

	_, err = d.Target.SetBreakpoint(pcs[3])
	if _, ok := err.(proc.BreakpointExistsError); !ok {
		t.Errorf("second breakpoint: expected BreakpointExistsError, got %v", err)
	}

	if _, err := d.Target.SetBreakpoint(pcs[0]); err != nil {
		t.Fatal(err)
	}
	bps := d.Target.Breakpoints()
	if len(bps) != 2 || bps[0].Addr != pcs[0] || bps[1].Addr != pcs[4] {
		t.Errorf("breakpoints: got %v", bps)
	}

	if err := d.Target.ClearBreakpoint(pcs[4]); err != nil {
		t.Fatal(err)
	}
	if in := d.ReadInst(t, pcs[4]); in.HasBreakpoint() {
		t.Errorf("breakpoint bit not cleared at %#x", pcs[4])
	}
	if d.Target.BreakpointAt(pcs[4]) != nil {
		t.Errorf("breakpoint still listed")
	}
	err = d.Target.ClearBreakpoint(pcs[4])
	if _, ok := err.(proc.NoBreakpointError); !ok {
		t.Errorf("clearing twice: expected NoBreakpointError, got %v", err)
	}
}

func TestPermanentBreakpoint(t *testing.T) {
	logs := gttest.CaptureLogs(t)
	fn := proc.Function{Name: "main", Entry: fnEntry, End: fnEntry + 2*16}
	d := gttest.NewDevice(t, gttest.Options{BinInfo: testModule(fn)})
	in := nopInst(t)
	in.SetBreakpoint()
	pcs := d.WriteCode(t, fnEntry, in, nopInst(t))

	bp, err := d.Target.SetBreakpoint(pcs[0])
	if err != nil {
		t.Fatalf("permanent breakpoint must not fail: %v", err)
	}
	if !bp.Permanent {
		t.Errorf("breakpoint not permanent")
	}
	if err := d.Target.ClearBreakpoint(pcs[0]); err != nil {
		t.Fatal(err)
	}
	if in := d.ReadInst(t, pcs[0]); !in.HasBreakpoint() {
		t.Errorf("permanent breakpoint bit removed")
	}
	if out := logs.String(); !strings.Contains(out, "level=warning") || !strings.Contains(out, "it is permanent") {
		t.Errorf("no permanent breakpoint warning, log was:\n%s", out)
	}
}

func TestPermanentBreakpointQuiet(t *testing.T) {
	logs := gttest.CaptureLogs(t)
	quiet := false
	fn := proc.Function{Name: "main", Entry: fnEntry, End: fnEntry + 2*16}
	d := gttest.NewDevice(t, gttest.Options{BinInfo: testModule(fn), Config: &config.Config{WarnPermanentBreakpoints: &quiet}})
	in := nopInst(t)
	in.SetBreakpoint()
	pcs := d.WriteCode(t, fnEntry, in, nopInst(t))
	bp, err := d.Target.SetBreakpoint(pcs[0])
	if err != nil || !bp.Permanent {
		t.Fatalf("got %+v, %v", bp, err)
	}
	if out := logs.String(); strings.Contains(out, "level=warning") {
		t.Errorf("unexpected warning:\n%s", out)
	}
}

func TestBreakpointMemoryFault(t *testing.T) {
	d := gttest.NewDevice(t, gttest.Options{})
	d.Mem.Fault(fnEntry)
	if _, err := d.Target.SetBreakpoint(fnEntry); !gterr.IsTarget(err) {
		t.Errorf("expected a target error, got %v", err)
	}
	if len(d.Target.Breakpoints()) != 0 {
		t.Errorf("failed breakpoint recorded")
	}
}
