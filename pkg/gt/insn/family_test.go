package insn

import (
	"testing"

	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
)

func compacted(t *testing.T, f Family, op uint8, ctrlIdx uint32) Inst {
	var in Inst
	in[0] = op
	in[3] |= 0x20
	if err := f.SetCtrlIndex(&in, ctrlIdx); err != nil {
		t.Fatal(err)
	}
	return in
}

func isAtomic(t *testing.T, f Family, in *Inst) bool {
	a, err := f.IsAtomic(in)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestXe2DpasClearAtomic(t *testing.T) {
	in := compacted(t, Xe2, OpDpas, 0x0)
	if !isAtomic(t, Xe2, &in) {
		t.Fatal("dpas with control index 0 should be atomic")
	}
	if err := Xe2.ClearAtomic(&in); err != nil {
		t.Fatal(err)
	}
	idx, err := Xe2.CtrlIndex(&in)
	if err != nil {
		t.Fatal(err)
	}
	if idx != 0x10 {
		t.Fatalf("control index remapped to %#x, want 0x10", idx)
	}
	if isAtomic(t, Xe2, &in) {
		t.Fatal("remapped dpas still atomic")
	}
	if in.Opcode() != OpDpas || !in.IsCompacted() {
		t.Fatalf("ClearAtomic changed the instruction: %x", in)
	}
}

func TestCompactedAtomicOnlyForMatrixOps(t *testing.T) {
	in := compacted(t, Xe2, 0x61, 0x0)
	if isAtomic(t, Xe2, &in) {
		t.Fatal("compacted mov should not be atomic")
	}
	in = compacted(t, Gen9, OpDpas, 0x0)
	if isAtomic(t, Gen9, &in) {
		t.Fatal("gen9 has no compacted atomic instructions")
	}
}

func TestXeClearAtomicNoMapping(t *testing.T) {
	in := compacted(t, Xe, OpDpasw, 0x0c)
	if !isAtomic(t, Xe, &in) {
		t.Fatal("expected atomic instruction")
	}
	orig := in
	err := Xe.ClearAtomic(&in)
	if !gterr.IsTarget(err) {
		t.Fatalf("ClearAtomic without a non-atomic twin: %v, want target error", err)
	}
	if in != orig {
		t.Fatal("failed ClearAtomic modified the instruction")
	}

	in = compacted(t, Xe, OpDpasw, 0x03)
	if err := Xe.ClearAtomic(&in); err != nil {
		t.Fatal(err)
	}
	if idx, _ := Xe.CtrlIndex(&in); idx != 0x13 {
		t.Fatalf("control index remapped to %#x, want 0x13", idx)
	}
}

func TestFullAtomic(t *testing.T) {
	for _, tc := range []struct {
		f       Family
		atomic  int
		forward []int
	}{
		{Gen9, 14, []int{9, 10}},
		{Xe, 32, []int{33}},
		{Xe2, 34, []int{35}},
	} {
		var in Inst
		in[0] = 0x61
		in.setBit(tc.atomic)
		for _, b := range tc.forward {
			in.setBit(b)
		}
		if !isAtomic(t, tc.f, &in) {
			t.Fatalf("%v: atomic bit %d not detected", tc.f, tc.atomic)
		}
		if err := tc.f.ClearAtomic(&in); err != nil {
			t.Fatal(err)
		}
		if isAtomic(t, tc.f, &in) {
			t.Fatalf("%v: still atomic after ClearAtomic", tc.f)
		}
		for _, b := range tc.forward {
			if in.bit(b) {
				t.Fatalf("%v: forwarding bit %d not cleared", tc.f, b)
			}
		}
		if in.Opcode() != 0x61 {
			t.Fatalf("%v: opcode changed to %#x", tc.f, in.Opcode())
		}
	}
}

func TestIsBranch(t *testing.T) {
	for _, f := range []Family{Gen9, Xe, Xe2} {
		for op := 0; op < 0x80; op++ {
			var in Inst
			in[0] = uint8(op)
			got, err := f.IsBranch(&in)
			if err != nil {
				t.Fatal(err)
			}
			want := op >= 0x20 && op <= 0x2f && op != 0x26
			if got != want {
				t.Errorf("%v: IsBranch(%#x) = %v, want %v", f, op, got, want)
			}
		}
	}
	var in Inst
	if _, err := FamilyUnknown.IsBranch(&in); !gterr.IsInternal(err) {
		t.Fatalf("unknown family: %v", err)
	}
}

func TestEncoders(t *testing.T) {
	for _, f := range []Family{Gen9, Xe, Xe2} {
		call, err := f.Call(0x1230, 1, 16)
		if err != nil {
			t.Fatal(err)
		}
		if call.IsCompacted() || call.Opcode() != OpCalla {
			t.Fatalf("%v: bad call %x", f, call)
		}
		if target, _ := f.CallTarget(&call); target != 0x1230 {
			t.Fatalf("%v: call target %#x", f, target)
		}
		if w, _ := f.ExecSize(&call); w != 16 {
			t.Fatalf("%v: call exec size %d", f, w)
		}
		if err := f.SetPredicate(&call, 1, 0); err != nil {
			t.Fatal(err)
		}
		ctrl, reg, sub, _ := f.Predicate(&call)
		if ctrl != 1 || reg != 1 || sub != 0 {
			t.Fatalf("%v: predicate %d f%d.%d", f, ctrl, reg, sub)
		}
		if isAtomic(t, f, &call) || call.HasBreakpoint() {
			t.Fatalf("%v: call has stray control bits", f)
		}
		if b, _ := f.IsBranch(&call); !b {
			t.Fatalf("%v: call is not a branch", f)
		}

		ret, err := f.Return(1, 8)
		if err != nil {
			t.Fatal(err)
		}
		if ret.Opcode() != OpRet {
			t.Fatalf("%v: ret opcode %#x", f, ret.Opcode())
		}

		nop, err := f.Nop()
		if err != nil {
			t.Fatal(err)
		}
		if b, _ := f.IsBranch(&nop); b || nop.IsCompacted() {
			t.Fatalf("%v: bad nop %x", f, nop)
		}
	}
	if _, err := Xe.Call(0, 1, 3); !gterr.IsInternal(err) {
		t.Fatalf("odd SIMD width: %v", err)
	}
}
