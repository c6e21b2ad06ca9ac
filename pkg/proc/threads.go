package proc

import (
	"encoding/binary"
	"math"
	"math/bits"

	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
	"github.com/simtdbg/simtdbg/pkg/gt/regnum"
	"github.com/simtdbg/simtdbg/pkg/logflags"
)

// Location of the implicit arguments pointer in the thread payload:
// bytes [8, 16) of r0.
const (
	implicitArgsPtrGRF    = 0
	implicitArgsPtrOffset = 8
)

// Layout of the implicit arguments block: struct size, struct version,
// number of work dimensions, SIMD width, all single bytes.
const (
	implicitArgsHeaderSize = 4
	implicitArgsSIMDWidth  = 3
)

// Thread is a hardware thread of the device. Its SIMD width is recomputed
// after every stop.
type Thread struct {
	ID     int
	regs   RegisterCache
	target *Target

	lane      int
	simdWidth int // 0 when not yet computed for the current stop
}

// Target returns the target th belongs to.
func (th *Thread) Target() *Target { return th.target }

// Registers returns the register cache of th.
func (th *Thread) Registers() RegisterCache { return th.regs }

func (th *Thread) invalidate() {
	th.simdWidth = 0
}

func (th *Thread) info() *regnum.ArchInfo { return th.target.info }

// ISABase returns the base address of the instruction memory.
func (th *Thread) ISABase() (uint64, error) {
	info := th.info()
	return readRegUint(th.regs, info.ISABase(), info.RegSize(info.ISABase()))
}

// PC returns the address of the next instruction, the instruction pointer
// relative to the ISA base.
func (th *Thread) PC() (uint64, error) {
	isabase, err := th.ISABase()
	if err != nil {
		return 0, err
	}
	info := th.info()
	ip, err := readRegUint(th.regs, info.PC(), info.RegSize(info.PC()))
	if err != nil {
		return 0, err
	}
	return isabase + ip, nil
}

// SetPC moves th to pc.
func (th *Thread) SetPC(pc uint64) error {
	isabase, err := th.ISABase()
	if err != nil {
		return err
	}
	if pc < isabase || pc-isabase > math.MaxUint32 {
		return gterr.Targetf("set pc", "%#x is not addressable from ISA base %#x", pc, isabase)
	}
	info := th.info()
	return writeRegUint(th.regs, info.PC(), info.RegSize(info.PC()), pc-isabase)
}

// SIMDWidth returns the number of lanes of th. The width comes from the
// metadata of the kernel containing the pc; if there is none it is read
// from the implicit arguments of the thread.
func (th *Thread) SIMDWidth() (int, error) {
	if th.simdWidth != 0 {
		return th.simdWidth, nil
	}
	pc, err := th.PC()
	if err != nil {
		return 0, err
	}
	w, err := th.target.kernelSIMDWidth(pc)
	if err != nil {
		return 0, err
	}
	if w == 0 {
		w, err = th.implicitArgsSIMDWidth()
		if err != nil {
			return 0, err
		}
		logflags.GTLogger().Warnf("%v", gterr.Softf("simd width", "no kernel metadata at %#x, using SIMD%d from implicit arguments", pc, w))
	}
	switch w {
	case 1, 8, 16, 32:
	default:
		return 0, gterr.Targetf("simd width", "unsupported SIMD width %d at %#x", w, pc)
	}
	th.simdWidth = w
	return w, nil
}

func (t *Target) kernelSIMDWidth(pc uint64) (int, error) {
	if t.bi == nil {
		return 0, nil
	}
	if v, ok := t.kernelCache.get(pc); ok {
		if k := v.(*Kernel); k != nil {
			return k.SIMDWidth, nil
		}
		return 0, nil
	}
	k, err := t.bi.KernelAt(pc)
	if err != nil {
		return 0, gterr.Wrap(gterr.Target, "kernel metadata", err)
	}
	t.kernelCache.add(pc, k)
	if k == nil {
		return 0, nil
	}
	return k.SIMDWidth, nil
}

func (th *Thread) implicitArgsSIMDWidth() (int, error) {
	t := th.target
	addr, err := th.readGRFUint64(implicitArgsPtrGRF, implicitArgsPtrOffset)
	if err != nil {
		return 0, err
	}
	if addr == 0 {
		return 0, gterr.Targetf("simd width", "thread %d has no implicit arguments", th.ID)
	}
	if v, ok := t.implicitArgsCache.get(addr); ok {
		return v.(int), nil
	}
	buf := make([]byte, implicitArgsHeaderSize)
	if err := readFull(t.mem, buf, addr); err != nil {
		return 0, err
	}
	w := int(buf[implicitArgsSIMDWidth])
	t.implicitArgsCache.add(addr, w)
	return w, nil
}

func (th *Thread) readGRFUint64(grf, off int) (uint64, error) {
	buf := make([]byte, 8)
	if err := th.regs.ReadRegister(grf, off, buf); err != nil {
		return 0, gterr.Wrap(gterr.Target, "read register", err)
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// ExecMask returns the execution mask of th, limited to its SIMD width.
func (th *Thread) ExecMask() (uint32, error) {
	w, err := th.SIMDWidth()
	if err != nil {
		return 0, err
	}
	info := th.info()
	emask, err := readRegUint(th.regs, info.Emask(), info.RegSize(info.Emask()))
	if err != nil {
		return 0, err
	}
	return uint32(emask) & laneMask(w), nil
}

func laneMask(width int) uint32 {
	if width >= 32 {
		return math.MaxUint32
	}
	return 1<<uint(width) - 1
}

// ActiveLanes returns the lanes enabled in the execution mask.
func (th *Thread) ActiveLanes() ([]int, error) {
	mask, err := th.ExecMask()
	if err != nil {
		return nil, err
	}
	r := make([]int, 0, bits.OnesCount32(mask))
	for mask != 0 {
		lane := bits.TrailingZeros32(mask)
		r = append(r, lane)
		mask &^= 1 << uint(lane)
	}
	return r, nil
}

// Lane returns the selected lane.
func (th *Thread) Lane() int { return th.lane }

// SelectLane selects the lane used by inferior calls and return values.
func (th *Thread) SelectLane(lane int) error {
	w, err := th.SIMDWidth()
	if err != nil {
		return err
	}
	if lane < 0 || lane >= w {
		return gterr.Targetf("select lane", "lane %d out of SIMD width %d", lane, w)
	}
	th.lane = lane
	return nil
}

// saveRegisters returns a copy of every register of th.
func (th *Thread) saveRegisters() ([][]byte, error) {
	info := th.info()
	saved := make([][]byte, info.NumRegs())
	for n := range saved {
		buf := make([]byte, info.RegSize(n))
		if err := th.regs.ReadRegister(n, 0, buf); err != nil {
			return nil, gterr.Wrap(gterr.Target, "save registers", err)
		}
		saved[n] = buf
	}
	return saved, nil
}

func (th *Thread) restoreRegisters(saved [][]byte) error {
	for n, buf := range saved {
		if err := th.regs.WriteRegister(n, 0, buf); err != nil {
			return gterr.Wrap(gterr.Target, "restore registers", err)
		}
	}
	return nil
}
