package gttest

import (
	"encoding/binary"
	"fmt"

	"github.com/simtdbg/simtdbg/pkg/gt/regnum"
)

// Registers is the register file of one fake hardware thread.
type Registers struct {
	info *regnum.ArchInfo
	regs [][]byte

	// Fail makes every access to the listed registers fail.
	Fail map[int]bool
}

// NewRegisters returns a zeroed register file laid out as info.
func NewRegisters(info *regnum.ArchInfo) *Registers {
	r := &Registers{info: info, Fail: make(map[int]bool)}
	r.regs = make([][]byte, info.NumRegs())
	for n := range r.regs {
		r.regs[n] = make([]byte, info.RegSize(n))
	}
	return r
}

func (r *Registers) check(n, off, size int) error {
	if n < 0 || n >= len(r.regs) {
		return fmt.Errorf("no register %d", n)
	}
	if r.Fail[n] {
		return fmt.Errorf("register %d unavailable", n)
	}
	if off < 0 || off+size > len(r.regs[n]) {
		return fmt.Errorf("access [%d, %d) outside register %d of %d bytes", off, off+size, n, len(r.regs[n]))
	}
	return nil
}

// ReadRegister implements proc.RegisterCache.
func (r *Registers) ReadRegister(n, off int, buf []byte) error {
	if err := r.check(n, off, len(buf)); err != nil {
		return err
	}
	copy(buf, r.regs[n][off:])
	return nil
}

// WriteRegister implements proc.RegisterCache.
func (r *Registers) WriteRegister(n, off int, data []byte) error {
	if err := r.check(n, off, len(data)); err != nil {
		return err
	}
	copy(r.regs[n][off:], data)
	return nil
}

// Uint returns the low 8 bytes of register n, zero extended.
func (r *Registers) Uint(n int) uint64 {
	buf := make([]byte, 8)
	copy(buf, r.regs[n])
	return binary.LittleEndian.Uint64(buf)
}

// SetUint stores v in the low bytes of register n.
func (r *Registers) SetUint(n int, v uint64) {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	copy(r.regs[n], buf)
}

// Raw returns the bytes of register n.
func (r *Registers) Raw(n int) []byte {
	return r.regs[n]
}

// Snapshot returns a copy of every register.
func (r *Registers) Snapshot() [][]byte {
	s := make([][]byte, len(r.regs))
	for n := range r.regs {
		s[n] = append([]byte(nil), r.regs[n]...)
	}
	return s
}

// SetPC points the thread at isabase+ip.
func (r *Registers) SetPC(isabase, pc uint64) {
	r.SetUint(r.info.ISABase(), isabase)
	r.SetUint(r.info.PC(), pc-isabase)
}

// PC returns isabase+ip.
func (r *Registers) PC() uint64 {
	return r.Uint(r.info.ISABase()) + r.Uint(r.info.PC())
}
