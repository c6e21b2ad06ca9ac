package abi

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
	"github.com/simtdbg/simtdbg/pkg/gt/regnum"
	"github.com/simtdbg/simtdbg/pkg/logflags"
)

// Register budgets of the vectorized window, in GRFs.
const (
	ArgRegisters    = 12
	ReturnRegisters = 8
)

const ptrSize = 8

// RegisterAccessor reads and writes parts of device registers.
type RegisterAccessor interface {
	ReadRegister(regnum, offset int, buf []byte) error
	WriteRegister(regnum, offset int, data []byte) error
}

// MemoryReadWriter reads and writes device memory.
type MemoryReadWriter interface {
	ReadMemory(buf []byte, addr uint64) (int, error)
	WriteMemory(addr uint64, data []byte) (int, error)
}

// Convention marshals the values of one lane of a thread.
type Convention struct {
	Info      *regnum.ArchInfo
	SIMDWidth int
	Lane      int
	Regs      RegisterAccessor
	Mem       MemoryReadWriter
}

// Value is the value of one lane: Bytes holds Type.Size() bytes in target
// byte order.
type Value struct {
	Type  Type
	Bytes []byte
}

// Location records where an argument was placed.
type Location struct {
	Class Class
	// InRegisters is set when the value lives in the GRF window, at byte
	// Offset from the start of the return value register. Otherwise it
	// lives on the stack at address Offset.
	InRegisters bool
	Offset      uint64
	// Copy is the address of the lane's copy of a by reference value.
	Copy uint64
}

// CallLayout is the result of PushArguments.
type CallLayout struct {
	Args []Location
	// StructReturn is set when the return value is returned through a
	// hidden pointer, the lane's slot of which is at StructReturnAddr. The
	// pointer itself is passed ahead of the arguments, at StructReturnLoc.
	StructReturn     bool
	StructReturnAddr uint64
	StructReturnLoc  Location
	// StackTop is the stack pointer after the arguments were pushed.
	StackTop uint64
}

// window is a linear byte area backed by registers or memory.
type window interface {
	write(off int64, data []byte) error
	read(off int64, buf []byte) error
}

// regWindow is the GRF window that starts at the return value register.
type regWindow struct {
	c *Convention
}

func (w regWindow) split(off int64, n int, f func(reg, regOff int, lo, hi int) error) error {
	grf := int64(w.c.Info.GRFSize())
	for done := 0; done < n; {
		reg := w.c.Info.RetVal() + int((off+int64(done))/grf)
		o := int((off + int64(done)) % grf)
		m := int(grf) - o
		if m > n-done {
			m = n - done
		}
		if err := f(reg, o, done, done+m); err != nil {
			return err
		}
		done += m
	}
	return nil
}

func (w regWindow) write(off int64, data []byte) error {
	return w.split(off, len(data), func(reg, regOff, lo, hi int) error {
		return w.c.Regs.WriteRegister(reg, regOff, data[lo:hi])
	})
}

func (w regWindow) read(off int64, buf []byte) error {
	return w.split(off, len(buf), func(reg, regOff, lo, hi int) error {
		return w.c.Regs.ReadRegister(reg, regOff, buf[lo:hi])
	})
}

// memWindow is an area of device memory.
type memWindow struct {
	mem  MemoryReadWriter
	base uint64
}

func (w memWindow) write(off int64, data []byte) error {
	n, err := w.mem.WriteMemory(w.base+uint64(off), data)
	if err != nil {
		return err
	}
	if n != len(data) {
		return fmt.Errorf("short write at %#x: %d of %d bytes", w.base+uint64(off), n, len(data))
	}
	return nil
}

func (w memWindow) read(off int64, buf []byte) error {
	n, err := w.mem.ReadMemory(buf, w.base+uint64(off))
	if err != nil {
		return err
	}
	if n != len(buf) {
		return fmt.Errorf("short read at %#x: %d of %d bytes", w.base+uint64(off), n, len(buf))
	}
	return nil
}

func (c *Convention) pack(w window, base int64, v Value, class Class) error {
	chunks, err := laneChunks(v.Type, class, c.Lane, c.SIMDWidth)
	if err != nil {
		return err
	}
	for _, ch := range chunks {
		if err := w.write(base+ch.areaOff, v.Bytes[ch.valOff:ch.valOff+ch.size]); err != nil {
			return err
		}
	}
	return nil
}

func (c *Convention) unpack(w window, base int64, typ Type, class Class) ([]byte, error) {
	chunks, err := laneChunks(typ, class, c.Lane, c.SIMDWidth)
	if err != nil {
		return nil, err
	}
	r := make([]byte, typ.Size())
	for _, ch := range chunks {
		if err := w.read(base+ch.areaOff, r[ch.valOff:ch.valOff+ch.size]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (c *Convention) check() error {
	switch c.SIMDWidth {
	case 1, 8, 16, 32:
	default:
		return gterr.Internalf("calling convention", "bad SIMD width %d", c.SIMDWidth)
	}
	if c.Lane < 0 || c.Lane >= c.SIMDWidth {
		return gterr.Internalf("calling convention", "lane %d out of SIMD width %d", c.Lane, c.SIMDWidth)
	}
	return nil
}

// StackPointer returns the stack pointer, the low 8 bytes of sp.
func (c *Convention) StackPointer() (uint64, error) {
	buf := make([]byte, ptrSize)
	if err := c.Regs.ReadRegister(c.Info.SP(), 0, buf); err != nil {
		return 0, gterr.Wrap(gterr.Target, "read stack pointer", err)
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// SetStackPointer stores sp in the low 8 bytes of the sp register.
func (c *Convention) SetStackPointer(sp uint64) error {
	buf := make([]byte, ptrSize)
	binary.LittleEndian.PutUint64(buf, sp)
	if err := c.Regs.WriteRegister(c.Info.SP(), 0, buf); err != nil {
		return gterr.Wrap(gterr.Target, "write stack pointer", err)
	}
	return nil
}

// pushState is the state of PushArguments.
type pushState struct {
	regOff  int64
	regEnd  int64
	spilled bool
	sp      uint64
}

// reserve returns a 16 byte aligned stack area of size bytes.
func (s *pushState) reserve(size int64) uint64 {
	addr := uint64(alignUp(int64(s.sp), areaAlign))
	s.sp = addr + uint64(alignUp(size, areaAlign))
	return addr
}

func pointerValue(addr uint64) Value {
	buf := make([]byte, ptrSize)
	binary.LittleEndian.PutUint64(buf, addr)
	return Value{Type: voidPtr, Bytes: buf}
}

var voidPtr = &PtrType{CommonType: CommonType{ByteSize: ptrSize, Name: "void *"}}

var errUnsupportedArg = errors.New("unsupported type")

func argError(i int, typ Type, err error) error {
	if gterr.IsInternal(err) {
		return err
	}
	return gterr.Targetf("marshal argument", "argument %d (%s): %v", i, typ, err)
}

// place assigns the next free slot of s to arg and writes the lane's value
// there.
func (c *Convention) place(s *pushState, arg Value) (Location, error) {
	loc := Location{Class: Classify(arg.Type, false)}
	switch loc.Class {
	case ClassUnsupported:
		return loc, errUnsupportedArg
	case ClassByReference:
		n := arg.Type.Size()
		area := s.reserve(n * int64(c.SIMDWidth))
		loc.Copy = area + uint64(int64(c.Lane)*n)
		if err := (memWindow{c.Mem, loc.Copy}).write(0, arg.Bytes); err != nil {
			return loc, err
		}
		arg = pointerValue(loc.Copy)
	}
	class := Classify(arg.Type, false)
	size := footprint(arg.Type, c.SIMDWidth)
	if !s.spilled && s.regOff+size <= s.regEnd {
		loc.InRegisters = true
		loc.Offset = uint64(s.regOff)
		if err := c.pack(regWindow{c}, s.regOff, arg, class); err != nil {
			return loc, err
		}
		s.regOff += size
		return loc, nil
	}
	s.spilled = true
	loc.Offset = s.reserve(size)
	return loc, c.pack(memWindow{c.Mem, loc.Offset}, 0, arg, class)
}

// PushArguments lays out the arguments of a call for the lane of c, and
// the hidden return pointer if a value of type ret cannot be returned in
// registers. Ret is nil for functions that return nothing.
//
// Arguments are placed in the GRF window in order until one does not fit
// the remaining budget; that one and all later ones go to the stack.
// Aggregates that cannot be promoted are copied to the stack, one copy per
// lane, and passed as pointers.
func (c *Convention) PushArguments(args []Value, ret Type) (*CallLayout, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	log := logflags.ABILogger()
	sp, err := c.StackPointer()
	if err != nil {
		return nil, err
	}
	s := &pushState{
		regEnd: int64(ArgRegisters * c.Info.GRFSize()),
		sp:     sp,
	}
	layout := &CallLayout{}

	if ret != nil {
		switch Classify(ret, true) {
		case ClassByReference:
			area := s.reserve(ret.Size() * int64(c.SIMDWidth))
			layout.StructReturn = true
			layout.StructReturnAddr = area + uint64(int64(c.Lane)*ret.Size())
			loc, err := c.place(s, pointerValue(layout.StructReturnAddr))
			if err != nil {
				if gterr.IsInternal(err) {
					return nil, err
				}
				return nil, gterr.Wrap(gterr.Target, "marshal return pointer", err)
			}
			layout.StructReturnLoc = loc
			log.Debugf("return value %s through hidden pointer %#x", ret, layout.StructReturnAddr)
		case ClassUnsupported:
			return nil, gterr.Targetf("marshal return value", "unsupported return type %s", ret)
		}
	}

	for i, arg := range args {
		if int64(len(arg.Bytes)) != arg.Type.Size() {
			return nil, gterr.Internalf("marshal argument", "argument %d (%s): %d bytes for a %d byte type", i, arg.Type, len(arg.Bytes), arg.Type.Size())
		}
		loc, err := c.place(s, arg)
		if err != nil {
			return nil, argError(i, arg.Type, err)
		}
		log.Debugf("argument %d (%s, %v): registers=%v offset=%#x", i, arg.Type, loc.Class, loc.InRegisters, loc.Offset)
		layout.Args = append(layout.Args, loc)
	}

	layout.StackTop = s.sp
	if s.sp != sp {
		if err := c.SetStackPointer(s.sp); err != nil {
			return nil, err
		}
	}
	return layout, nil
}

// Argument reads back the lane's value of an argument placed at loc.
func (c *Convention) Argument(typ Type, loc Location) ([]byte, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if loc.Class == ClassByReference {
		r := make([]byte, typ.Size())
		if err := (memWindow{c.Mem, loc.Copy}).read(0, r); err != nil {
			return nil, gterr.Wrap(gterr.Target, "read argument", err)
		}
		return r, nil
	}
	var w window = memWindow{c.Mem, loc.Offset}
	base := int64(0)
	if loc.InRegisters {
		w, base = regWindow{c}, int64(loc.Offset)
	}
	r, err := c.unpack(w, base, typ, loc.Class)
	if err != nil {
		return nil, gterr.Wrap(gterr.Target, "read argument", err)
	}
	return r, nil
}

// ReturnValue reads the lane's return value of type typ after a call laid
// out by PushArguments.
func (c *Convention) ReturnValue(typ Type, layout *CallLayout) ([]byte, error) {
	const op = "read return value"
	if err := c.check(); err != nil {
		return nil, err
	}
	class := Classify(typ, true)
	switch class {
	case ClassUnsupported:
		return nil, gterr.Targetf(op, "unsupported return type %s", typ)
	case ClassByReference:
		if layout == nil || !layout.StructReturn {
			return nil, gterr.Internalf(op, "%s is returned through a hidden pointer but none was passed", typ)
		}
		r := make([]byte, typ.Size())
		if err := (memWindow{c.Mem, layout.StructReturnAddr}).read(0, r); err != nil {
			return nil, gterr.Wrap(gterr.Target, op, err)
		}
		return r, nil
	}
	if footprint(typ, c.SIMDWidth) > int64(ReturnRegisters*c.Info.GRFSize()) {
		return nil, gterr.Targetf(op, "%s does not fit the return registers at SIMD width %d", typ, c.SIMDWidth)
	}
	r, err := c.unpack(regWindow{c}, 0, typ, class)
	if err != nil {
		return nil, gterr.Wrap(gterr.Target, op, err)
	}
	return r, nil
}

// SetReturnValue stores the lane's return value in the return registers.
// It is the callee side of ReturnValue.
func (c *Convention) SetReturnValue(v Value) error {
	const op = "write return value"
	if err := c.check(); err != nil {
		return err
	}
	class := Classify(v.Type, true)
	switch class {
	case ClassUnsupported, ClassByReference:
		return gterr.Targetf(op, "%s is not returned in registers", v.Type)
	}
	if footprint(v.Type, c.SIMDWidth) > int64(ReturnRegisters*c.Info.GRFSize()) {
		return gterr.Targetf(op, "%s does not fit the return registers at SIMD width %d", v.Type, c.SIMDWidth)
	}
	if err := c.pack(regWindow{c}, 0, v, class); err != nil {
		return gterr.Wrap(gterr.Target, op, err)
	}
	return nil
}
