package proc

import (
	"encoding/binary"
	"fmt"

	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
	"github.com/simtdbg/simtdbg/pkg/gt/insn"
)

const cacheEnabled = true

// MemoryReader reads device memory. It is like io.ReaderAt with a 64 bit
// device address.
type MemoryReader interface {
	// ReadMemory is just like io.ReaderAt.ReadAt.
	ReadMemory(buf []byte, addr uint64) (n int, err error)
}

// MemoryReadWriter reads and writes device memory.
type MemoryReadWriter interface {
	MemoryReader
	WriteMemory(addr uint64, data []byte) (written int, err error)
}

// RegisterCache reads and writes parts of the registers of one device
// thread. Offsets and lengths are in bytes.
type RegisterCache interface {
	ReadRegister(regnum, offset int, buf []byte) error
	WriteRegister(regnum, offset int, data []byte) error
}

type memCache struct {
	cacheAddr uint64
	cache     []byte
	mem       MemoryReadWriter
}

func (m *memCache) contains(addr uint64, size int) bool {
	return addr >= m.cacheAddr && addr+uint64(size) <= m.cacheAddr+uint64(len(m.cache))
}

func (m *memCache) ReadMemory(data []byte, addr uint64) (n int, err error) {
	if m.contains(addr, len(data)) {
		copy(data, m.cache[addr-m.cacheAddr:])
		return len(data), nil
	}

	return m.mem.ReadMemory(data, addr)
}

func (m *memCache) WriteMemory(addr uint64, data []byte) (written int, err error) {
	return m.mem.WriteMemory(addr, data)
}

// cacheMemory returns a MemoryReadWriter that serves reads of
// [addr, addr+size) from a copy read once. Writes go through and do not
// update the copy.
func cacheMemory(mem MemoryReadWriter, addr uint64, size int) MemoryReadWriter {
	if !cacheEnabled {
		return mem
	}
	if size <= 0 {
		return mem
	}
	if cacheMem, isCache := mem.(*memCache); isCache {
		if cacheMem.contains(addr, size) {
			return mem
		}
		mem = cacheMem.mem
	}
	cache := make([]byte, size)
	n, err := mem.ReadMemory(cache, addr)
	if err != nil || n != size {
		return mem
	}
	return &memCache{addr, cache, mem}
}

func readFull(mem MemoryReader, buf []byte, addr uint64) error {
	n, err := mem.ReadMemory(buf, addr)
	if err != nil {
		return gterr.Wrap(gterr.Target, "read memory", err)
	}
	if n != len(buf) {
		return gterr.Targetf("read memory", "short read at %#x: %d of %d bytes", addr, n, len(buf))
	}
	return nil
}

func writeFull(mem MemoryReadWriter, addr uint64, data []byte) error {
	n, err := mem.WriteMemory(addr, data)
	if err != nil {
		return gterr.Wrap(gterr.Target, "write memory", err)
	}
	if n != len(data) {
		return gterr.Targetf("write memory", "short write at %#x: %d of %d bytes", addr, n, len(data))
	}
	return nil
}

// readInst decodes the instruction at addr. The compacted form is read
// first so that an instruction at the very end of mapped memory can be
// decoded.
func readInst(mem MemoryReader, addr uint64) (insn.Inst, error) {
	buf := make([]byte, insn.MaxLength)
	if err := readFull(mem, buf[:insn.CompactedLength], addr); err != nil {
		return insn.Inst{}, err
	}
	if buf[3]&0x20 == 0 {
		if err := readFull(mem, buf[insn.CompactedLength:], addr+insn.CompactedLength); err != nil {
			return insn.Inst{}, err
		}
	}
	return insn.Decode(buf)
}

func writeInst(mem MemoryReadWriter, addr uint64, in *insn.Inst) error {
	return writeFull(mem, addr, in.Bytes())
}

func readRegUint(regs RegisterCache, n, size int) (uint64, error) {
	buf := make([]byte, 8)
	if err := regs.ReadRegister(n, 0, buf[:size]); err != nil {
		return 0, gterr.Wrap(gterr.Target, fmt.Sprintf("read register %d", n), err)
	}
	return binary.LittleEndian.Uint64(buf), nil
}

func writeRegUint(regs RegisterCache, n, size int, v uint64) error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, v)
	if err := regs.WriteRegister(n, 0, buf[:size]); err != nil {
		return gterr.Wrap(gterr.Target, fmt.Sprintf("write register %d", n), err)
	}
	return nil
}
