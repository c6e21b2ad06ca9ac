package scratch

import (
	"bytes"
	"encoding/binary"

	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
)

// HeaderSize is the size of the debug area header.
const HeaderSize = 48

var headerMagic = [8]byte{'d', 'b', 'g', 'a', 'r', 'e', 'a', 0}

// Header is the debug area header the device runtime places at a fixed
// offset from the ISA base. It describes the scratch region.
type Header struct {
	Magic        [8]byte
	_            uint64
	Version      uint8
	PageSize     uint8
	Size         uint8
	_            uint8
	ScratchBegin uint16
	ScratchEnd   uint16
	ISAOffset    uint64
	_            [2]uint64
}

// MemoryReader reads device memory.
type MemoryReader interface {
	ReadMemory(buf []byte, addr uint64) (int, error)
}

// ReadHeader reads and checks the debug area header at base.
func ReadHeader(mem MemoryReader, base uint64) (*Header, error) {
	const op = "read debug area header"
	buf := make([]byte, HeaderSize)
	n, err := mem.ReadMemory(buf, base)
	if err != nil {
		return nil, gterr.Wrap(gterr.Target, op, err)
	}
	if n != HeaderSize {
		return nil, gterr.Targetf(op, "short read at %#x: %d bytes", base, n)
	}
	h := new(Header)
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, h); err != nil {
		return nil, gterr.Wrap(gterr.Target, op, err)
	}
	if h.Magic != headerMagic {
		return nil, gterr.Targetf(op, "bad magic %q at %#x", h.Magic[:], base)
	}
	if h.ScratchBegin >= h.ScratchEnd {
		return nil, gterr.Targetf(op, "empty scratch region [%#x, %#x)", h.ScratchBegin, h.ScratchEnd)
	}
	return h, nil
}

// Encode returns the wire form of h. The magic is always the valid one.
func (h *Header) Encode() ([]byte, error) {
	var buf bytes.Buffer
	hh := *h
	hh.Magic = headerMagic
	if err := binary.Write(&buf, binary.LittleEndian, &hh); err != nil {
		return nil, gterr.Internalf("encode debug area header", "%v", err)
	}
	return buf.Bytes(), nil
}

// Region returns the scratch region described by a header read at base.
func (h *Header) Region(base uint64) (start, size uint64) {
	return base + uint64(h.ScratchBegin), uint64(h.ScratchEnd - h.ScratchBegin)
}

// NewFromHeader reads the header at base and returns an allocator over the
// region it describes.
func NewFromHeader(mem MemoryReader, base uint64) (*Allocator, error) {
	h, err := ReadHeader(mem, base)
	if err != nil {
		return nil, err
	}
	return New(h.Region(base)), nil
}
