// Package gttest provides a fake device for the tests of the architecture
// layer: sparse device memory, a register file laid out as described by a
// regnum.ArchInfo and a scripted runner standing in for the remote stub.
package gttest

import (
	"fmt"
	"sort"

	"github.com/simtdbg/simtdbg/pkg/gt/scratch"
)

const (
	PageAddrSize = 12
	PageSize     = 1 << PageAddrSize
	PageAddrMask = PageSize - 1
)

type page [PageSize]byte

// Memory is a sparse, paged device memory. Pages are created by Map and by
// writes; reading a page that does not exist faults.
type Memory struct {
	pages map[uint64]*page

	// last page looked up, most accesses are to the same page
	lastPageKey uint64
	lastPage    *page

	// Faults lists addresses whose pages fault on any access, mapped or not.
	Faults map[uint64]bool

	Reads, Writes int
}

func NewMemory() *Memory {
	return &Memory{
		pages:       make(map[uint64]*page),
		lastPageKey: ^uint64(0),
		Faults:      make(map[uint64]bool),
	}
}

func (m *Memory) PageCount() int {
	return len(m.pages)
}

func (m *Memory) pageLookup(pageIndex uint64) (*page, bool) {
	if pageIndex == m.lastPageKey {
		return m.lastPage, true
	}
	p, ok := m.pages[pageIndex]
	if ok {
		m.lastPageKey = pageIndex
		m.lastPage = p
	}
	return p, ok
}

func (m *Memory) allocPage(pageIndex uint64) *page {
	p := new(page)
	m.pages[pageIndex] = p
	m.lastPageKey = pageIndex
	m.lastPage = p
	return p
}

// Map creates the zeroed pages covering [addr, addr+size).
func (m *Memory) Map(addr, size uint64) {
	for pi := addr >> PageAddrSize; pi <= (addr+size-1)>>PageAddrSize; pi++ {
		if _, ok := m.pageLookup(pi); !ok {
			m.allocPage(pi)
		}
	}
}

func (m *Memory) faults(pageIndex uint64) bool {
	return m.Faults[pageIndex<<PageAddrSize]
}

// Fault makes every access to the page containing addr fail.
func (m *Memory) Fault(addr uint64) {
	m.Faults[addr&^PageAddrMask] = true
}

// ReadMemory implements proc.MemoryReader.
func (m *Memory) ReadMemory(buf []byte, addr uint64) (int, error) {
	m.Reads++
	n := 0
	for n < len(buf) {
		a := addr + uint64(n)
		pi := a >> PageAddrSize
		p, ok := m.pageLookup(pi)
		if !ok || m.faults(pi) {
			return n, fmt.Errorf("memory fault at %#x", a)
		}
		n += copy(buf[n:], p[a&PageAddrMask:])
	}
	return n, nil
}

// WriteMemory implements proc.MemoryReadWriter.
func (m *Memory) WriteMemory(addr uint64, data []byte) (int, error) {
	m.Writes++
	n := 0
	for n < len(data) {
		a := addr + uint64(n)
		pi := a >> PageAddrSize
		if m.faults(pi) {
			return n, fmt.Errorf("memory fault at %#x", a)
		}
		p, ok := m.pageLookup(pi)
		if !ok {
			p = m.allocPage(pi)
		}
		n += copy(p[a&PageAddrMask:], data[n:])
	}
	return n, nil
}

// Bytes returns a copy of [addr, addr+size), unmapped bytes read as zero.
func (m *Memory) Bytes(addr, size uint64) []byte {
	r := make([]byte, size)
	for i := range r {
		a := addr + uint64(i)
		if p, ok := m.pages[a>>PageAddrSize]; ok {
			r[i] = p[a&PageAddrMask]
		}
	}
	return r
}

// Pages returns the base addresses of the mapped pages in ascending order.
func (m *Memory) Pages() []uint64 {
	r := make([]uint64, 0, len(m.pages))
	for pi := range m.pages {
		r = append(r, pi<<PageAddrSize)
	}
	sort.Slice(r, func(i, j int) bool { return r[i] < r[j] })
	return r
}

// WriteDebugArea writes a debug area header at base describing the scratch
// region [base+begin, base+end) and maps the region.
func (m *Memory) WriteDebugArea(base uint64, begin, end uint16) {
	h := &scratch.Header{Version: 1, ScratchBegin: begin, ScratchEnd: end}
	enc, err := h.Encode()
	if err != nil {
		panic(err)
	}
	if _, err := m.WriteMemory(base, enc); err != nil {
		panic(err)
	}
	if end > begin {
		m.Map(base+uint64(begin), uint64(end-begin))
	}
}
