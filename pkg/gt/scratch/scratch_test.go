package scratch

import (
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
)

func checkInvariants(t *testing.T, a *Allocator) {
	t.Helper()
	blocks := a.Blocks()
	end := a.Start()
	for i, b := range blocks {
		if b.Addr != end {
			t.Fatalf("block %d at %#x, want %#x: %v", i, b.Addr, end, blocks)
		}
		if b.Size == 0 {
			t.Fatalf("empty block %d: %v", i, blocks)
		}
		end = b.Addr + b.Size
		if i > 0 && !b.Reserved && !blocks[i-1].Reserved {
			t.Fatalf("adjacent free blocks %d and %d: %v", i-1, i, blocks)
		}
	}
	if end != a.Start()+a.Size() {
		t.Fatalf("blocks end at %#x, want %#x", end, a.Start()+a.Size())
	}
}

func TestAllocScenario(t *testing.T) {
	a := New(0x1000, 0x100)
	addr, err := a.Alloc(0x20)
	if err != nil {
		t.Fatal(err)
	}
	if addr != 0x1000 {
		t.Fatalf("Alloc(0x20) = %#x, want 0x1000", addr)
	}
	blocks := a.Blocks()
	if len(blocks) != 2 || blocks[1] != (Block{Addr: 0x1020, Size: 0xe0}) {
		t.Fatalf("unexpected blocks %v", blocks)
	}

	b, err := a.Alloc(0x10)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.Alloc(0xe0); !errors.Is(err, ErrExhausted) || !gterr.IsTarget(err) {
		t.Fatalf("Alloc(0xe0) with fragmented space: %v", err)
	}
	if err := a.Free(addr); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Alloc(0xe0); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Alloc(0xe0) with 0x10 reserved in the middle: %v", err)
	}
	if err := a.Free(b); err != nil {
		t.Fatal(err)
	}
	if addr, err := a.Alloc(0xe0); err != nil || addr != 0x1000 {
		t.Fatalf("Alloc(0xe0) after freeing everything = %#x, %v", addr, err)
	}
	checkInvariants(t, a)
}

func TestExactFitReuses(t *testing.T) {
	a := New(0x1000, 0x100)
	p, _ := a.Alloc(0x40)
	q, _ := a.Alloc(0x40)
	if err := a.Free(p); err != nil {
		t.Fatal(err)
	}
	n := len(a.Blocks())
	r, err := a.Alloc(0x40)
	if err != nil {
		t.Fatal(err)
	}
	if r != p {
		t.Fatalf("exact fit returned %#x, want %#x", r, p)
	}
	if len(a.Blocks()) != n {
		t.Fatalf("exact fit split a block: %v", a.Blocks())
	}

	s, err := a.Alloc(0x10)
	if err != nil {
		t.Fatal(err)
	}
	if s != q+0x40 {
		t.Fatalf("split returned %#x, want %#x", s, q+0x40)
	}
	blocks := a.Blocks()
	last := blocks[len(blocks)-1]
	if last.Addr != s+0x10 || last.Reserved {
		t.Fatalf("remainder %v, want free block at %#x", last, s+0x10)
	}
}

func TestFreeErrors(t *testing.T) {
	a := New(0x1000, 0x100)
	p, _ := a.Alloc(0x20)
	if err := a.Free(p + 4); !gterr.IsInternal(err) {
		t.Fatalf("free of interior address: %v", err)
	}
	if err := a.Free(0x2000); !gterr.IsInternal(err) {
		t.Fatalf("free of unknown address: %v", err)
	}
	if err := a.Free(p); err != nil {
		t.Fatal(err)
	}
	if err := a.Free(p); !gterr.IsInternal(err) {
		t.Fatalf("double free: %v", err)
	}
	if _, err := a.Alloc(0); !gterr.IsInternal(err) {
		t.Fatalf("zero size alloc: %v", err)
	}
}

func TestMergeBothNeighbours(t *testing.T) {
	a := New(0, 0x30)
	p, _ := a.Alloc(0x10)
	q, _ := a.Alloc(0x10)
	r, _ := a.Alloc(0x10)
	a.Free(p)
	a.Free(r)
	if len(a.Blocks()) != 3 {
		t.Fatalf("blocks %v", a.Blocks())
	}
	a.Free(q)
	blocks := a.Blocks()
	if len(blocks) != 1 || blocks[0] != (Block{Addr: 0, Size: 0x30}) {
		t.Fatalf("blocks after freeing everything: %v", blocks)
	}
	if len(a.unused) != 2 {
		t.Fatalf("%d recycled slots, want 2", len(a.unused))
	}
}

func TestRandomSequences(t *testing.T) {
	r := rand.New(rand.NewSource(3))
	for iter := 0; iter < 50; iter++ {
		a := New(0x10000, 0x1000)
		live := map[uint64]uint64{}
		for step := 0; step < 200; step++ {
			if len(live) > 0 && r.Intn(3) == 0 {
				for addr := range live {
					if err := a.Free(addr); err != nil {
						t.Fatal(err)
					}
					delete(live, addr)
					break
				}
			} else {
				size := uint64(r.Intn(0x100) + 1)
				addr, err := a.Alloc(size)
				if errors.Is(err, ErrExhausted) {
					continue
				}
				if err != nil {
					t.Fatal(err)
				}
				if addr < a.Start() || addr+size > a.Start()+a.Size() {
					t.Fatalf("[%#x, %#x) out of bounds", addr, addr+size)
				}
				for other, osize := range live {
					if addr < other+osize && other < addr+size {
						t.Fatalf("[%#x, %#x) overlaps [%#x, %#x)", addr, addr+size, other, other+osize)
					}
				}
				live[addr] = size
			}
			checkInvariants(t, a)
		}
		var want uint64
		for _, size := range live {
			want += size
		}
		if a.Reserved() != want {
			t.Fatalf("Reserved() = %#x, want %#x", a.Reserved(), want)
		}
	}
}

type memBuf struct {
	base uint64
	data []byte
}

func (m *memBuf) ReadMemory(buf []byte, addr uint64) (int, error) {
	if addr < m.base || addr-m.base >= uint64(len(m.data)) {
		return 0, fmt.Errorf("bad address %#x", addr)
	}
	return copy(buf, m.data[addr-m.base:]), nil
}

func TestReadHeader(t *testing.T) {
	h := Header{Version: 1, PageSize: 12, Size: 2, ScratchBegin: 0x100, ScratchEnd: 0x800, ISAOffset: 0x4000}
	enc, err := h.Encode()
	if err != nil {
		t.Fatal(err)
	}
	if len(enc) != HeaderSize {
		t.Fatalf("encoded header is %d bytes", len(enc))
	}
	if string(enc[:8]) != "dbgarea\x00" || enc[20] != 0x00 || enc[21] != 0x01 {
		t.Fatalf("bad encoding %x", enc)
	}
	mem := &memBuf{base: 0x8000, data: enc}
	a, err := NewFromHeader(mem, 0x8000)
	if err != nil {
		t.Fatal(err)
	}
	if a.Start() != 0x8100 || a.Size() != 0x700 {
		t.Fatalf("region [%#x, +%#x)", a.Start(), a.Size())
	}

	bad := append([]byte(nil), enc...)
	bad[0] = 'x'
	if _, err := ReadHeader(&memBuf{base: 0x8000, data: bad}, 0x8000); !gterr.IsTarget(err) {
		t.Fatalf("bad magic: %v", err)
	}
	if _, err := ReadHeader(&memBuf{base: 0x8000, data: enc[:20]}, 0x8000); !gterr.IsTarget(err) {
		t.Fatalf("short header: %v", err)
	}
	if _, err := ReadHeader(mem, 0x100); !gterr.IsTarget(err) {
		t.Fatalf("unmapped header: %v", err)
	}
	h.ScratchEnd = h.ScratchBegin
	enc, _ = h.Encode()
	if _, err := ReadHeader(&memBuf{base: 0, data: enc}, 0); !gterr.IsTarget(err) {
		t.Fatalf("empty region: %v", err)
	}
}
