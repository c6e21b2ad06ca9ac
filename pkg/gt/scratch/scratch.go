// Package scratch manages the device memory the debugger reserves for code
// and data it injects into a running kernel: call stubs, displaced step
// copies and the stack areas of inferior calls.
package scratch

import (
	"errors"

	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
	"github.com/simtdbg/simtdbg/pkg/logflags"
)

// ErrExhausted is returned by Alloc when no free block is large enough.
var ErrExhausted = errors.New("scratch memory exhausted")

const nilBlock = -1

type block struct {
	addr     uint64
	size     uint64
	reserved bool
	next     int
}

// Block describes a block of an Allocator, as returned by Blocks.
type Block struct {
	Addr     uint64
	Size     uint64
	Reserved bool
}

// Allocator is a first-fit allocator over [start, start+size). Blocks are
// kept in ascending address order in an arena linked by index; slots of
// merged blocks are recycled.
type Allocator struct {
	start, size uint64
	arena       []block
	head        int
	unused      []int
}

// New returns an allocator with a single free block covering
// [start, start+size).
func New(start, size uint64) *Allocator {
	a := &Allocator{start: start, size: size, head: nilBlock}
	if size > 0 {
		a.head = a.newBlock(block{addr: start, size: size, next: nilBlock})
	}
	return a
}

// Start returns the start of the managed region.
func (a *Allocator) Start() uint64 { return a.start }

// Size returns the size of the managed region.
func (a *Allocator) Size() uint64 { return a.size }

func (a *Allocator) newBlock(b block) int {
	if n := len(a.unused); n > 0 {
		i := a.unused[n-1]
		a.unused = a.unused[:n-1]
		a.arena[i] = b
		return i
	}
	a.arena = append(a.arena, b)
	return len(a.arena) - 1
}

func (a *Allocator) release(i int) {
	a.arena[i] = block{next: nilBlock}
	a.unused = append(a.unused, i)
}

// Alloc reserves size bytes and returns their address. The first free
// block large enough is used; a larger block is split and the remainder
// stays free right after the reserved range.
func (a *Allocator) Alloc(size uint64) (uint64, error) {
	if size == 0 {
		return 0, gterr.Internalf("scratch alloc", "zero size")
	}
	for i := a.head; i != nilBlock; i = a.arena[i].next {
		b := &a.arena[i]
		if b.reserved || b.size < size {
			continue
		}
		if b.size > size {
			rest := block{addr: b.addr + size, size: b.size - size, next: b.next}
			j := a.newBlock(rest)
			// newBlock may have grown the arena.
			b = &a.arena[i]
			b.next = j
			b.size = size
		}
		b.reserved = true
		logflags.ScratchLogger().Debugf("alloc %#x bytes at %#x", size, b.addr)
		return b.addr, nil
	}
	return 0, &gterr.Error{Kind: gterr.Target, Op: "scratch alloc", Err: ErrExhausted}
}

// Free releases the range reserved at addr. The address must be exactly
// one returned by Alloc and not yet freed.
func (a *Allocator) Free(addr uint64) error {
	prev := nilBlock
	i := a.head
	for ; i != nilBlock; prev, i = i, a.arena[i].next {
		if a.arena[i].addr == addr {
			break
		}
		if a.arena[i].addr > addr {
			i = nilBlock
			break
		}
	}
	if i == nilBlock {
		return gterr.Internalf("scratch free", "%#x was not allocated", addr)
	}
	if !a.arena[i].reserved {
		return gterr.Internalf("scratch free", "double free of %#x", addr)
	}
	a.arena[i].reserved = false
	logflags.ScratchLogger().Debugf("free %#x bytes at %#x", a.arena[i].size, addr)

	if next := a.arena[i].next; next != nilBlock && !a.arena[next].reserved {
		a.arena[i].size += a.arena[next].size
		a.arena[i].next = a.arena[next].next
		a.release(next)
	}
	if prev != nilBlock && !a.arena[prev].reserved {
		a.arena[prev].size += a.arena[i].size
		a.arena[prev].next = a.arena[i].next
		a.release(i)
	}
	return nil
}

// Blocks returns the blocks in address order.
func (a *Allocator) Blocks() []Block {
	var r []Block
	for i := a.head; i != nilBlock; i = a.arena[i].next {
		b := a.arena[i]
		r = append(r, Block{Addr: b.addr, Size: b.size, Reserved: b.reserved})
	}
	return r
}

// Reserved returns the number of reserved bytes.
func (a *Allocator) Reserved() uint64 {
	var n uint64
	for i := a.head; i != nilBlock; i = a.arena[i].next {
		if a.arena[i].reserved {
			n += a.arena[i].size
		}
	}
	return n
}

// Available returns the number of free bytes, which need not be
// contiguous.
func (a *Allocator) Available() uint64 {
	return a.size - a.Reserved()
}
