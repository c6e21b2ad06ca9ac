package proc

import (
	"fmt"
	"sort"

	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
	"github.com/simtdbg/simtdbg/pkg/logflags"
)

// Breakpoint is a software breakpoint: the breakpoint control bit of the
// instruction at Addr.
type Breakpoint struct {
	// Addr is where the breakpoint bit is set.
	Addr uint64
	// RequestedAddr is the address the breakpoint was requested at. It
	// differs from Addr when the request fell inside an atomic sequence.
	RequestedAddr uint64
	// Permanent is set when the instruction already carried the bit: the
	// bit is left in place when the breakpoint is cleared.
	Permanent bool
}

// BreakpointExistsError is returned when trying to set a breakpoint at
// an address that already has a breakpoint set for it.
type BreakpointExistsError struct {
	Addr uint64
}

func (bpe BreakpointExistsError) Error() string {
	return fmt.Sprintf("Breakpoint exists at %#x", bpe.Addr)
}

// NoBreakpointError is returned when trying to
// clear a breakpoint that does not exist.
type NoBreakpointError struct {
	Addr uint64
}

func (nbp NoBreakpointError) Error() string {
	return fmt.Sprintf("no breakpoint at %#v", nbp.Addr)
}

// SetBreakpoint sets a breakpoint at addr, moved past the end of the
// atomic sequence addr falls in, if any.
func (t *Target) SetBreakpoint(addr uint64) (*Breakpoint, error) {
	adj, err := t.AdjustBreakpointAddress(addr)
	if err != nil {
		return nil, err
	}
	if _, ok := t.breakpoints[adj]; ok {
		return nil, BreakpointExistsError{adj}
	}
	in, err := readInst(t.mem, adj)
	if err != nil {
		return nil, err
	}
	bp := &Breakpoint{Addr: adj, RequestedAddr: addr}
	if in.SetBreakpoint() {
		bp.Permanent = true
		if t.warnPermanentBreakpoints() {
			logflags.SteppingLogger().Warnf("%v", gterr.Softf("set breakpoint", "instruction at %#x already has a breakpoint, it is permanent", adj))
		}
	} else if err := writeInst(t.mem, adj, &in); err != nil {
		return nil, err
	}
	if adj != addr {
		logflags.SteppingLogger().Debugf("breakpoint at %#x moved to %#x, after an atomic sequence", addr, adj)
	}
	t.breakpoints[adj] = bp
	return bp, nil
}

// ClearBreakpoint removes the breakpoint at addr.
func (t *Target) ClearBreakpoint(addr uint64) error {
	bp, ok := t.breakpoints[addr]
	if !ok {
		return NoBreakpointError{Addr: addr}
	}
	if !bp.Permanent {
		in, err := readInst(t.mem, addr)
		if err != nil {
			return err
		}
		if in.ClearBreakpoint() {
			if err := writeInst(t.mem, addr, &in); err != nil {
				return err
			}
		}
	}
	delete(t.breakpoints, addr)
	return nil
}

// Breakpoints returns the breakpoints sorted by address.
func (t *Target) Breakpoints() []*Breakpoint {
	r := make([]*Breakpoint, 0, len(t.breakpoints))
	for _, bp := range t.breakpoints {
		r = append(r, bp)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].Addr < r[j].Addr })
	return r
}

// BreakpointAt returns the breakpoint inserted by the debugger at addr.
func (t *Target) BreakpointAt(addr uint64) *Breakpoint {
	return t.breakpoints[addr]
}
