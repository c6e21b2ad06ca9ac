// Package regnum models the register file of Intel GT class devices.
//
// Registers are numbered in the order the remote target description
// declares them, the wire order:
//
//	r0 .. rN-1                   GRF
//	emask iemask btbase scrbase  debug
//	genstbase sustbase blsustbase
//	blsastbase isabase iobase dynbase
//	a0                           address
//	acc0 .. acc9                 accumulators
//	f0 f1                        flags
//	ce sp sr0 cr0 ip tdr tm0     control
//	mme0 .. mme7                 math macro extension
//
// The derived numbers returned by ArchInfo (DebugBase, AddressBase, PC,
// SP and so on) are only valid for this order.
package regnum

import (
	"fmt"
	"sort"

	"github.com/derekparker/trie"

	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
)

// Group is the register group of a Register.
type Group uint8

const (
	GroupGRF Group = iota
	GroupDebug
	GroupAddress
	GroupAcc
	GroupFlag
	GroupControl
	GroupMME

	numGroups
)

var groupNames = [numGroups]string{"grf", "debug", "address", "acc", "flag", "control", "mme"}

func (g Group) String() string {
	if g < numGroups {
		return groupNames[g]
	}
	return fmt.Sprintf("Group(%d)", uint8(g))
}

// Register describes one device register.
type Register struct {
	Name       string
	Group      Group
	LocalIndex int // index within Group
	Size       int // in bytes
}

// MaxRegSize is the size of the largest register of any supported device.
const MaxRegSize = 64

// Offsets from AddressBase fixed by the wire order.
const (
	spOffset = 14
	pcOffset = 17
	// mme0 follows ip, tdr and tm0.
	mmeAfterPC = 3
)

// RetValGRF is the GRF that holds the first vectorized return value and,
// by the calling convention, the first argument.
const RetValGRF = 26

// Debug registers, by index into the debug group.
const (
	DebugEmask = iota
	DebugIemask
	DebugBtbase
	DebugScrbase
	DebugGenstbase
	DebugSustbase
	DebugBlsustbase
	DebugBlsastbase
	DebugIsabase
	DebugIobase
	DebugDynbase

	debugCount
)

var debugNames = [debugCount]string{
	"emask", "iemask", "btbase", "scrbase", "genstbase", "sustbase",
	"blsustbase", "blsastbase", "isabase", "iobase", "dynbase",
}

var controlNames = []string{"ce", "sp", "sr0", "cr0", "ip", "tdr", "tm0"}

// ArchInfo is the register descriptor of one device generation.
type ArchInfo struct {
	version Version
	regs    []Register
	counts  [numGroups]int
	bases   [numGroups]int
	grfSize int
	names   *trie.Trie
}

// Version returns the generation the descriptor was built for.
func (a *ArchInfo) Version() Version { return a.version }

// NumRegs returns the number of registers.
func (a *ArchInfo) NumRegs() int { return len(a.regs) }

// Registers returns the registers in wire order.
func (a *ArchInfo) Registers() []Register {
	r := make([]Register, len(a.regs))
	copy(r, a.regs)
	return r
}

// Register returns register n.
func (a *ArchInfo) Register(n int) (Register, error) {
	if n < 0 || n >= len(a.regs) {
		return Register{}, gterr.Internalf("register", "no register %d in %v descriptor", n, a.version)
	}
	return a.regs[n], nil
}

// RegSize returns the size of register n, or 0 if there is no such
// register.
func (a *ArchInfo) RegSize(n int) int {
	if n < 0 || n >= len(a.regs) {
		return 0
	}
	return a.regs[n].Size
}

// Count returns the number of registers in group g.
func (a *ArchInfo) Count(g Group) int { return a.counts[g] }

// Base returns the number of the first register of group g.
func (a *ArchInfo) Base(g Group) int { return a.bases[g] }

// GRFSize returns the size of one GRF register in bytes.
func (a *ArchInfo) GRFSize() int { return a.grfSize }

func (a *ArchInfo) GRFCount() int    { return a.counts[GroupGRF] }
func (a *ArchInfo) DebugBase() int   { return a.counts[GroupGRF] }
func (a *ArchInfo) Emask() int       { return a.DebugBase() + DebugEmask }
func (a *ArchInfo) Iemask() int      { return a.DebugBase() + DebugIemask }
func (a *ArchInfo) ISABase() int     { return a.DebugBase() + DebugIsabase }
func (a *ArchInfo) AddressBase() int { return a.DebugBase() + a.counts[GroupDebug] }
func (a *ArchInfo) AccBase() int     { return a.AddressBase() + a.counts[GroupAddress] }
func (a *ArchInfo) FlagBase() int    { return a.AccBase() + a.counts[GroupAcc] }
func (a *ArchInfo) SP() int          { return a.AddressBase() + spOffset }
func (a *ArchInfo) PC() int          { return a.AddressBase() + pcOffset }
func (a *ArchInfo) MMEBase() int     { return a.PC() + mmeAfterPC }
func (a *ArchInfo) RetVal() int      { return RetValGRF }

// Lookup returns the number of the register called name.
func (a *ArchInfo) Lookup(name string) (int, bool) {
	node, ok := a.names.Find(name)
	if !ok {
		return 0, false
	}
	return node.Meta().(int), true
}

// WithPrefix returns the numbers of the registers whose name starts with
// prefix, in wire order.
func (a *ArchInfo) WithPrefix(prefix string) []int {
	var r []int
	for _, name := range a.names.PrefixSearch(prefix) {
		if n, ok := a.Lookup(name); ok {
			r = append(r, n)
		}
	}
	sort.Ints(r)
	return r
}

// layout lists the size of each group of a generation.
type layout struct {
	grfCount int
	grfSize  int
	accSize  int
	accCount int
	mmeSize  int
	mmeCount int
}

type builder struct {
	regs []Register
}

func (b *builder) add(g Group, local, size int, name string) {
	b.regs = append(b.regs, Register{Name: name, Group: g, LocalIndex: local, Size: size})
}

func (b *builder) addN(g Group, n, size int, prefix string) {
	for i := 0; i < n; i++ {
		b.add(g, i, size, fmt.Sprintf("%s%d", prefix, i))
	}
}

// controlSize is the size of the registers of the control group, by name.
var controlSize = map[string]int{
	"ce": 4, "sp": 16, "sr0": 16, "cr0": 16, "ip": 4, "tdr": 16, "tm0": 16,
}

func build(v Version, l layout) (*ArchInfo, error) {
	var b builder
	b.addN(GroupGRF, l.grfCount, l.grfSize, "r")
	for i, name := range debugNames {
		size := 8
		if i == DebugEmask || i == DebugIemask {
			size = 4
		}
		b.add(GroupDebug, i, size, name)
	}
	b.add(GroupAddress, 0, 32, "a0")
	b.addN(GroupAcc, l.accCount, l.accSize, "acc")
	b.addN(GroupFlag, 2, 4, "f")
	for i, name := range controlNames {
		b.add(GroupControl, i, controlSize[name], name)
	}
	b.addN(GroupMME, l.mmeCount, l.mmeSize, "mme")

	a := &ArchInfo{version: v, regs: b.regs, grfSize: l.grfSize, names: trie.New()}
	for i := range a.bases {
		a.bases[i] = -1
	}
	for n, r := range a.regs {
		if a.counts[r.Group] == 0 {
			a.bases[r.Group] = n
		}
		a.counts[r.Group]++
		a.names.Add(r.Name, n)
	}
	if err := a.validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// validate checks that groups are contiguous, registers fit MaxRegSize and
// the derived numbers agree with the register table.
func (a *ArchInfo) validate() error {
	const op = "build register descriptor"
	for n, r := range a.regs {
		if r.Size <= 0 || r.Size > MaxRegSize {
			return gterr.Internalf(op, "%s: size %d exceeds %d", r.Name, r.Size, MaxRegSize)
		}
		if n != a.bases[r.Group]+r.LocalIndex {
			return gterr.Internalf(op, "%s: group %v is not contiguous", r.Name, r.Group)
		}
		if r.LocalIndex >= a.counts[r.Group] {
			return gterr.Internalf(op, "%s: local index %d out of group %v", r.Name, r.LocalIndex, r.Group)
		}
	}
	for _, c := range []struct {
		name string
		n    int
	}{
		{"emask", a.Emask()},
		{"isabase", a.ISABase()},
		{"a0", a.AddressBase()},
		{"acc0", a.AccBase()},
		{"f0", a.FlagBase()},
		{"sp", a.SP()},
		{"ip", a.PC()},
		{"mme0", a.MMEBase()},
		{"r26", a.RetVal()},
	} {
		if c.n < 0 || c.n >= len(a.regs) || a.regs[c.n].Name != c.name {
			return gterr.Internalf(op, "derived register %s at %d does not match the register table", c.name, c.n)
		}
	}
	return nil
}
