package proc

import (
	"sort"

	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
	"github.com/simtdbg/simtdbg/pkg/gt/insn"
	"github.com/simtdbg/simtdbg/pkg/gt/regnum"
)

// Device describes a supported device id.
type Device struct {
	ID      uint32
	Name    string
	Version regnum.Version
	Family  insn.Family
}

var deviceTable = map[uint32]Device{
	0x3e92: {Name: "UHD Graphics 630", Version: regnum.Gen9, Family: insn.Gen9},
	0x5917: {Name: "UHD Graphics 620", Version: regnum.Gen9, Family: insn.Gen9},
	0x8a52: {Name: "Iris Plus Graphics G7", Version: regnum.Gen11, Family: insn.Gen9},
	0x9a49: {Name: "Iris Xe Graphics", Version: regnum.Gen12, Family: insn.Xe},
	0x4905: {Name: "Iris Xe MAX Graphics", Version: regnum.Gen12, Family: insn.Xe},
	0x56a0: {Name: "Arc A770 Graphics", Version: regnum.Gen12, Family: insn.Xe},
	0x0bd5: {Name: "Data Center GPU Max 1550", Version: regnum.XeHPC, Family: insn.Xe},
	0x0bda: {Name: "Data Center GPU Max 1100", Version: regnum.XeHPC, Family: insn.Xe},
	0x6420: {Name: "Lunar Lake Graphics", Version: regnum.XeHPC, Family: insn.Xe2},
	0xe20b: {Name: "Arc B580 Graphics", Version: regnum.XeHPC, Family: insn.Xe2},
}

// LookupDevice returns the description of device id.
func LookupDevice(id uint32) (*Device, error) {
	d, ok := deviceTable[id]
	if !ok {
		return nil, gterr.Targetf("lookup device", "unsupported device id %#x", id)
	}
	d.ID = id
	return &d, nil
}

// Devices returns all supported devices sorted by id.
func Devices() []Device {
	r := make([]Device, 0, len(deviceTable))
	for id, d := range deviceTable {
		d.ID = id
		r = append(r, d)
	}
	sort.Slice(r, func(i, j int) bool { return r[i].ID < r[j].ID })
	return r
}
