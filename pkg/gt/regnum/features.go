package regnum

import (
	"strings"

	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
)

// Target description feature names.
const (
	FeatureGRF      = "org.gnu.gdb.intelgt.grf"
	FeatureDebug    = "org.gnu.gdb.intelgt.debug"
	FeatureARF9     = "org.gnu.gdb.intelgt.arf9"
	FeatureARF11    = "org.gnu.gdb.intelgt.arf11"
	FeatureARF12    = "org.gnu.gdb.intelgt.arf12"
	FeatureARFXeHPC = "org.gnu.gdb.intelgt.arfxehpc"
)

var arfFeatures = map[string]Version{
	FeatureARF9:     Gen9,
	FeatureARF11:    Gen11,
	FeatureARF12:    Gen12,
	FeatureARFXeHPC: XeHPC,
}

// Feature is one feature of a target description: a named, ordered list
// of register names.
type Feature struct {
	Name      string
	Registers []string
}

// VersionFromFeatures selects the generation from the ARF feature of a
// target description. A description without registers selects Gen9.
func VersionFromFeatures(features []Feature) (Version, error) {
	nregs := 0
	for _, f := range features {
		nregs += len(f.Registers)
	}
	if nregs == 0 {
		return Gen9, nil
	}
	var found []Version
	for _, f := range features {
		if v, ok := arfFeatures[f.Name]; ok {
			found = append(found, v)
		}
	}
	switch len(found) {
	case 0:
		return VersionUnknown, gterr.Targetf("target description", "no ARF feature")
	case 1:
		return found[0], nil
	}
	return VersionUnknown, gterr.Targetf("target description", "%d ARF features", len(found))
}

// Features returns the target description of a: the GRF
// feature, the debug feature and the ARF feature of its generation.
func (a *ArchInfo) Features() []Feature {
	arf := FeatureARF9
	for name, v := range arfFeatures {
		if v == a.version {
			arf = name
		}
	}
	fs := []Feature{{Name: FeatureGRF}, {Name: FeatureDebug}, {Name: arf}}
	for _, r := range a.regs {
		i := 2
		switch r.Group {
		case GroupGRF:
			i = 0
		case GroupDebug:
			i = 1
		}
		fs[i].Registers = append(fs[i].Registers, r.Name)
	}
	return fs
}

// CheckFeatures verifies that features, concatenated in order, declare
// exactly the registers of a in wire order. The derived register numbers
// are wrong for any other order.
func (a *ArchInfo) CheckFeatures(features []Feature) error {
	const op = "target description"
	n := 0
	for _, f := range features {
		for _, name := range f.Registers {
			if n >= len(a.regs) {
				return gterr.Targetf(op, "feature %s: extra register %s", f.Name, name)
			}
			if want := a.regs[n].Name; name != want {
				return gterr.Targetf(op, "feature %s: register %d is %s, want %s", f.Name, n, name, want)
			}
			n++
		}
	}
	if n != len(a.regs) {
		missing := make([]string, 0, len(a.regs)-n)
		for _, r := range a.regs[n:] {
			missing = append(missing, r.Name)
		}
		return gterr.Targetf(op, "missing registers: %s", strings.Join(missing, " "))
	}
	return nil
}
