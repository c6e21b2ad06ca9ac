package proc

import (
	"sort"
)

// BinaryInfo answers questions about the code loaded on the device. It is
// implemented by the component that parses kernel binaries and their
// metadata.
type BinaryInfo interface {
	// PCToFunc returns the function containing pc, or nil.
	PCToFunc(pc uint64) *Function
	// KernelAt returns the metadata of the kernel containing pc, or nil if
	// no metadata is available.
	KernelAt(pc uint64) (*Kernel, error)
}

// Function describes a function of a kernel binary.
type Function struct {
	Name       string
	Entry, End uint64 // same as DW_AT_lowpc and DW_AT_highpc
}

// Kernel is the runtime metadata of a kernel.
type Kernel struct {
	Name       string
	Entry, End uint64
	// SIMDWidth is the number of lanes each hardware thread of the kernel
	// runs, 0 if the metadata does not say.
	SIMDWidth int
}

// ModuleInfo is a BinaryInfo over tables of functions and kernels, sorted
// by entry point.
type ModuleInfo struct {
	// Functions is a list of all functions, sorted by entry point
	Functions []Function
	// Kernels is a list of all kernels, sorted by entry point
	Kernels []Kernel
}

// NewModuleInfo returns a ModuleInfo over fns and kernels.
func NewModuleInfo(fns []Function, kernels []Kernel) *ModuleInfo {
	mi := &ModuleInfo{Functions: append([]Function(nil), fns...), Kernels: append([]Kernel(nil), kernels...)}
	sort.Slice(mi.Functions, func(i, j int) bool { return mi.Functions[i].Entry < mi.Functions[j].Entry })
	sort.Slice(mi.Kernels, func(i, j int) bool { return mi.Kernels[i].Entry < mi.Kernels[j].Entry })
	return mi
}

// PCToFunc returns the function containing the given PC address
func (mi *ModuleInfo) PCToFunc(pc uint64) *Function {
	i := sort.Search(len(mi.Functions), func(i int) bool {
		fn := mi.Functions[i]
		return pc <= fn.Entry || (fn.Entry <= pc && pc < fn.End)
	})
	if i != len(mi.Functions) {
		fn := &mi.Functions[i]
		if fn.Entry <= pc && pc < fn.End {
			return fn
		}
	}
	return nil
}

// KernelAt returns the kernel containing pc.
func (mi *ModuleInfo) KernelAt(pc uint64) (*Kernel, error) {
	i := sort.Search(len(mi.Kernels), func(i int) bool {
		k := mi.Kernels[i]
		return pc <= k.Entry || (k.Entry <= pc && pc < k.End)
	})
	if i != len(mi.Kernels) {
		k := &mi.Kernels[i]
		if k.Entry <= pc && pc < k.End {
			return k, nil
		}
	}
	return nil, nil
}
