package proc

import (
	"context"

	"github.com/simtdbg/simtdbg/pkg/config"
	"github.com/simtdbg/simtdbg/pkg/gt/gterr"
	"github.com/simtdbg/simtdbg/pkg/gt/insn"
	"github.com/simtdbg/simtdbg/pkg/gt/regnum"
	"github.com/simtdbg/simtdbg/pkg/gt/scratch"
	"github.com/simtdbg/simtdbg/pkg/logflags"
)

// StopReason describes why the device stopped after a resume.
type StopReason uint8

const (
	StopUnknown    StopReason = iota
	StopBreakpoint            // The thread hit a breakpoint
	StopStep                  // A single step completed
	StopSignal                // The thread was interrupted, by the host or by an exception
	StopExited                // The thread terminated
)

// String maps StopReason to string representation.
func (sr StopReason) String() string {
	switch sr {
	case StopUnknown:
		return "unknown"
	case StopBreakpoint:
		return "breakpoint"
	case StopStep:
		return "step"
	case StopSignal:
		return "signal"
	case StopExited:
		return "exited"
	default:
		return ""
	}
}

// Runner resumes a device thread and waits for it to stop.
type Runner interface {
	Resume(ctx context.Context, th *Thread) (StopReason, error)
}

// NewTargetConfig configures a Target.
type NewTargetConfig struct {
	DeviceID uint32
	// Features is the target description sent by the remote stub. Nil
	// selects the register descriptor of the device.
	Features []regnum.Feature
	Mem      MemoryReadWriter
	Runner   Runner
	BinInfo  BinaryInfo
	// Config holds the user settings, nil for the defaults.
	Config *config.Config
}

// Target is the architecture context of one connected device. It owns the
// state that is shared by every thread of the device: the register
// descriptor, the scratch allocator, the breakpoints and the caches that
// are valid while the device is stopped.
//
// A Target is driven by a single debugger goroutine and is not safe for
// concurrent use.
type Target struct {
	Device *Device

	info   *regnum.ArchInfo
	family insn.Family
	mem    MemoryReadWriter
	runner Runner
	bi     BinaryInfo
	cfg    *config.Config

	scratch *scratch.Allocator

	// kernelCache maps a pc to its kernel metadata.
	kernelCache *stopCache
	// implicitArgsCache maps the address of an implicit arguments block to
	// the SIMD width it records.
	implicitArgsCache *stopCache

	threads     []*Thread
	breakpoints map[uint64]*Breakpoint

	fncallInProgress bool
}

// NewTarget returns the context of the device described by cfg. Register
// descriptors are shared through descs.
func NewTarget(descs *regnum.Cache, cfg NewTargetConfig) (*Target, error) {
	dev, err := LookupDevice(cfg.DeviceID)
	if err != nil {
		return nil, err
	}
	v := dev.Version
	if cfg.Features != nil {
		fv, err := regnum.VersionFromFeatures(cfg.Features)
		if err != nil {
			return nil, err
		}
		if fv != v {
			logflags.GTLogger().Warnf("%v", gterr.Softf("new target", "device %#x is %v but the target description is %v", dev.ID, v, fv))
			v = fv
		}
	}
	info, err := descs.GetOrCreate(v)
	if err != nil {
		return nil, err
	}
	if cfg.Features != nil {
		if err := info.CheckFeatures(cfg.Features); err != nil {
			return nil, err
		}
	}

	t := &Target{
		Device:      dev,
		info:        info,
		family:      dev.Family,
		mem:         cfg.Mem,
		runner:      cfg.Runner,
		bi:          cfg.BinInfo,
		cfg:         cfg.Config,
		breakpoints: make(map[uint64]*Breakpoint),
	}
	if t.kernelCache, err = newStopCache("kernel metadata", t.cfg.MetadataCache()); err != nil {
		return nil, err
	}
	if t.implicitArgsCache, err = newStopCache("implicit arguments", t.cfg.ImplicitArgsCache()); err != nil {
		return nil, err
	}
	logflags.GTLogger().Debugf("new target: device %#x (%s), %v registers, %v instructions", dev.ID, dev.Name, v, dev.Family)
	return t, nil
}

// ArchInfo returns the register descriptor of the device.
func (t *Target) ArchInfo() *regnum.ArchInfo { return t.info }

// Family returns the instruction family of the device.
func (t *Target) Family() insn.Family { return t.family }

// Memory returns the device memory.
func (t *Target) Memory() MemoryReadWriter { return t.mem }

// BinInfo returns the module lookup of the target.
func (t *Target) BinInfo() BinaryInfo { return t.bi }

// NewThread registers a device thread whose registers are accessed
// through regs.
func (t *Target) NewThread(id int, regs RegisterCache) *Thread {
	th := &Thread{ID: id, regs: regs, target: t}
	t.threads = append(t.threads, th)
	return th
}

// Threads returns the threads registered with NewThread.
func (t *Target) Threads() []*Thread {
	return t.threads
}

// Scratch returns the scratch allocator of the device, creating it on
// first use from the debug area header found relative to the ISA base of
// th.
func (t *Target) Scratch(th *Thread) (*scratch.Allocator, error) {
	if t.scratch != nil {
		return t.scratch, nil
	}
	isabase, err := th.ISABase()
	if err != nil {
		return nil, err
	}
	var off uint64
	if t.cfg != nil {
		off = t.cfg.DebugAreaOffset
	}
	a, err := scratch.NewFromHeader(t.mem, isabase+off)
	if err != nil {
		return nil, err
	}
	logflags.ScratchLogger().Debugf("scratch region [%#x, %#x)", a.Start(), a.Start()+a.Size())
	t.scratch = a
	return a, nil
}

// ClearCaches drops everything that is only valid while the device is
// stopped.
func (t *Target) ClearCaches() {
	logflags.GTLogger().Debugf("dropping %d kernel metadata and %d implicit arguments entries", t.kernelCache.len(), t.implicitArgsCache.len())
	t.kernelCache.purge()
	t.implicitArgsCache.purge()
	for _, th := range t.threads {
		th.invalidate()
	}
}

// Resume clears the caches and resumes th until it stops.
func (t *Target) Resume(ctx context.Context, th *Thread) (StopReason, error) {
	if t.runner == nil {
		return StopUnknown, gterr.Internalf("resume", "target has no runner")
	}
	t.ClearCaches()
	sr, err := t.runner.Resume(ctx, th)
	if err != nil {
		return sr, gterr.Wrap(gterr.Target, "resume", err)
	}
	return sr, nil
}

func (t *Target) warnPermanentBreakpoints() bool {
	return t.cfg.WarnPermanent()
}
