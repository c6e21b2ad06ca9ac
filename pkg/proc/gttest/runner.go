package gttest

import (
	"context"
	"errors"

	"github.com/simtdbg/simtdbg/pkg/proc"
)

// Step simulates one resume of a thread: it changes the fake device state
// the way the hardware would and reports why the thread stopped.
type Step func(th *proc.Thread) (proc.StopReason, error)

var ErrScriptDone = errors.New("runner script exhausted")

// Runner is a proc.Runner replaying a script, one step per resume.
type Runner struct {
	Script []Step
	// Resumed counts calls to Resume.
	Resumed int
}

// Resume implements proc.Runner.
func (r *Runner) Resume(ctx context.Context, th *proc.Thread) (proc.StopReason, error) {
	if err := ctx.Err(); err != nil {
		return proc.StopUnknown, err
	}
	r.Resumed++
	if len(r.Script) == 0 {
		return proc.StopUnknown, ErrScriptDone
	}
	step := r.Script[0]
	r.Script = r.Script[1:]
	return step(th)
}

// StopAt returns a step that moves the pc of regs to pc and stops with sr.
func StopAt(regs *Registers, pc uint64, sr proc.StopReason) Step {
	return func(*proc.Thread) (proc.StopReason, error) {
		regs.SetPC(regs.Uint(regs.info.ISABase()), pc)
		return sr, nil
	}
}
