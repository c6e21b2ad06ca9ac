// Package proc is the device side of the debugger: it drives the threads
// of a stopped Intel GT device through the memory, register and run
// control interfaces provided by the remote stub.
//
// proc implements:
// * the architecture context of a device (Target): register descriptor,
//   instruction family, scratch memory, caches valid for one stop
// * software breakpoints, moved out of atomic sequences
// * stepping of atomic instructions (displaced and software single step)
// * calls of device functions from the debugger
//
package proc
