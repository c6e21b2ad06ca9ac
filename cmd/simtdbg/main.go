package main

import (
	"os"

	"github.com/simtdbg/simtdbg/cmd/simtdbg/cmds"
	"github.com/simtdbg/simtdbg/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.SimtdbgVersion.Build = Build
	}
	if err := cmds.New().Execute(); err != nil {
		os.Exit(1)
	}
}
