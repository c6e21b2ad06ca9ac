package cmds

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/simtdbg/simtdbg/pkg/config"
	"github.com/simtdbg/simtdbg/pkg/gt/insn"
	"github.com/simtdbg/simtdbg/pkg/gt/regnum"
	"github.com/simtdbg/simtdbg/pkg/logflags"
	"github.com/simtdbg/simtdbg/pkg/proc"
	"github.com/simtdbg/simtdbg/pkg/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// log is whether to log debug statements.
	log bool
	// logOutput is a comma separated list of components that should produce debug output.
	logOutput string
	// logDest is the file path or file descriptor where logs should go.
	logDest string
	// configFile overrides the default configuration file.
	configFile string

	// regsGen is the register descriptor printed by 'regs'.
	regsGen string
	// regsPrefix limits 'regs' to the registers whose name starts with it.
	regsPrefix string
	// instDevice is the device whose instruction family decodes 'inst'.
	instDevice deviceID

	// rootCommand is the root of the command tree.
	rootCommand *cobra.Command

	conf *config.Config
)

const simtdbgCommandLongDesc = `simtdbg is the architecture layer of a debugger for Intel GT devices.

The simtdbg command inspects the tables the debugger uses: the register
layout of each device generation, the instruction codec and the list of
supported devices.`

const defaultDevice deviceID = 0x0bd5

// deviceID is a pflag.Value holding a PCI device id, written in hex with
// or without the 0x prefix.
type deviceID uint32

var _ pflag.Value = (*deviceID)(nil)

func (d *deviceID) String() string { return fmt.Sprintf("%#06x", uint32(*d)) }

func (d *deviceID) Set(s string) error {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return fmt.Errorf("invalid device id %q", s)
	}
	*d = deviceID(v)
	return nil
}

func (d *deviceID) Type() string { return "deviceid" }

// New returns an initialized command tree.
func New() *cobra.Command {
	// Main simtdbg root command.
	rootCommand = &cobra.Command{
		Use:               "simtdbg",
		Short:             "simtdbg is the Intel GT architecture layer of a debugger.",
		Long:              simtdbgCommandLongDesc,
		SilenceUsage:      true,
		PersistentPreRunE: setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			logflags.Close()
		},
	}

	rootCommand.PersistentFlags().BoolVarP(&log, "log", "", false, "Enable logging.")
	rootCommand.PersistentFlags().StringVarP(&logOutput, "log-output", "", "", `Comma separated list of components that should produce debug output (see 'simtdbg help log')`)
	rootCommand.PersistentFlags().StringVarP(&logDest, "log-dest", "", "", "Writes logs to the specified file or file descriptor (see 'simtdbg help log').")
	rootCommand.PersistentFlags().StringVarP(&configFile, "config", "", "", "Configuration file, instead of the default one.")

	// 'regs' subcommand.
	regsCommand := &cobra.Command{
		Use:   "regs",
		Short: "Prints the register layout of a device generation.",
		Long: `Prints the registers of a device generation in the order the remote stub
transfers them, with their number, group and size.

Generations: ` + versionList(),
		Args: cobra.NoArgs,
		RunE: regsCmd,
	}
	regsCommand.Flags().StringVar(&regsGen, "gen", regnum.Gen12.String(), "Device generation.")
	regsCommand.Flags().StringVar(&regsPrefix, "prefix", "", "Only print registers whose name starts with this prefix.")
	rootCommand.AddCommand(regsCommand)

	// 'inst' subcommand.
	instCommand := &cobra.Command{
		Use:   "inst <hex bytes>",
		Short: "Classifies an encoded instruction.",
		Long: `Decodes the instruction given as hex bytes, in memory order, and prints its
length, form, opcode and whether it carries a breakpoint, transfers control
or belongs to an atomic sequence on the selected device.`,
		Args: cobra.ExactArgs(1),
		RunE: instCmd,
	}
	instDevice = defaultDevice
	instCommand.Flags().Var(&instDevice, "device", "PCI device id, in hex.")
	rootCommand.AddCommand(instCommand)

	// 'devices' subcommand.
	rootCommand.AddCommand(&cobra.Command{
		Use:   "devices",
		Short: "Lists the supported devices.",
		Args:  cobra.NoArgs,
		Run:   devicesCmd,
	})

	// 'version' subcommand.
	var versionVerbose = false
	versionCommand := &cobra.Command{
		Use:   "version",
		Short: "Prints version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "simtdbg\n%s\n", version.SimtdbgVersion)
			if versionVerbose {
				fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", version.BuildInfo())
			}
		},
	}
	versionCommand.Flags().BoolVarP(&versionVerbose, "verbose", "v", false, "print verbose version info")
	rootCommand.AddCommand(versionCommand)

	rootCommand.AddCommand(&cobra.Command{
		Use:   "log",
		Short: "Help about logging flags.",
		Long: `Logging can be enabled by specifying the --log flag and using the
--log-output flag to select which components should produce logs.

The argument of --log-output must be a comma separated list of component
names selected from this list:


	gt		Log the architecture layer (default)
	fncall		Log function call injection
	scratch		Log scratch memory allocations
	abi		Log argument and return value marshaling
	stepping	Log breakpoint placement and atomic stepping

Additionally --log-dest can be used to specify where the logs should be
written.
If the argument is a number it will be interpreted as a file descriptor,
otherwise as a file path.

If --log-output is not given the log-output value of the configuration
file is used.
`,
	})

	rootCommand.DisableAutoGenTag = true

	return rootCommand
}

func setup(cmd *cobra.Command, args []string) error {
	var err error
	if configFile != "" {
		conf, err = config.LoadConfigFile(configFile)
	} else {
		conf, err = config.LoadConfig()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
	}
	if logOutput == "" && log && conf != nil {
		logOutput = conf.LogOutput
	}
	return logflags.Setup(log, logOutput, logDest)
}

func versionList() string {
	vs := regnum.Versions()
	names := make([]string, len(vs))
	for i, v := range vs {
		names[i] = v.String()
	}
	return strings.Join(names, ", ")
}

func regsCmd(cmd *cobra.Command, args []string) error {
	v, err := regnum.ParseVersion(regsGen)
	if err != nil {
		return err
	}
	info, err := new(regnum.Cache).GetOrCreate(v)
	if err != nil {
		return err
	}
	return printRegisters(cmd.OutOrStdout(), info, regsPrefix)
}

func printRegisters(out io.Writer, info *regnum.ArchInfo, prefix string) error {
	var nums []int
	if prefix != "" {
		nums = info.WithPrefix(prefix)
		if len(nums) == 0 {
			return fmt.Errorf("no register starts with %q", prefix)
		}
	} else {
		nums = make([]int, info.NumRegs())
		for i := range nums {
			nums[i] = i
		}
	}
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "NUM\tNAME\tGROUP\tSIZE\n")
	for _, n := range nums {
		r, err := info.Register(n)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%d\t%s\t%v\t%d\n", n, r.Name, r.Group, r.Size)
	}
	return w.Flush()
}

var errEmptyInstruction = errors.New("empty instruction")

func instCmd(cmd *cobra.Command, args []string) error {
	dev, err := proc.LookupDevice(uint32(instDevice))
	if err != nil {
		return err
	}
	s := strings.Map(func(r rune) rune {
		if r == ' ' || r == ':' {
			return -1
		}
		return r
	}, strings.TrimPrefix(args[0], "0x"))
	if s == "" {
		return errEmptyInstruction
	}
	buf, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("invalid instruction bytes: %v", err)
	}
	return describeInst(cmd.OutOrStdout(), dev, buf)
}

func describeInst(out io.Writer, dev *proc.Device, buf []byte) error {
	in, err := insn.Decode(buf)
	if err != nil {
		return err
	}
	branch, err := dev.Family.IsBranch(&in)
	if err != nil {
		return err
	}
	atomic, err := dev.Family.IsAtomic(&in)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 8, 1, ' ', 0)
	fmt.Fprintf(w, "device:\t%#06x %s (%v)\n", dev.ID, dev.Name, dev.Family)
	fmt.Fprintf(w, "bytes:\t% x\n", in.Bytes())
	fmt.Fprintf(w, "length:\t%d\n", in.Len())
	fmt.Fprintf(w, "compacted:\t%v\n", in.IsCompacted())
	fmt.Fprintf(w, "opcode:\t%#02x\n", in.Opcode())
	fmt.Fprintf(w, "breakpoint:\t%v\n", in.HasBreakpoint())
	fmt.Fprintf(w, "branch:\t%v\n", branch)
	fmt.Fprintf(w, "atomic:\t%v\n", atomic)
	if in.IsCompacted() {
		if idx, err := dev.Family.CtrlIndex(&in); err == nil {
			fmt.Fprintf(w, "control index:\t%#02x\n", idx)
		}
	}
	return w.Flush()
}

func devicesCmd(cmd *cobra.Command, args []string) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tNAME\tREGISTERS\tFAMILY\n")
	for _, d := range proc.Devices() {
		fmt.Fprintf(w, "%#06x\t%s\t%v\t%v\n", d.ID, d.Name, d.Version, d.Family)
	}
	w.Flush()
}
