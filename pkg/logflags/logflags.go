package logflags

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/sirupsen/logrus"
)

var gt = false
var fnCall = false
var scratch = false
var abi = false
var stepping = false

var logOut io.WriteCloser

// logTTY is set when log output goes to a terminal.
var logTTY = false

func makeLogger(level logrus.Level, fields Fields) Logger {
	if lf := loggerFactory; lf != nil {
		return lf(level, fields, logOut)
	}
	logger := logrus.New().WithFields(logrus.Fields(fields))
	logger.Logger.Formatter = textFormatterInstance
	switch {
	case logOut != nil && logTTY:
		logger.Logger.Formatter = colorFormatterInstance
		if f, ok := logOut.(*os.File); ok {
			logger.Logger.Out = colorable.NewColorable(f)
		} else {
			logger.Logger.Out = logOut
		}
	case logOut != nil:
		logger.Logger.Out = logOut
	case isatty.IsTerminal(os.Stderr.Fd()):
		logger.Logger.Formatter = colorFormatterInstance
		logger.Logger.Out = colorable.NewColorableStderr()
	}
	logger.Logger.Level = level
	return &logrusLogger{logger}
}

// makeFlaggableLogger returns a logger that always reports warnings and
// only logs debug output when flag is set.
func makeFlaggableLogger(flag bool, fields Fields) Logger {
	if !flag {
		return makeLogger(logrus.WarnLevel, fields)
	}
	return makeLogger(logrus.DebugLevel, fields)
}

// GT returns true if the architecture layer (register model, instruction
// codec, device table) should log.
func GT() bool {
	return gt
}

// GTLogger returns a logger for the architecture layer.
func GTLogger() Logger {
	return makeFlaggableLogger(gt, Fields{"layer": "gt"})
}

// FnCall returns true if the inferior call protocol should be logged.
func FnCall() bool {
	return fnCall
}

func FnCallLogger() Logger {
	return makeFlaggableLogger(fnCall, Fields{"layer": "proc", "kind": "fncall"})
}

// Scratch returns true if scratch memory allocations should be logged.
func Scratch() bool {
	return scratch
}

func ScratchLogger() Logger {
	return makeFlaggableLogger(scratch, Fields{"layer": "gt", "kind": "scratch"})
}

// ABI returns true if argument and return value marshaling should be
// logged.
func ABI() bool {
	return abi
}

func ABILogger() Logger {
	return makeFlaggableLogger(abi, Fields{"layer": "gt", "kind": "abi"})
}

// Stepping returns true if breakpoint placement and atomic sequence
// stepping should be logged.
func Stepping() bool {
	return stepping
}

func SteppingLogger() Logger {
	return makeFlaggableLogger(stepping, Fields{"layer": "proc", "kind": "stepping"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets debugger flags based on the contents of logstr.
// If logDest is not empty logs will be redirected to the file descriptor or
// file path specified by logDest.
func Setup(logFlag bool, logstr, logDest string) error {
	if logDest != "" {
		n, err := strconv.Atoi(logDest)
		if err == nil {
			f := os.NewFile(uintptr(n), "simtdbg-logs")
			logOut = f
			logTTY = isatty.IsTerminal(f.Fd())
		} else {
			fh, err := os.Create(logDest)
			if err != nil {
				return fmt.Errorf("could not create log file: %v", err)
			}
			logOut = fh
			logTTY = false
		}
	}
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "gt"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		// If adding another value, do make sure to
		// update "Help about logging flags" in commands.go.
		switch logcmd {
		case "gt":
			gt = true
		case "fncall":
			fnCall = true
		case "scratch":
			scratch = true
		case "abi":
			abi = true
		case "stepping":
			stepping = true
		default:
			fmt.Fprintf(os.Stderr, "Warning: unknown log output value %q, run 'simtdbg help log' for usage.\n", logcmd)
		}
	}
	return nil
}

// Close closes the logger output.
func Close() {
	if logOut != nil {
		logOut.Close()
	}
}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct {
	colors bool
}

var textFormatterInstance = &textFormatter{}
var colorFormatterInstance = &textFormatter{colors: true}

func levelColor(level logrus.Level) int {
	switch level {
	case logrus.DebugLevel, logrus.TraceLevel:
		return 37
	case logrus.WarnLevel:
		return 33
	case logrus.ErrorLevel, logrus.FatalLevel, logrus.PanicLevel:
		return 31
	default:
		return 36
	}
}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b *bytes.Buffer
	if entry.Buffer != nil {
		b = entry.Buffer
	} else {
		b = &bytes.Buffer{}
	}

	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.WriteString(entry.Time.Format(time.RFC3339))
	b.WriteByte(' ')
	level := entry.Level.String()
	if f.colors {
		fmt.Fprintf(b, "\x1b[%dm%s\x1b[0m", levelColor(entry.Level), level)
	} else {
		b.WriteString(level)
	}
	b.WriteByte(' ')
	for i, key := range keys {
		b.WriteString(key)
		b.WriteByte('=')
		stringVal, ok := entry.Data[key].(string)
		if !ok {
			stringVal = fmt.Sprint(entry.Data[key])
		}
		if f.needsQuoting(stringVal) {
			fmt.Fprintf(b, "%q", stringVal)
		} else {
			b.WriteString(stringVal)
		}
		if i != len(keys)-1 {
			b.WriteByte(',')
		} else {
			b.WriteByte(' ')
		}
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func (f *textFormatter) needsQuoting(text string) bool {
	for _, ch := range text {
		if !((ch >= 'a' && ch <= 'z') ||
			(ch >= 'A' && ch <= 'Z') ||
			(ch >= '0' && ch <= '9') ||
			ch == '-' || ch == '.' || ch == '_' || ch == '/' || ch == '@' || ch == '^' || ch == '+') {
			return true
		}
	}
	return false
}
