package logflags

import (
	"bytes"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestMakeLogger_usingLoggerFactory(t *testing.T) {
	if loggerFactory != nil {
		t.Fatalf("expected loggerFactory to be nil; but was <%v>", loggerFactory)
	}
	defer func() {
		loggerFactory = nil
	}()
	if logOut != nil {
		t.Fatalf("expected logOut to be nil; but was <%v>", logOut)
	}
	logOut = &bufferWriter{}
	defer func() {
		logOut = nil
	}()

	expectedLogger := &logrusLogger{}
	SetLoggerFactory(func(level logrus.Level, fields Fields, out io.Writer) Logger {
		if level != logrus.DebugLevel {
			t.Fatalf("expected level to be <%v>; but was <%v>", logrus.DebugLevel, level)
		}
		if len(fields) != 1 || fields["foo"] != "bar" {
			t.Fatalf("expected fields to be {'foo':'bar'}; but was <%v>", fields)
		}
		if out != logOut {
			t.Fatalf("expected out to be <%v>; but was <%v>", logOut, out)
		}
		return expectedLogger
	})

	actual := makeLogger(logrus.DebugLevel, Fields{"foo": "bar"})
	if actual != expectedLogger {
		t.Fatalf("expected actual to <%v>; but was <%v>", expectedLogger, actual)
	}
}

func TestMakeFlaggableLogger_withFlagFalse(t *testing.T) {
	actual := makeFlaggableLogger(false, Fields{"foo": "bar"})
	actualEntry, expectedType := actual.(*logrusLogger)
	if !expectedType {
		t.Fatalf("expected actual to be of type <%v>; but was <%v>", reflect.TypeOf((*logrusLogger)(nil)), reflect.TypeOf(actual))
	}
	if actualEntry.Entry.Logger.Level != logrus.WarnLevel {
		t.Fatalf("expected level to be <%v>; but was <%v>", logrus.WarnLevel, actualEntry.Logger.Level)
	}
	if len(actualEntry.Entry.Data) != 1 || actualEntry.Data["foo"] != "bar" {
		t.Fatalf("expected actualEntry.Entry.Data to be {'foo':'bar'}; but was <%v>", actualEntry.Data)
	}
}

func TestMakeFlaggableLogger_withFlagTrue(t *testing.T) {
	actual := makeFlaggableLogger(true, Fields{"foo": "bar"})
	actualEntry, expectedType := actual.(*logrusLogger)
	if !expectedType {
		t.Fatalf("expected actual to be of type <%v>; but was <%v>", reflect.TypeOf((*logrusLogger)(nil)), reflect.TypeOf(actual))
	}
	if actualEntry.Entry.Logger.Level != logrus.DebugLevel {
		t.Fatalf("expected level to be <%v>; but was <%v>", logrus.DebugLevel, actualEntry.Logger.Level)
	}
}

func TestMakeLogger_usingDefaultBehavior(t *testing.T) {
	logOut = &bufferWriter{}
	defer func() {
		logOut = nil
	}()

	actual := makeLogger(logrus.WarnLevel, Fields{"foo": "bar"})

	actualEntry, expectedType := actual.(*logrusLogger)
	if !expectedType {
		t.Fatalf("expected actual to be of type <%v>; but was <%v>", reflect.TypeOf((*logrusLogger)(nil)), reflect.TypeOf(actual))
	}
	if actualEntry.Entry.Logger.Level != logrus.WarnLevel {
		t.Fatalf("expected level to be <%v>; but was <%v>", logrus.WarnLevel, actualEntry.Logger.Level)
	}
	if actualEntry.Entry.Logger.Out != logOut {
		t.Fatalf("expected out to be <%v>; but was <%v>", logOut, actualEntry.Logger.Out)
	}
	if actualEntry.Entry.Logger.Formatter != textFormatterInstance {
		t.Fatalf("expected formatter to be <%v>; but was <%v>", textFormatterInstance, actualEntry.Logger.Formatter)
	}
}

func TestDisabledLoggerWarns(t *testing.T) {
	bw := &bufferWriter{}
	logOut = bw
	defer func() {
		logOut = nil
	}()
	l := makeFlaggableLogger(false, Fields{"layer": "gt"})
	l.Debugf("hidden")
	l.Warnf("instruction already has a breakpoint")
	out := bw.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug output of a disabled component: <%s>", out)
	}
	if !strings.Contains(out, "warning layer=gt instruction already has a breakpoint") {
		t.Fatalf("missing warning; output was <%s>", out)
	}
}

func TestSetupFlags(t *testing.T) {
	defer func() {
		gt, fnCall, scratch, abi, stepping = false, false, false, false, false
	}()
	if err := Setup(false, "fncall", ""); err != errLogstrWithoutLog {
		t.Fatalf("expected <%v>; but was <%v>", errLogstrWithoutLog, err)
	}
	if err := Setup(true, "fncall,stepping", ""); err != nil {
		t.Fatal(err)
	}
	if !FnCall() || !Stepping() || GT() || Scratch() || ABI() {
		t.Fatalf("unexpected flags gt=%v fncall=%v scratch=%v abi=%v stepping=%v", gt, fnCall, scratch, abi, stepping)
	}
	if err := Setup(true, "", ""); err != nil {
		t.Fatal(err)
	}
	if !GT() {
		t.Fatal("gt should be the default log output")
	}
}

func TestTextFormatter(t *testing.T) {
	entry := &logrus.Entry{
		Time:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Level:   logrus.WarnLevel,
		Message: "permanent breakpoint",
		Data:    logrus.Fields{"layer": "proc", "addr": "0x1000 0x2000"},
	}
	out, err := textFormatterInstance.Format(entry)
	if err != nil {
		t.Fatal(err)
	}
	const want = `2024-01-02T03:04:05Z warning addr="0x1000 0x2000",layer=proc permanent breakpoint` + "\n"
	if string(out) != want {
		t.Fatalf("expected <%s>; but was <%s>", want, out)
	}
	out, _ = colorFormatterInstance.Format(entry)
	if !strings.Contains(string(out), "\x1b[33mwarning\x1b[0m") {
		t.Fatalf("expected colored level; but was <%q>", out)
	}
}

type bufferWriter struct {
	bytes.Buffer
}

func (bw bufferWriter) Close() error {
	return nil
}
