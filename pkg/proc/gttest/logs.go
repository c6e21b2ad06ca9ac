package gttest

import (
	"bytes"
	"io"
	"testing"

	"github.com/simtdbg/simtdbg/pkg/logflags"
	"github.com/sirupsen/logrus"
)

type entryLogger struct {
	*logrus.Entry
}

func (l entryLogger) WithField(key string, value interface{}) logflags.Logger {
	return entryLogger{l.Entry.WithField(key, value)}
}

func (l entryLogger) WithFields(fields logflags.Fields) logflags.Logger {
	return entryLogger{l.Entry.WithFields(logrus.Fields(fields))}
}

func (l entryLogger) WithError(err error) logflags.Logger {
	return entryLogger{l.Entry.WithError(err)}
}

// CaptureLogs sends the output of every logger created until the end of
// the test to the returned buffer. Loggers keep the level logflags gives
// them.
func CaptureLogs(t testing.TB) *bytes.Buffer {
	buf := new(bytes.Buffer)
	logflags.SetLoggerFactory(func(level logrus.Level, fields logflags.Fields, out io.Writer) logflags.Logger {
		l := logrus.New()
		l.Out = buf
		l.Level = level
		l.Formatter = &logrus.TextFormatter{DisableTimestamp: true, DisableColors: true}
		return entryLogger{l.WithFields(logrus.Fields(fields))}
	})
	t.Cleanup(func() { logflags.SetLoggerFactory(nil) })
	return buf
}
