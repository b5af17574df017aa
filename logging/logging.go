// Package logging contains the leveled, structured logger used by every rsscan component.
package logging

import (
	"io"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// encoderConfig is zap's production encoder with colored capital levels and ISO8601 times.
func encoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalColorLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
}

func newLogger(name string, level Level, inUTC bool, appenders ...Appender) *impl {
	return &impl{name: name, level: NewAtomicLevelAt(level), inUTC: inUTC, appenders: appenders}
}

// NewLogger returns a logger that writes Info+ lines to stdout in UTC.
func NewLogger(name string) Logger {
	return newLogger(name, INFO, true, NewStdoutAppender())
}

// NewWriterLogger returns a logger at the given level that writes uncolored lines to w. The
// command line logs to stderr this way so command output stays readable.
func NewWriterLogger(name string, w io.Writer, level Level) Logger {
	return newLogger(name, level, true, NewWriterAppender(w))
}

// NewBlankLogger returns a Debug+ logger without appenders.
func NewBlankLogger(name string) Logger {
	return newLogger(name, DEBUG, true)
}

// NewTestLogger returns a Debug+ logger that writes to the test in local time.
func NewTestLogger(tb testing.TB) Logger {
	logger, _ := NewObservedTestLogger(tb)
	return logger
}

// NewObservedTestLogger is like NewTestLogger but also keeps every entry in memory so tests
// can assert on what was logged.
func NewObservedTestLogger(tb testing.TB) (Logger, *observer.ObservedLogs) {
	core, logs := observer.New(zap.LevelEnablerFunc(zapcore.DebugLevel.Enabled))
	return newLogger("", DEBUG, false, NewTestAppender(tb), core), logs
}
