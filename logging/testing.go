package logging

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"go.uber.org/zap/zapcore"
)

// testTimeFormat keeps milliseconds so interleaved goroutines can be told apart.
const testTimeFormat = "15:04:05.000"

type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender that logs through tb, so every line is attributed to the
// test that produced it.
func NewTestAppender(tb testing.TB) Appender {
	return &testAppender{tb}
}

// Write logs one tab separated line: time, level, logger, caller, message and sorted
// key=value fields.
func (tapp *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	parts := []string{entry.Time.Format(testTimeFormat), strings.ToUpper(entry.Level.String())}
	if entry.LoggerName != "" {
		parts = append(parts, entry.LoggerName)
	}
	if entry.Caller.Defined {
		dir, file := filepath.Split(entry.Caller.File)
		parts = append(parts, fmt.Sprintf("%s/%s:%d", filepath.Base(dir), file, entry.Caller.Line))
	}
	parts = append(parts, entry.Message)

	if len(fields) > 0 {
		enc := zapcore.NewMapObjectEncoder()
		for _, f := range fields {
			f.AddTo(enc)
		}
		keys := make([]string, 0, len(enc.Fields))
		for k := range enc.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		kvs := make([]string, 0, len(keys))
		for _, k := range keys {
			kvs = append(kvs, fmt.Sprintf("%s=%v", k, enc.Fields[k]))
		}
		parts = append(parts, strings.Join(kvs, " "))
	}
	tapp.tb.Log(strings.Join(parts, "\t"))
	return nil
}

// Sync is a no-op.
func (tapp *testAppender) Sync() error {
	return nil
}
