package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap/zapcore"
)

// Appender is an output for log entries. This is a subset of the `zapcore.Core` interface, so
// zap cores (for example the test observer) can be added directly.
type Appender interface {
	// Write submits a structured log entry to the appender for logging.
	Write(zapcore.Entry, []zapcore.Field) error
	// Sync is for signaling that any buffered logs to `Write` should be flushed.
	Sync() error
}

// ConsoleAppender will create human readable lines from log events and write them to the desired
// output sink.
type ConsoleAppender struct {
	mu      *sync.Mutex
	out     io.Writer
	encoder zapcore.Encoder
}

// NewStdoutAppender creates a new appender that outputs to stdout with colored levels.
func NewStdoutAppender() ConsoleAppender {
	return newConsoleAppender(os.Stdout, zapcore.CapitalColorLevelEncoder)
}

// NewWriterAppender creates a new appender that outputs to the input writer without colors.
func NewWriterAppender(writer io.Writer) ConsoleAppender {
	return newConsoleAppender(writer, zapcore.CapitalLevelEncoder)
}

func newConsoleAppender(writer io.Writer, levelEncoder zapcore.LevelEncoder) ConsoleAppender {
	cfg := encoderConfig()
	cfg.EncodeLevel = levelEncoder
	return ConsoleAppender{
		mu:      &sync.Mutex{},
		out:     writer,
		encoder: zapcore.NewConsoleEncoder(cfg),
	}
}

// Write outputs the log entry to the underlying stream.
func (appender ConsoleAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	buf, err := appender.encoder.EncodeEntry(entry, fields)
	if err != nil {
		return err
	}
	defer buf.Free()

	appender.mu.Lock()
	defer appender.mu.Unlock()
	_, err = appender.out.Write(buf.Bytes())
	return err
}

// Sync is a no-op.
func (appender ConsoleAppender) Sync() error {
	return nil
}
