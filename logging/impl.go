package logging

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the leveled logger handed to every component.
type Logger interface {
	Debug(args ...interface{})
	Debugf(template string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})
	Info(args ...interface{})
	Infof(template string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})
	Warn(args ...interface{})
	Warnf(template string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Error(args ...interface{})
	Errorf(template string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Sublogger returns a logger named "<name>.<subname>" sharing this logger's appenders.
	Sublogger(subname string) Logger
	SetLevel(level Level)
	GetLevel() Level
	AddAppender(appender Appender)
	// AsZap returns a zap logger writing to the same appenders, for libraries that want one.
	AsZap() *zap.SugaredLogger
	Sync() error
}

type impl struct {
	name  string
	level AtomicLevel
	inUTC bool

	appenders []Appender
}

func (imp *impl) AddAppender(appender Appender) {
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Sublogger(subname string) Logger {
	newName := subname
	if imp.name != "" {
		newName = fmt.Sprintf("%s.%s", imp.name, subname)
	}

	return &impl{
		name:      newName,
		level:     NewAtomicLevelAt(imp.level.Get()),
		inUTC:     imp.inUTC,
		appenders: imp.appenders,
	}
}

func (imp *impl) Sync() error {
	var errs []error
	for _, appender := range imp.appenders {
		if err := appender.Sync(); err != nil {
			errs = append(errs, err)
		}
	}

	return multierr.Combine(errs...)
}

func (imp *impl) AsZap() *zap.SugaredLogger {
	return zap.New(&appenderCore{imp: imp}).Sugar().Named(imp.name)
}

func (imp *impl) shouldLog(logLevel Level) bool {
	return logLevel >= imp.level.Get()
}

func (imp *impl) newEntry(logLevel Level, msg string) zapcore.Entry {
	entry := zapcore.Entry{
		Level:      logLevel.AsZap(),
		Time:       time.Now(),
		LoggerName: imp.name,
		Message:    msg,
		Caller:     getCaller(),
	}
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}
	return entry
}

func (imp *impl) log(entry zapcore.Entry, fields []zapcore.Field) {
	for _, appender := range imp.appenders {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprint(os.Stderr, err)
		}
	}
}

// Turns `keysAndValues` into fields where the odd elements are the keys and their following even
// counterpart is the value.
func toFields(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, len(keysAndValues)/2)
	for keyIdx := 0; keyIdx < len(keysAndValues); keyIdx += 2 {
		keyObj := keysAndValues[keyIdx]
		var keyStr string
		if stringer, ok := keyObj.(fmt.Stringer); ok {
			keyStr = stringer.String()
		} else {
			keyStr = fmt.Sprintf("%v", keyObj)
		}

		if keyIdx+1 < len(keysAndValues) {
			fields = append(fields, zap.Any(keyStr, keysAndValues[keyIdx+1]))
		} else {
			// API mis-use. Slip in an error message such that we don't silently discard it.
			fields = append(fields, zap.Any(keyStr, errors.New("unpaired log key")))
		}
	}
	return fields
}

func (imp *impl) logAt(level Level, args ...interface{}) {
	if imp.shouldLog(level) {
		imp.log(imp.newEntry(level, fmt.Sprint(args...)), nil)
	}
}

func (imp *impl) logfAt(level Level, template string, args ...interface{}) {
	if imp.shouldLog(level) {
		imp.log(imp.newEntry(level, fmt.Sprintf(template, args...)), nil)
	}
}

func (imp *impl) logwAt(level Level, msg string, keysAndValues ...interface{}) {
	if imp.shouldLog(level) {
		imp.log(imp.newEntry(level, msg), toFields(keysAndValues))
	}
}

func (imp *impl) Debug(args ...interface{}) { imp.logAt(DEBUG, args...) }

func (imp *impl) Debugf(template string, args ...interface{}) {
	imp.logfAt(DEBUG, template, args...)
}

func (imp *impl) Debugw(msg string, keysAndValues ...interface{}) {
	imp.logwAt(DEBUG, msg, keysAndValues...)
}

func (imp *impl) Info(args ...interface{}) { imp.logAt(INFO, args...) }

func (imp *impl) Infof(template string, args ...interface{}) {
	imp.logfAt(INFO, template, args...)
}

func (imp *impl) Infow(msg string, keysAndValues ...interface{}) {
	imp.logwAt(INFO, msg, keysAndValues...)
}

func (imp *impl) Warn(args ...interface{}) { imp.logAt(WARN, args...) }

func (imp *impl) Warnf(template string, args ...interface{}) {
	imp.logfAt(WARN, template, args...)
}

func (imp *impl) Warnw(msg string, keysAndValues ...interface{}) {
	imp.logwAt(WARN, msg, keysAndValues...)
}

func (imp *impl) Error(args ...interface{}) { imp.logAt(ERROR, args...) }

func (imp *impl) Errorf(template string, args ...interface{}) {
	imp.logfAt(ERROR, template, args...)
}

func (imp *impl) Errorw(msg string, keysAndValues ...interface{}) {
	imp.logwAt(ERROR, msg, keysAndValues...)
}

// Return example: "stream/controller.go:36".
func getCaller() zapcore.EntryCaller {
	var ok bool
	var entryCaller zapcore.EntryCaller
	const skipToLogCaller = 4
	entryCaller.PC, entryCaller.File, entryCaller.Line, ok = runtime.Caller(skipToLogCaller)
	if !ok {
		return entryCaller
	}
	entryCaller.Defined = true

	runtimeFunc := runtime.FuncForPC(entryCaller.PC)
	if runtimeFunc != nil {
		entryCaller.Function = runtimeFunc.Name()
	}

	return entryCaller
}

// appenderCore lets a zap logger built by AsZap write through our appenders and level.
type appenderCore struct {
	imp    *impl
	fields []zapcore.Field
}

func (c *appenderCore) Enabled(level zapcore.Level) bool {
	return level >= c.imp.level.Get().AsZap()
}

func (c *appenderCore) With(fields []zapcore.Field) zapcore.Core {
	combined := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	combined = append(combined, c.fields...)
	combined = append(combined, fields...)
	return &appenderCore{imp: c.imp, fields: combined}
}

func (c *appenderCore) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(entry.Level) {
		return checked.AddCore(entry, c)
	}
	return checked
}

func (c *appenderCore) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	if c.imp.inUTC {
		entry.Time = entry.Time.UTC()
	}
	all := make([]zapcore.Field, 0, len(c.fields)+len(fields))
	all = append(all, c.fields...)
	all = append(all, fields...)
	var errs error
	for _, appender := range c.imp.appenders {
		errs = multierr.Combine(errs, appender.Write(entry, all))
	}
	return errs
}

func (c *appenderCore) Sync() error {
	return c.imp.Sync()
}
