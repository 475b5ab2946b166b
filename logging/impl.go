package logging

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// impl fans every entry it accepts out to its appenders. A sublogger starts with a copy of its
// parent's appenders and carries its own level.
type impl struct {
	name  string
	level AtomicLevel
	inUTC bool

	mu        sync.RWMutex
	appenders []Appender
}

func newImpl(name string, level Level, inUTC bool, appenders ...Appender) *impl {
	owned := make([]Appender, len(appenders))
	copy(owned, appenders)
	return &impl{name: name, level: NewAtomicLevelAt(level), inUTC: inUTC, appenders: owned}
}

// AddAppender may be called while other goroutines are logging.
func (imp *impl) AddAppender(appender Appender) {
	imp.mu.Lock()
	defer imp.mu.Unlock()
	imp.appenders = append(imp.appenders, appender)
}

func (imp *impl) currentAppenders() []Appender {
	imp.mu.RLock()
	defer imp.mu.RUnlock()
	return imp.appenders[:len(imp.appenders):len(imp.appenders)]
}

func (imp *impl) SetLevel(level Level) {
	imp.level.Set(level)
}

func (imp *impl) GetLevel() Level {
	return imp.level.Get()
}

func (imp *impl) Level() zapcore.Level {
	return imp.GetLevel().AsZap()
}

func (imp *impl) Sublogger(subname string) Logger {
	name := subname
	if imp.name != "" {
		name = imp.name + "." + subname
	}
	return newImpl(name, imp.level.Get(), imp.inUTC, imp.currentAppenders()...)
}

func (imp *impl) Sync() error {
	var err error
	for _, appender := range imp.currentAppenders() {
		err = multierr.Append(err, appender.Sync())
	}
	return err
}

// AsZap builds a zap logger that writes to stdout and to every appender that is itself a zap
// core, such as the test observer. It follows GlobalLogLevel rather than this logger's level.
func (imp *impl) AsZap() *zap.SugaredLogger {
	config := NewZapLoggerConfig()
	config.Level = GlobalLogLevel
	logger := zap.Must(config.Build()).Sugar().Named(imp.name)
	for _, appender := range imp.currentAppenders() {
		core, ok := appender.(zapcore.Core)
		if !ok {
			continue
		}
		logger = logger.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
			return zapcore.NewTee(c, core)
		}))
	}
	return logger
}

func (imp *impl) Desugar() *zap.Logger {
	return imp.AsZap().Desugar()
}

func (imp *impl) Named(name string) *zap.SugaredLogger {
	return imp.AsZap().Named(name)
}

func (imp *impl) With(args ...interface{}) *zap.SugaredLogger {
	return imp.AsZap().With(args...)
}

func (imp *impl) WithOptions(opts ...zap.Option) *zap.SugaredLogger {
	return imp.AsZap().WithOptions(opts...)
}

// enabled reports whether an entry at level passes. A global debug level lets everything through.
func (imp *impl) enabled(level Level) bool {
	return GlobalLogLevel.Level() == zapcore.DebugLevel || level >= imp.level.Get()
}

// emit writes one entry. It must be reached through exactly two frames from the caller being
// logged, so the recorded caller is the user's call site.
func (imp *impl) emit(level Level, msg string, fields []zapcore.Field) {
	entry := zapcore.Entry{
		Level:      level.AsZap(),
		Time:       time.Now(),
		LoggerName: imp.name,
		Message:    msg,
		Caller:     callerAt(3),
	}
	if imp.inUTC {
		entry.Time = entry.Time.UTC()
	}
	for _, appender := range imp.currentAppenders() {
		if err := appender.Write(entry, fields); err != nil {
			fmt.Fprintln(os.Stderr, err)
		}
	}
}

func (imp *impl) print(level Level, args []interface{}) {
	if imp.enabled(level) {
		imp.emit(level, fmt.Sprint(args...), nil)
	}
}

func (imp *impl) printf(level Level, template string, args []interface{}) {
	if imp.enabled(level) {
		imp.emit(level, fmt.Sprintf(template, args...), nil)
	}
}

func (imp *impl) printw(level Level, msg string, keysAndValues []interface{}) {
	if imp.enabled(level) {
		imp.emit(level, msg, pairFields(keysAndValues))
	}
}

// pairFields turns alternating keys and values into zap fields, keeping their order. A trailing
// key without a value is kept with an error in its place.
func pairFields(keysAndValues []interface{}) []zapcore.Field {
	fields := make([]zapcore.Field, 0, (len(keysAndValues)+1)/2)
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprint(keysAndValues[i])
		if i+1 == len(keysAndValues) {
			fields = append(fields, zap.Any(key, errors.New("unpaired log key")))
			break
		}
		fields = append(fields, zap.Any(key, keysAndValues[i+1]))
	}
	return fields
}

func (imp *impl) Debug(args ...interface{})                  { imp.print(DEBUG, args) }
func (imp *impl) Debugf(template string, args ...interface{}) { imp.printf(DEBUG, template, args) }
func (imp *impl) Debugw(msg string, kvs ...interface{})       { imp.printw(DEBUG, msg, kvs) }
func (imp *impl) Info(args ...interface{})                   { imp.print(INFO, args) }
func (imp *impl) Infof(template string, args ...interface{})  { imp.printf(INFO, template, args) }
func (imp *impl) Infow(msg string, kvs ...interface{})        { imp.printw(INFO, msg, kvs) }
func (imp *impl) Warn(args ...interface{})                   { imp.print(WARN, args) }
func (imp *impl) Warnf(template string, args ...interface{})  { imp.printf(WARN, template, args) }
func (imp *impl) Warnw(msg string, kvs ...interface{})        { imp.printw(WARN, msg, kvs) }
func (imp *impl) Error(args ...interface{})                  { imp.print(ERROR, args) }
func (imp *impl) Errorf(template string, args ...interface{}) { imp.printf(ERROR, template, args) }
func (imp *impl) Errorw(msg string, kvs ...interface{})       { imp.printw(ERROR, msg, kvs) }

// Fatal logs at error level and exits the process.
func (imp *impl) Fatal(args ...interface{}) { imp.fatal(fmt.Sprint(args...), nil) }

// Fatalf logs at error level and exits the process.
func (imp *impl) Fatalf(template string, args ...interface{}) {
	imp.fatal(fmt.Sprintf(template, args...), nil)
}

// Fatalw logs at error level and exits the process.
func (imp *impl) Fatalw(msg string, keysAndValues ...interface{}) {
	imp.fatal(msg, pairFields(keysAndValues))
}

func (imp *impl) fatal(msg string, fields []zapcore.Field) {
	imp.emit(ERROR, msg, fields)
	os.Exit(1)
}

// callerAt resolves the caller skip frames above callerAt itself.
func callerAt(skip int) zapcore.EntryCaller {
	pc, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return zapcore.EntryCaller{}
	}
	caller := zapcore.EntryCaller{Defined: true, PC: pc, File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		caller.Function = fn.Name()
	}
	return caller
}
