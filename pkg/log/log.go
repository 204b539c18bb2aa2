package log

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"runtime/debug"
	"sync/atomic"
	"time"
)

type LogLevel string

const (
	FatalLevel    = "fatal"
	ErrorLevel    = "error"
	WarningLevel  = "warn"
	DebugLevel    = "debug"
	InfoLevel     = "info"
	TraceLevel    = "trace"
	DisabledLevel = "disabled"
)

var levelmap = map[LogLevel]int{
	TraceLevel:    5,
	DebugLevel:    4,
	InfoLevel:     3,
	WarningLevel:  2,
	ErrorLevel:    1,
	FatalLevel:    0,
	DisabledLevel: -1,
}

// Output sink for a set of levels. The enabled level is shared
// between all sinks and may be changed concurrently with logging.
type sink struct {
	log *log.Logger
}

var (
	enabled atomic.Value

	stdoutSink = sink{log.New(os.Stdout, "", 0)}
	stderrSink = sink{log.New(os.Stderr, "", 0)}
)

func init() {
	enabled.Store(LogLevel(InfoLevel))
}

func (s sink) println(level LogLevel, prefix string, args ...any) {
	if !ShouldLog(level, Level()) {
		return
	}
	ts := time.Now().Local()
	timeStr := fmt.Sprintf("%s.%03d", ts.Format("2006-01-02 15:04:05"), ts.Nanosecond()/1000000)
	levelStr := fmt.Sprintf("- %5s -", level)
	allArgs := []any{timeStr, levelStr}
	if prefix != "" {
		allArgs = append(allArgs, "["+prefix+"]")
	}
	allArgs = append(allArgs, args...)
	s.log.Println(allArgs...)
}

func (s sink) printf(level LogLevel, prefix, format string, args ...any) {
	if !ShouldLog(level, Level()) {
		return
	}
	s.println(level, prefix, fmt.Sprintf(format, args...))
}

func sinkFor(level LogLevel) sink {
	switch level {
	case TraceLevel, DebugLevel, InfoLevel:
		return stdoutSink
	default:
		return stderrSink
	}
}

// Redirect all output to w. Used by tests and by commands
// that capture log output.
func SetOutput(w io.Writer) {
	stdoutSink.log.SetOutput(w)
	stderrSink.log.SetOutput(w)
}

func SetLevel(loglevel LogLevel) error {
	if !ValidLogLevel(loglevel) {
		return fmt.Errorf("No such log level %s", loglevel)
	}
	enabled.Store(loglevel)
	return nil
}

// Returns the currently enabled log level.
func Level() LogLevel {
	return enabled.Load().(LogLevel)
}

func ValidLogLevel(level LogLevel) bool {
	_, ok := levelmap[level]
	return ok
}

func ShouldLog(logLevel, enabled LogLevel) bool {
	if !ValidLogLevel(logLevel) || !ValidLogLevel(enabled) {
		return false
	}
	return levelmap[logLevel] <= levelmap[enabled]
}

// A logger which tags every line with a fixed prefix,
// e.g. the worker slot or the kernel a message belongs to.
type Logger struct {
	prefix string
}

func WithPrefix(format string, args ...any) *Logger {
	return &Logger{prefix: fmt.Sprintf(format, args...)}
}

func (l *Logger) Prefix() string {
	return l.prefix
}

func (l *Logger) Log(level LogLevel, msg string, args ...any) {
	if !ValidLogLevel(level) || level == DisabledLevel {
		return
	}
	if len(args) > 0 {
		sinkFor(level).printf(level, l.prefix, msg, args...)
	} else {
		sinkFor(level).println(level, l.prefix, msg)
	}
	if level == FatalLevel {
		debug.PrintStack()
		os.Exit(1)
	}
}

func (l *Logger) Trace(args ...any) { stdoutSink.println(TraceLevel, l.prefix, args...) }
func (l *Logger) Debug(args ...any) { stdoutSink.println(DebugLevel, l.prefix, args...) }
func (l *Logger) Info(args ...any)  { stdoutSink.println(InfoLevel, l.prefix, args...) }
func (l *Logger) Warn(args ...any)  { stderrSink.println(WarningLevel, l.prefix, args...) }
func (l *Logger) Error(args ...any) { stderrSink.println(ErrorLevel, l.prefix, args...) }

func (l *Logger) Tracef(format string, args ...any) {
	stdoutSink.printf(TraceLevel, l.prefix, format, args...)
}

func (l *Logger) Debugf(format string, args ...any) {
	stdoutSink.printf(DebugLevel, l.prefix, format, args...)
}

func (l *Logger) Infof(format string, args ...any) {
	stdoutSink.printf(InfoLevel, l.prefix, format, args...)
}

func (l *Logger) Warnf(format string, args ...any) {
	stderrSink.printf(WarningLevel, l.prefix, format, args...)
}

func (l *Logger) Errorf(format string, args ...any) {
	stderrSink.printf(ErrorLevel, l.prefix, format, args...)
}

var root = &Logger{}

func Log(level LogLevel, msg string, args ...interface{}) {
	root.Log(level, msg, args...)
}

func Trace(args ...interface{}) { root.Trace(args...) }
func Debug(args ...interface{}) { root.Debug(args...) }
func Info(args ...interface{})  { root.Info(args...) }
func Warn(args ...interface{})  { root.Warn(args...) }
func Error(args ...interface{}) { root.Error(args...) }

func Fatal(args ...interface{}) {
	stderrSink.println(FatalLevel, "", args...)
	debug.PrintStack()
	os.Exit(1)
}

func Tracef(format string, args ...interface{}) { root.Tracef(format, args...) }
func Debugf(format string, args ...interface{}) { root.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { root.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { root.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { root.Errorf(format, args...) }

func Fatalf(format string, args ...interface{}) {
	stderrSink.printf(FatalLevel, "", format, args...)
	debug.PrintStack()
	os.Exit(1)
}

type writeFunc func([]byte) (int, error)

func (fn writeFunc) Write(data []byte) (int, error) {
	return fn(data)
}

// Returns a writer logging every write at the given level.
// Useful to hand to libraries that expect an io.Writer, such as echo.
func NewLogWriter(level LogLevel) io.Writer {
	return writeFunc(func(data []byte) (int, error) {
		Log(level, "%s", data)
		return len(data), nil
	})
}

func DebugError(err error) {
	indent := 1

	Debug(err.Error())

	for {
		if err = errors.Unwrap(err); err == nil {
			break
		}

		Debugf("| %d: %s", indent, err.Error())
		indent += 1
	}
}
