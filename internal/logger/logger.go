// Package logger is the levelled logging facade shared by the agent packages.
// It writes through the standard library log package, or through the service
// manager's logger when the agent runs as an OS service.
package logger

import (
	"fmt"
	"io"
	"log"
	"strings"
	"sync/atomic"

	"github.com/kardianos/service"
)

// Level orders log severities from most to least verbose.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

// ParseLevel maps a config value such as "debug" or "warn" to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarning:
		return "warning"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int32(l))
	}
}

// Logger is implemented by every sink the agent can log to.
type Logger interface {
	Debugf(format string, v ...interface{})
	Infof(format string, v ...interface{})
	Warningf(format string, v ...interface{})
	Errorf(format string, v ...interface{})
}

// level is process wide so a config reload can change verbosity of loggers
// that were handed out before the reload.
var level int32 = int32(LevelInfo)

// SetLevel changes the minimum severity written by all loggers.
func SetLevel(l Level) {
	atomic.StoreInt32(&level, int32(l))
}

// CurrentLevel returns the minimum severity currently written.
func CurrentLevel() Level {
	return Level(atomic.LoadInt32(&level))
}

func enabled(l Level) bool {
	return l >= CurrentLevel()
}

type stdLogger struct {
	prefix string
	out    *log.Logger
}

// New returns a Logger that prefixes every line with "[component]".
func New(component string) Logger {
	return &stdLogger{prefix: "[" + component + "] ", out: log.Default()}
}

// NewWithWriter is New writing to w instead of the default log output.
func NewWithWriter(component string, w io.Writer) Logger {
	return &stdLogger{prefix: "[" + component + "] ", out: log.New(w, "", log.LstdFlags)}
}

func (l *stdLogger) logf(lvl Level, tag, format string, v ...interface{}) {
	if !enabled(lvl) {
		return
	}
	l.out.Printf(tag+l.prefix+format, v...)
}

func (l *stdLogger) Debugf(format string, v ...interface{}) {
	l.logf(LevelDebug, "DEBUG ", format, v...)
}

func (l *stdLogger) Infof(format string, v ...interface{}) {
	l.logf(LevelInfo, "INFO ", format, v...)
}

func (l *stdLogger) Warningf(format string, v ...interface{}) {
	l.logf(LevelWarning, "WARN ", format, v...)
}

func (l *stdLogger) Errorf(format string, v ...interface{}) {
	l.logf(LevelError, "ERROR ", format, v...)
}

type serviceLogger struct {
	prefix string
	out    service.Logger
}

// FromService adapts the service manager's logger. Debug lines go out as info
// entries since the system log has no debug severity.
func FromService(component string, out service.Logger) Logger {
	return &serviceLogger{prefix: "[" + component + "] ", out: out}
}

func (l *serviceLogger) Debugf(format string, v ...interface{}) {
	if enabled(LevelDebug) {
		_ = l.out.Infof("[DEBUG] "+l.prefix+format, v...)
	}
}

func (l *serviceLogger) Infof(format string, v ...interface{}) {
	if enabled(LevelInfo) {
		_ = l.out.Infof(l.prefix+format, v...)
	}
}

func (l *serviceLogger) Warningf(format string, v ...interface{}) {
	if enabled(LevelWarning) {
		_ = l.out.Warningf(l.prefix+format, v...)
	}
}

func (l *serviceLogger) Errorf(format string, v ...interface{}) {
	if enabled(LevelError) {
		_ = l.out.Errorf(l.prefix+format, v...)
	}
}

type discard struct{}

func (discard) Debugf(string, ...interface{})   {}
func (discard) Infof(string, ...interface{})    {}
func (discard) Warningf(string, ...interface{}) {}
func (discard) Errorf(string, ...interface{})   {}

// Discard returns a Logger that drops everything.
func Discard() Logger {
	return discard{}
}
