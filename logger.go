package go_xmppgate

import (
	"fmt"
	"sync/atomic"
)

// LoggerCallbacks provides callback functions for logging events
type LoggerCallbacks struct {
	Opaque interface{}
	OnLog  func(l *Logger, level int, message string)
}

// Logger routes client-scoped log lines either to a LoggerCallbacks sink or,
// when none is set, to the package logger.
type Logger struct {
	callbacks *LoggerCallbacks
	logLevel  atomic.Int32
}

// NewLogger creates a Logger at the given level. callbacks may be nil.
func NewLogger(callbacks *LoggerCallbacks, level int) *Logger {
	l := &Logger{callbacks: callbacks}
	l.setLogLevel(level)
	return l
}

func (l *Logger) log(level int, format string, args ...interface{}) {
	if level < l.Level() {
		return
	}
	message := format
	if len(args) != 0 {
		message = fmt.Sprintf(format, args...)
	}
	if l.callbacks != nil && l.callbacks.OnLog != nil {
		l.callbacks.OnLog(l, level, message)
		return
	}
	switch level {
	case DEBUG:
		Debug("%s", message)
	case INFO:
		Info("%s", message)
	case WARNING:
		Warning("%s", message)
	default:
		Error("%s", message)
	}
}

func (l *Logger) setLogLevel(level int) {
	switch level {
	case DEBUG, INFO, WARNING, ERROR, FATAL:
	default:
		level = ERROR
	}
	l.logLevel.Store(int32(level))
}

// Level returns the minimum level the logger forwards.
func (l *Logger) Level() int {
	return int(l.logLevel.Load())
}
