package logging

import (
	"context"
	"io"
	"sync/atomic"
)

var global atomic.Pointer[Logger]

func init() {
	l := New(nil, nil)
	global.Store(&l)
}

// SetGlobal replaces the process-wide default logger
func SetGlobal(logger Logger) {
	if logger == nil {
		logger = Nop()
	}
	global.Store(&logger)
}

// Global returns the process-wide default logger
func Global() Logger {
	return *global.Load()
}

// Configure builds a logger from configuration values and installs it as the
// global logger.
func Configure(output io.Writer, level, format string) (Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	formatter, err := NewFormatter(format)
	if err != nil {
		return nil, err
	}
	logger := New(output, formatter)
	logger.SetLevel(lvl)
	SetGlobal(logger)
	return logger, nil
}

type nopLogger struct{}

// Nop returns a logger that discards everything
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...Field) {}
func (nopLogger) Info(string, ...Field) {}
func (nopLogger) Warn(string, ...Field) {}
func (nopLogger) Error(string, ...Field) {}
func (nopLogger) Fatal(string, ...Field) {}
func (n nopLogger) WithFields(...Field) Logger { return n }
func (n nopLogger) WithContext(context.Context) Logger { return n }
func (n nopLogger) WithError(error) Logger { return n }
func (nopLogger) SetLevel(Level) {}
func (nopLogger) GetLevel() Level { return FatalLevel }
