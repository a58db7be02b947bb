package utils

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger provides leveled logging with verbose mode support
type Logger struct {
	entry   *logrus.Logger
	verbose bool
	mu      sync.RWMutex
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the global logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		l := logrus.New()
		l.SetOutput(os.Stderr)
		l.SetLevel(logrus.InfoLevel)
		l.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
		globalLogger = &Logger{entry: l}
	})
	return globalLogger
}

// SetVerbose enables or disables verbose logging
func (l *Logger) SetVerbose(verbose bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.verbose = verbose
	if verbose {
		l.entry.SetLevel(logrus.DebugLevel)
		l.entry.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		l.entry.SetLevel(logrus.InfoLevel)
		l.entry.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}
}

// IsVerbose returns whether verbose logging is enabled
func (l *Logger) IsVerbose() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.verbose
}

// SetOutput redirects log output, e.g. away from a full-screen view
func (l *Logger) SetOutput(w io.Writer) {
	l.entry.SetOutput(w)
}

// WithField returns an entry carrying a structured field
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.entry.WithField(key, value)
}

// WithFields returns an entry carrying structured fields
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.entry.WithFields(fields)
}

// WithError returns an entry carrying the error
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.entry.WithError(err)
}

// Debug logs a debug message (only when verbose is enabled)
func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

// Debugf is a convenience function for debug logging
func Debugf(format string, args ...interface{}) {
	GetLogger().Debug(format, args...)
}

// Infof is a convenience function for info logging
func Infof(format string, args ...interface{}) {
	GetLogger().Info(format, args...)
}

// Warnf is a convenience function for warning logging
func Warnf(format string, args ...interface{}) {
	GetLogger().Warn(format, args...)
}

// Errorf is a convenience function for error logging
func Errorf(format string, args ...interface{}) {
	GetLogger().Error(format, args...)
}

// WithField is a convenience function for structured logging
func WithField(key string, value interface{}) *logrus.Entry {
	return GetLogger().WithField(key, value)
}

// WithError is a convenience function for logging an error with context
func WithError(err error) *logrus.Entry {
	return GetLogger().WithError(err)
}

// SetVerboseMode is a convenience function to set global verbose mode
func SetVerboseMode(verbose bool) {
	GetLogger().SetVerbose(verbose)
}

// LogOperation logs the start and end of an operation
func LogOperation(operation string, fn func() error) error {
	logger := GetLogger()
	logger.Debug("Starting operation: %s", operation)

	err := fn()

	if err != nil {
		logger.Debug("Operation failed: %s - %v", operation, err)
	} else {
		logger.Debug("Operation completed: %s", operation)
	}

	return err
}

// LogOperationf logs the start and end of an operation with formatted message
func LogOperationf(format string, fn func() error, args ...interface{}) error {
	operation := fmt.Sprintf(format, args...)
	return LogOperation(operation, fn)
}
