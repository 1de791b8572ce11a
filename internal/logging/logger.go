// Package logging provides the shared, prefixed loggers used by all
// issuefs packages.
package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus entry carrying a fixed module prefix.
type Logger struct {
	entry *logrus.Entry
}

var (
	root *logrus.Logger
	once sync.Once
)

func rootLogger() *logrus.Logger {
	once.Do(func() {
		root = logrus.New()
		root.SetOutput(os.Stdout)
		root.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05.000",
		})
		root.SetLevel(logrus.InfoLevel)

		// Set initial log level from environment
		if level := os.Getenv("LOG_LEVEL"); level != "" {
			if parsed, err := logrus.ParseLevel(level); err == nil {
				root.SetLevel(parsed)
			}
		}
		if os.Getenv("FUSE_DEBUG") != "" {
			root.SetLevel(logrus.DebugLevel)
		}
	})
	return root
}

// GetLogger returns the process-wide default logger.
func GetLogger() *Logger {
	return &Logger{entry: logrus.NewEntry(rootLogger())}
}

// SetDebug switches the whole process to debug logging.
func SetDebug() {
	rootLogger().SetLevel(logrus.DebugLevel)
}

// WithPrefix returns a logger tagged with a module prefix.
func (l *Logger) WithPrefix(prefix string) *Logger {
	return &Logger{entry: l.entry.WithField("mod", prefix)}
}

// WithFields returns a logger with extra structured fields attached.
func (l *Logger) WithFields(fields map[string]interface{}) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *Logger) Error(format string, args ...interface{}) {
	l.entry.Errorf(format, args...)
}

func (l *Logger) Warn(format string, args ...interface{}) {
	l.entry.Warnf(format, args...)
}

func (l *Logger) Info(format string, args ...interface{}) {
	l.entry.Infof(format, args...)
}

func (l *Logger) Debug(format string, args ...interface{}) {
	l.entry.Debugf(format, args...)
}

func (l *Logger) Trace(format string, args ...interface{}) {
	l.entry.Tracef(format, args...)
}
