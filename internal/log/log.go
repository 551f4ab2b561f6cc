// Package log wraps logrus behind a small Logger interface, rotated via
// lumberjack, mirroring the teacher's internal/log package.
package log

import (
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the subset of logrus's entry API used across the codebase. It
// exists so call sites depend on an interface rather than *logrus.Logger
// directly, the way the teacher's internal/log package does.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})

	WithField(key string, value interface{}) Logger
	WithFields(fields map[string]interface{}) Logger
	WithError(err error) Logger
}

// Config controls log destination and rotation.
type Config struct {
	Level      string // debug|info|warn|error
	File       string // empty = stderr only
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type logrusLogger struct {
	entry *logrus.Entry
}

func (l *logrusLogger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *logrusLogger) Debugf(f string, args ...interface{})      { l.entry.Debugf(f, args...) }
func (l *logrusLogger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *logrusLogger) Infof(f string, args ...interface{})       { l.entry.Infof(f, args...) }
func (l *logrusLogger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *logrusLogger) Warnf(f string, args ...interface{})       { l.entry.Warnf(f, args...) }
func (l *logrusLogger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *logrusLogger) Errorf(f string, args ...interface{})      { l.entry.Errorf(f, args...) }
func (l *logrusLogger) WithField(k string, v interface{}) Logger  { return &logrusLogger{l.entry.WithField(k, v)} }
func (l *logrusLogger) WithFields(f map[string]interface{}) Logger {
	return &logrusLogger{l.entry.WithFields(f)}
}
func (l *logrusLogger) WithError(err error) Logger { return &logrusLogger{l.entry.WithError(err)} }

var (
	once    sync.Once
	current Logger
)

// Init configures the process-wide logger. Safe to call once at startup;
// subsequent calls are ignored (matches the teacher's sync.Once pattern).
func Init(cfg Config) {
	once.Do(func() {
		base := logrus.New()

		level, err := logrus.ParseLevel(cfg.Level)
		if err != nil {
			level = logrus.InfoLevel
		}
		base.SetLevel(level)
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

		var out io.Writer = os.Stderr
		if cfg.File != "" {
			out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
				Filename:   cfg.File,
				MaxSize:    nonZero(cfg.MaxSizeMB, 100),
				MaxBackups: nonZero(cfg.MaxBackups, 5),
				MaxAge:     nonZero(cfg.MaxAgeDays, 28),
				Compress:   true,
			})
		}
		base.SetOutput(out)

		current = &logrusLogger{entry: logrus.NewEntry(base)}
	})
}

func nonZero(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

// Get returns the process-wide Logger, initializing a sane default (stderr,
// info level) if Init was never called — convenient for tests.
func Get() Logger {
	if current == nil {
		Init(Config{Level: "info"})
	}
	return current
}
