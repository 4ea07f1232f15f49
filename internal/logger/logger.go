package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Level represents a logging level
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	// LevelNone disables all logging
	LevelNone
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	case LevelNone:
		return "NONE"
	default:
		return "UNKNOWN"
	}
}

// ParseLevel parses a level name case-insensitively. Unknown names map to info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "info":
		return LevelInfo
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "none", "off":
		return LevelNone
	default:
		return LevelInfo
	}
}

// Options configure a Logger.
type Options struct {
	Level Level
	// Dir receives one file per day named <Name>-YYYY-MM-DD.log. Empty disables file output.
	Dir  string
	Name string
	// Console mirrors every line to Stderr.
	Console bool
	Stderr  io.Writer
}

// Logger is a levelled line logger shared between prefixed views.
type Logger struct {
	sink   *sink
	prefix string
}

type sink struct {
	mu     sync.RWMutex
	level  Level
	out    *log.Logger
	file   *os.File
	closed bool
}

var (
	globalMu     sync.RWMutex
	globalLogger *Logger
)

// Init builds the process-wide logger. Calling it again replaces the previous one.
func Init(opts Options) error {
	l, err := New(opts)
	if err != nil {
		return err
	}
	globalMu.Lock()
	prev := globalLogger
	globalLogger = l
	globalMu.Unlock()
	if prev != nil {
		_ = prev.Close()
	}
	return nil
}

// New creates a Logger from opts.
func New(opts Options) (*Logger, error) {
	s := &sink{level: opts.Level}

	var writers []io.Writer
	if opts.Level != LevelNone && opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		f, err := os.OpenFile(FilePath(opts.Dir, opts.Name, time.Now()), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		s.file = f
		writers = append(writers, f)
	}
	if opts.Console {
		w := opts.Stderr
		if w == nil {
			w = os.Stderr
		}
		writers = append(writers, w)
	}

	switch len(writers) {
	case 0:
		s.out = log.New(io.Discard, "", 0)
		s.level = LevelNone
	case 1:
		s.out = log.New(writers[0], "", 0)
	default:
		s.out = log.New(io.MultiWriter(writers...), "", 0)
	}

	return &Logger{sink: s}, nil
}

// FilePath returns the daily log file path for name inside dir.
func FilePath(dir, name string, day time.Time) string {
	if name == "" {
		name = "mastodon-core"
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s.log", name, day.Format("2006-01-02")))
}

// Global returns the process-wide logger, a discarding one if Init was never called.
func Global() *Logger {
	globalMu.RLock()
	l := globalLogger
	globalMu.RUnlock()
	if l != nil {
		return l
	}

	globalMu.Lock()
	defer globalMu.Unlock()
	if globalLogger == nil {
		globalLogger = &Logger{sink: &sink{level: LevelNone, out: log.New(io.Discard, "", 0)}}
	}
	return globalLogger
}

// WithPrefix returns a view of l that tags lines with prefix. Views share level and output.
func (l *Logger) WithPrefix(prefix string) *Logger {
	p := prefix
	if l.prefix != "" {
		p = l.prefix + ":" + prefix
	}
	return &Logger{sink: l.sink, prefix: p}
}

func (l *Logger) SetLevel(level Level) {
	l.sink.mu.Lock()
	defer l.sink.mu.Unlock()
	l.sink.level = level
}

func (l *Logger) GetLevel() Level {
	l.sink.mu.RLock()
	defer l.sink.mu.RUnlock()
	return l.sink.level
}

func (l *Logger) log(level Level, format string, args ...interface{}) {
	s := l.sink
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed || level < s.level || s.level == LevelNone {
		return
	}

	prefix := ""
	if l.prefix != "" {
		prefix = "[" + l.prefix + "] "
	}
	s.out.Printf("%s [%s] %s%s", time.Now().Format("2006-01-02 15:04:05.000"), level, prefix, fmt.Sprintf(format, args...))
}

func (l *Logger) Debug(format string, args ...interface{}) { l.log(LevelDebug, format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.log(LevelInfo, format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.log(LevelWarn, format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.log(LevelError, format, args...) }

// Close closes the log file, if any. Further log calls are dropped.
func (l *Logger) Close() error {
	s := l.sink
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

func Debug(format string, args ...interface{}) { Global().Debug(format, args...) }
func Info(format string, args ...interface{})  { Global().Info(format, args...) }
func Warn(format string, args ...interface{})  { Global().Warn(format, args...) }
func Error(format string, args ...interface{}) { Global().Error(format, args...) }

// SetLevel changes the global logger's level.
func SetLevel(level Level) { Global().SetLevel(level) }

// Close closes the global logger.
func Close() error { return Global().Close() }
