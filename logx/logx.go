package logx

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync/atomic"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
)

// Level is the minimum severity a Logger writes.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps a config string to a Level. Empty means info.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// Config describes where log lines go.
type Config struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Logger writes leveled, category-tagged lines. It is safe for concurrent use.
type Logger struct {
	level  Level
	out    *log.Logger
	closer io.Closer
}

// New builds a Logger writing to stderr and, when cfg.File is set, to a rotated log file.
func New(cfg Config) (*Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var (
		w      io.Writer = os.Stderr
		closer io.Closer
	)
	if cfg.File != "" {
		lj := &lumberjack.Logger{
			Filename: cfg.File,
			MaxSize:  cfg.MaxSizeMB, // megabytes
			MaxAge:   cfg.MaxAgeDays,
		}
		w = io.MultiWriter(os.Stderr, lj)
		closer = lj
	}

	l := NewWithOutput(w, level)
	l.closer = closer
	return l, nil
}

// NewWithOutput builds a Logger over an arbitrary writer.
func NewWithOutput(w io.Writer, level Level) *Logger {
	return &Logger{
		level: level,
		out:   log.New(w, "", log.Ldate|log.Ltime|log.Lmicroseconds),
	}
}

// Discard returns a Logger that drops everything. Handy in tests.
func Discard() *Logger {
	return NewWithOutput(io.Discard, LevelError+1)
}

func (l *Logger) Level() Level {
	return l.level
}

func (l *Logger) Enabled(level Level) bool {
	return level >= l.level
}

func (l *Logger) write(level Level, tag, color, category string, content []interface{}) {
	if !l.Enabled(level) {
		return
	}
	message := fmt.Sprintln(content...)
	message = strings.TrimSuffix(message, "\n")
	coloredCategory := fmt.Sprintf("%s[%s][%s]%s", color, tag, category, ColorReset)
	l.out.Printf("%s: %s", coloredCategory, message)
}

func (l *Logger) Info(category string, content ...interface{}) {
	l.write(LevelInfo, "INFO", ColorGreen, category, content)
}

func (l *Logger) Error(category string, content ...interface{}) {
	l.write(LevelError, "ERROR", ColorRed, category, content)
}

func (l *Logger) Warn(category string, content ...interface{}) {
	l.write(LevelWarn, "WARN", ColorYellow, category, content)
}

func (l *Logger) Debug(category string, content ...interface{}) {
	l.write(LevelDebug, "DEBUG", ColorBlue, category, content)
}

// Close flushes and closes the rotated file, if any.
func (l *Logger) Close() error {
	if l.closer == nil {
		return nil
	}
	return l.closer.Close()
}

var defaultLogger atomic.Pointer[Logger]

func init() {
	defaultLogger.Store(NewWithOutput(os.Stderr, LevelInfo))
}

// SetDefault replaces the logger behind the package-level helpers.
func SetDefault(l *Logger) {
	if l != nil {
		defaultLogger.Store(l)
	}
}

// Default returns the logger behind the package-level helpers.
func Default() *Logger {
	return defaultLogger.Load()
}

func Info(category string, content ...interface{}) {
	Default().Info(category, content...)
}

func Error(category string, content ...interface{}) {
	Default().Error(category, content...)
}

func Warn(category string, content ...interface{}) {
	Default().Warn(category, content...)
}

func Debug(category string, content ...interface{}) {
	Default().Debug(category, content...)
}

// Errorf logs an error message and returns a formatted error
func Errorf(format string, args ...interface{}) error {
	err := fmt.Errorf(format, args...)
	Error("ERROR", err.Error())
	return err
}
