package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Level is the minimum severity a Logger emits.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

// String returns the upper-case label written into each entry.
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
	default:
		return fmt.Sprintf("LEVEL(%d)", int(l))
	}
}

// ParseLevel converts a config value ("debug", "info", "warn", "error") to a Level.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
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

// Config controls where log entries go.
type Config struct {
	Level Level

	// File is the log file path. Empty means stderr.
	File string

	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// output is the writer shared by a root logger and all of its component loggers.
type output struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
	once   sync.Once
}

// Logger writes leveled, component-tagged entries:
//
//	[2006-01-02 15:04:05.000] [pool] [INFO] created session 7f1c...
//
// Component loggers created with Component share the parent's writer and level.
type Logger struct {
	runID     string
	component string
	level     Level
	out       *output
	logPath   string
}

// Setup builds the root logger from cfg. When cfg.File is set the file is
// rotated by lumberjack; otherwise entries go to stderr. stdout is never used
// so the stdio protocol stream stays clean.
func Setup(cfg Config) (*Logger, error) {
	out := &output{w: os.Stderr}
	logPath := ""

	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0750); err != nil {
			fallback := New("browserd", os.Stderr, cfg.Level)
			fallback.Warnf("failed to create log directory, logging to stderr: %v", err)
			return fallback, fmt.Errorf("failed to create log directory: %w", err)
		}
		lj := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
			LocalTime:  true,
		}
		out = &output{w: lj, closer: lj}
		logPath = cfg.File
	}

	return &Logger{
		runID:     uuid.New().String(),
		component: "browserd",
		level:     cfg.Level,
		out:       out,
		logPath:   logPath,
	}, nil
}

// New returns a logger writing to w. It is used by tests and by callers that
// manage their own output.
func New(component string, w io.Writer, level Level) *Logger {
	return &Logger{
		runID:     uuid.New().String(),
		component: component,
		level:     level,
		out:       &output{w: w},
	}
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return New("nop", io.Discard, LevelError+1)
}

// Component returns a logger tagged with name that shares this logger's output.
func (l *Logger) Component(name string) *Logger {
	return &Logger{
		runID:     l.runID,
		component: name,
		level:     l.level,
		out:       l.out,
		logPath:   l.logPath,
	}
}

// formatLogEntry creates a structured log entry with timestamp, component, and level
func (l *Logger) formatLogEntry(level Level, message string) string {
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	return fmt.Sprintf("[%s] [%s] [%s] %s\n", timestamp, l.component, level, message)
}

func (l *Logger) logf(level Level, format string, v ...interface{}) {
	if l == nil || level < l.level {
		return
	}
	entry := l.formatLogEntry(level, fmt.Sprintf(format, v...))

	l.out.mu.Lock()
	defer l.out.mu.Unlock()
	_, _ = io.WriteString(l.out.w, entry)
}

// Debugf logs a debug-level message
func (l *Logger) Debugf(format string, v ...interface{}) { l.logf(LevelDebug, format, v...) }

// Infof logs an info-level message
func (l *Logger) Infof(format string, v ...interface{}) { l.logf(LevelInfo, format, v...) }

// Warnf logs a warning-level message
func (l *Logger) Warnf(format string, v ...interface{}) { l.logf(LevelWarn, format, v...) }

// Errorf logs an error-level message
func (l *Logger) Errorf(format string, v ...interface{}) { l.logf(LevelError, format, v...) }

// Writer returns an io.Writer that writes to this logger's output unformatted.
func (l *Logger) Writer() io.Writer {
	return writerFunc(func(p []byte) (int, error) {
		l.out.mu.Lock()
		defer l.out.mu.Unlock()
		return l.out.w.Write(p)
	})
}

// RunID returns the id generated for this process run.
func (l *Logger) RunID() string {
	return l.runID
}

// LogPath returns the path to the log file, or "" when logging to a stream.
func (l *Logger) LogPath() string {
	return l.logPath
}

// Close closes the log file. Safe to call multiple times.
func (l *Logger) Close() error {
	var err error
	l.out.once.Do(func() {
		if l.out.closer != nil {
			err = l.out.closer.Close()
		}
	})
	return err
}

type writerFunc func(p []byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }
