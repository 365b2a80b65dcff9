package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
)

// Level represents log verbosity levels
// Higher levels include all lower level logs
// ERROR (0) - Only critical errors
// WARN (1) - Warnings and errors
// INFO (2) - Important events (spawns, defeats, settlements) + warn/error
// DEBUG (3) - Everything including high-frequency events (attacks, timer fires)
type Level int

const (
	LevelError Level = iota
	LevelWarn
	LevelInfo
	LevelDebug
)

var levelNames = map[Level]string{
	LevelError: "ERROR",
	LevelWarn:  "WARN",
	LevelInfo:  "INFO",
	LevelDebug: "DEBUG",
}

var levelFromString = map[string]Level{
	"error": LevelError,
	"warn":  LevelWarn,
	"info":  LevelInfo,
	"debug": LevelDebug,
}

type output struct {
	mu     sync.RWMutex
	level  Level
	stdLog *log.Logger
	errLog *log.Logger
}

// Logger writes leveled lines, optionally tagged with a component name.
type Logger struct {
	out  *output
	name string
}

var defaultOutput = &output{
	level:  LevelInfo,
	stdLog: log.New(os.Stdout, "", log.LstdFlags),
	errLog: log.New(os.Stderr, "", log.LstdFlags),
}

var defaultLogger = &Logger{out: defaultOutput}

// Named returns a logger that tags every line with [name].
// All named loggers share the global level.
func Named(name string) *Logger {
	return &Logger{out: defaultOutput, name: name}
}

// SetOutput redirects both streams, mostly useful in tests.
func SetOutput(w io.Writer) {
	defaultOutput.mu.Lock()
	defer defaultOutput.mu.Unlock()
	defaultOutput.stdLog.SetOutput(w)
	defaultOutput.errLog.SetOutput(w)
}

// SetLevel sets the global log level
func SetLevel(level Level) {
	defaultOutput.mu.Lock()
	defer defaultOutput.mu.Unlock()
	defaultOutput.level = level
}

// SetLevelFromString sets log level from a string (error, warn, info, debug)
func SetLevelFromString(levelStr string) error {
	level, ok := levelFromString[strings.ToLower(levelStr)]
	if !ok {
		return fmt.Errorf("invalid log level: %s (valid: error, warn, info, debug)", levelStr)
	}
	SetLevel(level)
	return nil
}

// GetLevel returns the current log level
func GetLevel() Level {
	defaultOutput.mu.RLock()
	defer defaultOutput.mu.RUnlock()
	return defaultOutput.level
}

// GetLevelName returns the name of the current log level
func GetLevelName() string {
	return levelNames[GetLevel()]
}

func (l *Logger) shouldLog(level Level) bool {
	l.out.mu.RLock()
	defer l.out.mu.RUnlock()
	return level <= l.out.level
}

func (l *Logger) prefix(tag string) string {
	if l.name == "" {
		return "[" + tag + "] "
	}
	return "[" + tag + "] [" + l.name + "] "
}

// Debug logs high frequency, verbose messages
func (l *Logger) Debug(format string, args ...any) {
	if l.shouldLog(LevelDebug) {
		l.out.stdLog.Printf(l.prefix("DEBUG")+format, args...)
	}
}

// Info logs important events
func (l *Logger) Info(format string, args ...any) {
	if l.shouldLog(LevelInfo) {
		l.out.stdLog.Printf(l.prefix("INFO")+format, args...)
	}
}

// Warn logs recoverable problems
func (l *Logger) Warn(format string, args ...any) {
	if l.shouldLog(LevelWarn) {
		l.out.stdLog.Printf(l.prefix("WARN")+format, args...)
	}
}

// Error logs failures that need attention
func (l *Logger) Error(format string, args ...any) {
	if l.shouldLog(LevelError) {
		l.out.errLog.Printf(l.prefix("ERROR")+format, args...)
	}
}

// Debug logs debug-level messages on the default logger
func Debug(format string, args ...any) { defaultLogger.Debug(format, args...) }

// Info logs info-level messages on the default logger
func Info(format string, args ...any) { defaultLogger.Info(format, args...) }

// Warn logs warning-level messages on the default logger
func Warn(format string, args ...any) { defaultLogger.Warn(format, args...) }

// Error logs error-level messages on the default logger
func Error(format string, args ...any) { defaultLogger.Error(format, args...) }

// Fatal logs an error and exits
func Fatal(format string, args ...any) {
	defaultOutput.errLog.Printf("[FATAL] "+format, args...)
	os.Exit(1)
}

// ParseLevel converts a string to a Level
func ParseLevel(s string) (Level, error) {
	level, ok := levelFromString[strings.ToLower(s)]
	if !ok {
		return LevelInfo, fmt.Errorf("invalid log level: %s", s)
	}
	return level, nil
}
