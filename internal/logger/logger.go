// Package logger provides the leveled, dual-sink (file + console)
// logger used across the migration engine.
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Level lists supported log severities.
type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

var levelNames = map[Level]string{
	DEBUG: "DEBUG",
	INFO:  "INFO",
	WARN:  "WARN",
	ERROR: "ERROR",
}

// Logger writes to a log file and, for WARN/ERROR (and explicit
// Console calls), also to stdout.
type Logger struct {
	mu         sync.Mutex
	fileLogger *log.Logger
	consoleLog *log.Logger
	level      Level
	file       *os.File
	path       string
	prefix     string
}

// New opens logDir/prefix.log (append mode, created if missing) and
// returns a Logger instance. Callers that need an explicit collaborator
// (rather than the package-level singleton) should use this.
func New(logDir string, level Level, prefix string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("日志目录创建失败: %w", err)
	}
	if prefix == "" {
		prefix = "rdb2redis"
	}
	path := filepath.Join(logDir, prefix+".log")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("日志文件打开失败: %w", err)
	}
	return &Logger{
		fileLogger: log.New(file, "", 0),
		consoleLog: log.New(os.Stdout, "", 0),
		level:      level,
		file:       file,
		path:       path,
		prefix:     prefix,
	}, nil
}

func (l *Logger) format(level Level, format string, args ...interface{}) string {
	ts := time.Now().Format("2006/01/02 15:04:05")
	return fmt.Sprintf("%s [%s] %s", ts, levelNames[level], fmt.Sprintf(format, args...))
}

func (l *Logger) toFile(level Level, format string, args ...interface{}) {
	if level < l.level {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.fileLogger.Println(l.format(level, format, args...))
}

func (l *Logger) toConsole(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	ts := time.Now().Format("2006/01/02 15:04:05")
	l.consoleLog.Printf("%s [rdb2redis] %s", ts, fmt.Sprintf(format, args...))
}

func (l *Logger) Debugf(format string, args ...interface{}) { l.toFile(DEBUG, format, args...) }
func (l *Logger) Infof(format string, args ...interface{})  { l.toFile(INFO, format, args...) }
func (l *Logger) Warnf(format string, args ...interface{}) {
	l.toFile(WARN, format, args...)
	l.toConsole(format, args...)
}
func (l *Logger) Errorf(format string, args ...interface{}) {
	l.toFile(ERROR, format, args...)
	l.toConsole(format, args...)
}

// Console prints a status line to stdout and mirrors it to the file at
// INFO level, for progress/summary output that operators watch live.
func (l *Logger) Console(format string, args ...interface{}) {
	l.toConsole(format, args...)
	l.toFile(INFO, format, args...)
}

// Writer returns an io.Writer over the backing log file, for callers
// (e.g. os/exec subprocess plumbing) that want to fold their output
// into the same file.
func (l *Logger) Writer() io.Writer { return l.file }

// Path returns the backing log file's path.
func (l *Logger) Path() string { return l.path }

// Close closes the backing log file.
func (l *Logger) Close() error { return l.file.Close() }

// --- package-level singleton -------------------------------------
//
// Kept alongside the instance API above for callers with no natural
// place to thread a *Logger through (early startup, package init);
// components that need a request-scoped logger (pool, worker, engine)
// hold an explicit *Logger instead of calling these.

var (
	defaultLogger *Logger
	once          sync.Once
	initErr       error
)

// Init creates the global logger. Safe to call multiple times; only
// the first call takes effect.
func Init(logDir string, level Level, prefix string) error {
	once.Do(func() {
		defaultLogger, initErr = New(logDir, level, prefix)
	})
	return initErr
}

// Close shuts down the global logger's file, if initialized.
func Close() error {
	if defaultLogger != nil {
		return defaultLogger.Close()
	}
	return nil
}

// GetLogFilePath returns the global logger's backing file path.
func GetLogFilePath() string {
	if defaultLogger != nil {
		return defaultLogger.path
	}
	return ""
}

func Debug(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Debugf(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Infof(format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Warnf(format, args...)
		return
	}
	fmt.Printf(format+"\n", args...)
}

func Error(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Errorf(format, args...)
		return
	}
	fmt.Printf(format+"\n", args...)
}

func Console(format string, args ...interface{}) {
	if defaultLogger != nil {
		defaultLogger.Console(format, args...)
		return
	}
	fmt.Printf(format+"\n", args...)
}

func Printf(format string, args ...interface{}) { Info(format, args...) }

func Println(args ...interface{}) { Info("%s", fmt.Sprint(args...)) }

// Writer returns an io.Writer over the global logger's file, falling
// back to stdout before Init.
func Writer() io.Writer {
	if defaultLogger != nil {
		return defaultLogger.file
	}
	return os.Stdout
}
