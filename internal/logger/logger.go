package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Level files written under the log directory.
const (
	InfoFile    = "info.log"
	WarningFile = "warning.log"
	ErrorFile   = "error.log"
)

// Logger provides leveled logging (info/warning/error) to files and stdout/stderr.
type Logger struct {
	infoLog    *log.Logger
	warningLog *log.Logger
	errorLog   *log.Logger
	logDir     string
	files      []*os.File
	mu         sync.Mutex
}

// NewLogger creates a Logger writing to stdout/stderr and to per-level files in logDir.
func NewLogger(logDir string) (*Logger, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	l := &Logger{logDir: logDir}

	infoFile, err := l.openLogFile(InfoFile)
	if err != nil {
		return nil, err
	}
	warningFile, err := l.openLogFile(WarningFile)
	if err != nil {
		l.Close()
		return nil, err
	}
	errorFile, err := l.openLogFile(ErrorFile)
	if err != nil {
		l.Close()
		return nil, err
	}

	l.setupLoggers(
		io.MultiWriter(os.Stdout, infoFile),
		io.MultiWriter(os.Stdout, warningFile),
		io.MultiWriter(os.Stderr, errorFile),
	)
	return l, nil
}

// NewWriter creates a Logger sending every level to w. No files are opened.
func NewWriter(w io.Writer) *Logger {
	l := &Logger{}
	l.setupLoggers(w, w, w)
	return l
}

// NewNop creates a Logger that discards everything.
func NewNop() *Logger {
	return NewWriter(io.Discard)
}

// setupLoggers initializes per-level loggers on the given writers.
func (l *Logger) setupLoggers(info, warning, errw io.Writer) {
	l.infoLog = log.New(info, "INFO    ", log.Ldate|log.Ltime|log.Lshortfile)
	l.warningLog = log.New(warning, "WARNING ", log.Ldate|log.Ltime|log.Lshortfile)
	l.errorLog = log.New(errw, "ERROR   ", log.Ldate|log.Ltime|log.Lshortfile)
}

// openLogFile opens or creates a log file for appending.
func (l *Logger) openLogFile(name string) (*os.File, error) {
	file, err := os.OpenFile(filepath.Join(l.logDir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", name, err)
	}
	l.files = append(l.files, file)
	return file, nil
}

// Dir returns the directory holding the log files, empty for writer-backed loggers.
func (l *Logger) Dir() string {
	return l.logDir
}

// Info writes a formatted info-level log entry.
func (l *Logger) Info(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infoLog.Output(2, fmt.Sprintf(format, v...))
}

// Warning writes a formatted warning-level log entry.
func (l *Logger) Warning(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.warningLog.Output(2, fmt.Sprintf(format, v...))
}

// Error writes a formatted error-level log entry.
func (l *Logger) Error(format string, v ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errorLog.Output(2, fmt.Sprintf(format, v...))
}

// CleanLogs truncates the named log file.
func (l *Logger) CleanLogs(fileName string) error {
	if l.logDir == "" {
		return nil
	}
	switch fileName {
	case InfoFile, WarningFile, ErrorFile:
	default:
		return fmt.Errorf("unknown log file %q", fileName)
	}

	file, err := os.OpenFile(filepath.Join(l.logDir, fileName), os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		l.Error("Error opening file: %v", err)
		return err
	}
	defer file.Close()

	l.Info("Log file %s has been cleared.", fileName)
	return nil
}

// Close closes the underlying log files.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var firstErr error
	for _, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	l.files = nil
	return firstErr
}
