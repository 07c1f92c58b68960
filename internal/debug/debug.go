// Package debug provides the update log for deltaup.
// Lines are appended to the configured log file (program.log_path) in the
// form "[YYYY-MM-DD HH:MM:SS][info] message". Until Init is called every
// logging call is a no-op.
package debug

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// LogFileName is the default name of the update log file.
	LogFileName = "update.log"
	// LogDirName is the default directory containing the log file.
	LogDirName = "log"

	timeLayout = "2006-01-02 15:04:05"
)

var (
	mu      sync.RWMutex
	enabled bool
	out     io.Writer = io.Discard
	logFile *os.File
	echo    io.Writer

	// now is a function variable to allow overriding in tests.
	now = time.Now
)

// Init opens path in append mode and routes log lines to it.
// An empty path disables file logging.
func Init(path string) error {
	mu.Lock()
	defer mu.Unlock()

	closeLocked()
	path = strings.TrimSpace(path)
	if path == "" {
		enabled = echo != nil
		out = io.Discard
		return nil
	}

	//nolint:gosec // G301: log directory lives next to the installation
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}

	//nolint:gosec // G304: log path comes from the settings file
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	logFile = f
	out = f
	enabled = true
	return nil
}

// SetEcho mirrors every log line to w (for example stderr). Nil disables it.
func SetEcho(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	echo = w
	enabled = logFile != nil || echo != nil
}

// Close closes the log file if open.
// Safe to call even if logging is disabled.
func Close() {
	mu.Lock()
	defer mu.Unlock()
	closeLocked()
	enabled = echo != nil
}

func closeLocked() {
	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}
	out = io.Discard
}

// Log writes a log line.
// Arguments are handled in the manner of fmt.Print.
func Log(v ...any) {
	write(fmt.Sprint(v...))
}

// Logf writes a formatted log line.
// Arguments are handled in the manner of fmt.Printf.
func Logf(format string, v ...any) {
	write(fmt.Sprintf(format, v...))
}

func write(msg string) {
	mu.RLock()
	defer mu.RUnlock()

	if !enabled {
		return
	}
	line := Format(now(), msg)
	_, _ = io.WriteString(out, line)
	if echo != nil {
		_, _ = io.WriteString(echo, line)
	}
}

// Format renders one log line including the trailing newline.
func Format(t time.Time, msg string) string {
	return fmt.Sprintf("[%s][info] %s\n", t.Format(timeLayout), strings.TrimRight(msg, "\n"))
}

// Enabled returns whether logging is currently enabled.
func Enabled() bool {
	mu.RLock()
	defer mu.RUnlock()
	return enabled
}

// DefaultLogPath returns the log path used when none is configured.
func DefaultLogPath(installRoot string) string {
	return filepath.Join(installRoot, LogDirName, LogFileName)
}
