// Package logging provides categorized file-based logging for the control
// plane. Logs are written under <workspace>/.shapetrace/logs with one file
// per category. When Initialize has not been called (library use, tests),
// every call is a no-op: verdict computation must never depend on, or be
// delayed by, logging.
package logging

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
)

// Category routes a log line to its per-subsystem file.
type Category string

const (
	CategoryBoot        Category = "boot"        // Startup, registry load
	CategoryRegistry    Category = "registry"    // Validation, lookups of note
	CategoryTracer      Category = "tracer"      // Extraction and loss computation
	CategoryGate        Category = "gate"        // Survival gate verdicts
	CategoryEnforcement Category = "enforcement" // RSR laws, actions, forks
	CategoryHistory     Category = "history"     // Run history and event log persistence
)

type state struct {
	mu      sync.RWMutex
	enabled bool
	logsDir string
	loggers map[Category]*log.Logger
	files   []*os.File
}

var global state

// Initialize enables logging under the given workspace directory. Safe to
// skip entirely; every log call degrades to a no-op.
func Initialize(workspace string) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}
	dir := filepath.Join(workspace, ".shapetrace", "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	global.mu.Lock()
	defer global.mu.Unlock()
	global.enabled = true
	global.logsDir = dir
	global.loggers = make(map[Category]*log.Logger)
	return nil
}

// Close flushes and closes every category file.
func Close() {
	global.mu.Lock()
	defer global.mu.Unlock()
	for _, f := range global.files {
		_ = f.Close()
	}
	global.files = nil
	global.loggers = nil
	global.enabled = false
}

func logf(cat Category, level, format string, args ...interface{}) {
	global.mu.RLock()
	enabled := global.enabled
	logger := global.loggers[cat]
	global.mu.RUnlock()
	if !enabled {
		return
	}

	if logger == nil {
		logger = openCategory(cat)
		if logger == nil {
			return
		}
	}
	logger.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
}

func openCategory(cat Category) *log.Logger {
	global.mu.Lock()
	defer global.mu.Unlock()
	if logger, ok := global.loggers[cat]; ok {
		return logger
	}
	path := filepath.Join(global.logsDir, string(cat)+".log")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		// Logging failure must never surface into decision paths.
		return nil
	}
	logger := log.New(f, "", log.LstdFlags|log.Lmicroseconds)
	global.loggers[cat] = logger
	global.files = append(global.files, f)
	return logger
}

// Boot logs startup and registry-load messages.
func Boot(format string, args ...interface{}) { logf(CategoryBoot, "INFO", format, args...) }

// Registry logs catalogue validation detail.
func Registry(format string, args ...interface{}) { logf(CategoryRegistry, "INFO", format, args...) }

// Tracer logs extraction and loss-computation detail.
func Tracer(format string, args ...interface{}) { logf(CategoryTracer, "DEBUG", format, args...) }

// Gate logs survival gate verdicts.
func Gate(format string, args ...interface{}) { logf(CategoryGate, "INFO", format, args...) }

// Enforcement logs law evaluation and actions.
func Enforcement(format string, args ...interface{}) { logf(CategoryEnforcement, "INFO", format, args...) }

// HistoryWarn logs persistence failures. These are warnings by definition:
// bookkeeping never alters a computed verdict.
func HistoryWarn(format string, args ...interface{}) { logf(CategoryHistory, "WARN", format, args...) }

// History logs successful persistence detail.
func History(format string, args ...interface{}) { logf(CategoryHistory, "INFO", format, args...) }
