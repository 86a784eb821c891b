// Package logging provides config-driven categorized file-based logging for nbgrade.
// Logs are written to .nbgrade/logs/ with separate files per category.
// Logging is controlled by logging.debug_mode in .nbgrade/config.yaml - when false, no logs are written.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup, config loading
	CategoryRunner    Category = "runner"    // Notebook execution loop
	CategoryKernel    Category = "kernel"    // Interpreter sessions and subprocesses
	CategoryEvaluator Category = "evaluator" // Check registry and evaluation
	CategoryReport    Category = "report"    // Report rendering
	CategoryWatch     Category = "watch"     // File watching
)

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	DebugMode  bool
	Level      string
	JSONFormat bool
	Categories map[string]bool
}

// Logger is a category-scoped sugared zap logger.
// The zero value (nil sugar) discards everything.
type Logger struct {
	category Category
	sugar    *zap.SugaredLogger
	file     *os.File
}

var (
	loggers   = make(map[Category]*Logger)
	loggersMu sync.RWMutex
	logsDir   string
	opts      Options
	level     = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	optsMu    sync.RWMutex
)

// Initialize sets up the logs directory under the workspace.
// When debug mode is off this is a silent no-op.
func Initialize(workspace string, o Options) error {
	if workspace == "" {
		return fmt.Errorf("workspace path required")
	}

	CloseAll()

	dir := ""
	if o.DebugMode {
		dir = filepath.Join(workspace, ".nbgrade", "logs")
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create logs directory: %w", err)
		}
	}

	optsMu.Lock()
	opts = o
	logsDir = dir
	level.SetLevel(parseLevel(o.Level))
	optsMu.Unlock()

	if dir == "" {
		return nil
	}

	boot := Get(CategoryBoot)
	boot.Info("=== nbgrade logging initialized ===")
	boot.Info("Logs directory: %s", dir)
	boot.Info("Log level: %s", level.Level())
	return nil
}

func parseLevel(s string) zapcore.Level {
	switch strings.ToLower(s) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// IsDebugMode returns whether debug logging is enabled
func IsDebugMode() bool {
	optsMu.RLock()
	defer optsMu.RUnlock()
	return opts.DebugMode
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	optsMu.RLock()
	defer optsMu.RUnlock()

	if !opts.DebugMode {
		return false
	}
	if opts.Categories == nil {
		return true
	}
	enabled, exists := opts.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Returns a no-op logger if debug mode is disabled or category is disabled.
func Get(category Category) *Logger {
	optsMu.RLock()
	dir := logsDir
	jsonFormat := opts.JSONFormat
	optsMu.RUnlock()

	if dir == "" || !IsCategoryEnabled(category) {
		return &Logger{category: category}
	}

	loggersMu.RLock()
	if l, ok := loggers[category]; ok {
		loggersMu.RUnlock()
		return l
	}
	loggersMu.RUnlock()

	loggersMu.Lock()
	defer loggersMu.Unlock()

	if l, ok := loggers[category]; ok {
		return l
	}

	date := time.Now().Format("2006-01-02")
	logPath := filepath.Join(dir, fmt.Sprintf("%s_%s.log", date, category))

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[logging] Warning: could not open log file %s: %v\n", logPath, err)
		return &Logger{category: category}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var enc zapcore.Encoder
	if jsonFormat {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(file), level)
	l := &Logger{
		category: category,
		file:     file,
		sugar:    zap.New(core).Named(string(category)).Sugar(),
	}
	loggers[category] = l
	return l
}

// Debug logs a debug message
func (l *Logger) Debug(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Debugf(format, args...)
}

// Info logs an informational message
func (l *Logger) Info(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(format string, args ...interface{}) {
	if l.sugar == nil {
		return
	}
	l.sugar.Errorf(format, args...)
}

// With returns a logger carrying structured key-value context.
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	if l.sugar == nil {
		return l
	}
	return &Logger{category: l.category, sugar: l.sugar.With(keysAndValues...)}
}

// Enabled reports whether the logger writes anywhere.
func (l *Logger) Enabled() bool {
	return l.sugar != nil
}

// CloseAll flushes and closes all open log files.
func CloseAll() {
	loggersMu.Lock()
	defer loggersMu.Unlock()

	for cat, l := range loggers {
		if l.sugar != nil {
			_ = l.sugar.Sync()
		}
		if l.file != nil {
			_ = l.file.Close()
		}
		delete(loggers, cat)
	}
}

// =============================================================================
// CATEGORY SHORTHANDS
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Info(format, args...) }

// Runner logs to the runner category
func Runner(format string, args ...interface{}) { Get(CategoryRunner).Info(format, args...) }

// RunnerDebug logs debug to the runner category
func RunnerDebug(format string, args ...interface{}) { Get(CategoryRunner).Debug(format, args...) }

// RunnerWarn logs a warning to the runner category
func RunnerWarn(format string, args ...interface{}) { Get(CategoryRunner).Warn(format, args...) }

// Kernel logs to the kernel category
func Kernel(format string, args ...interface{}) { Get(CategoryKernel).Info(format, args...) }

// KernelDebug logs debug to the kernel category
func KernelDebug(format string, args ...interface{}) { Get(CategoryKernel).Debug(format, args...) }

// KernelError logs an error to the kernel category
func KernelError(format string, args ...interface{}) { Get(CategoryKernel).Error(format, args...) }

// Evaluator logs to the evaluator category
func Evaluator(format string, args ...interface{}) { Get(CategoryEvaluator).Info(format, args...) }

// EvaluatorDebug logs debug to the evaluator category
func EvaluatorDebug(format string, args ...interface{}) {
	Get(CategoryEvaluator).Debug(format, args...)
}

// Watch logs to the watch category
func Watch(format string, args ...interface{}) { Get(CategoryWatch).Info(format, args...) }

// WatchError logs an error to the watch category
func WatchError(format string, args ...interface{}) { Get(CategoryWatch).Error(format, args...) }

// =============================================================================
// RUN-SCOPED LOGGING
// =============================================================================

// WithRunID returns a category logger tagged with a grading run ID.
func WithRunID(category Category, runID string) *Logger {
	return Get(category).With("run", runID)
}

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer helps measure operation duration
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warn("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debug("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
