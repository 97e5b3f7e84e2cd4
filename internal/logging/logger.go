// Package logging provides categorized, config-driven logging for ontogen.
// Each category is a named child of one root zap logger. Until Initialize
// runs every category logger discards its output.
package logging

import (
	"fmt"
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
	CategoryOntology  Category = "ontology"  // Graph mutation and queries
	CategoryStore     Category = "store"     // Snapshot persistence
	CategorySandbox   Category = "sandbox"   // Payload execution and verification
	CategorySynthesis Category = "synthesis" // Prompt building and code extraction
	CategoryAPI       Category = "api"       // Generator provider calls
	CategoryAgent     Category = "agent"     // Synthesis loop
	CategoryTracing   Category = "tracing"   // Trace sinks
)

// Config mirrors config.LoggingConfig to avoid an import cycle.
type Config struct {
	Level      string          // debug, info, warn, error
	Format     string          // json or console
	File       string          // optional output file; stderr when empty
	Categories map[string]bool // per-category switch; absent means enabled
}

// Logger is a category logger with printf-style helpers.
type Logger struct {
	category Category
	z        *zap.Logger
	sugar    *zap.SugaredLogger
}

var (
	mu      sync.RWMutex
	root    = zap.NewNop()
	cfg     Config
	loggers = make(map[Category]*Logger)
)

// Initialize builds the root logger from c and resets all category loggers.
// It returns the root so callers can hand it to components directly.
func Initialize(c Config) (*zap.Logger, error) {
	z, err := Build(c)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	old := root
	root = z
	cfg = c
	loggers = make(map[Category]*Logger)
	mu.Unlock()
	_ = old.Sync()

	Get(CategoryBoot).Debug("logging initialized: level=%s format=%s", levelName(c.Level), c.Format)
	return z, nil
}

// Build constructs a zap logger from c without touching package state.
func Build(c Config) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(levelName(c.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}

	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.Sampling = nil
	switch strings.ToLower(c.Format) {
	case "", "json":
	case "console":
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	default:
		return nil, fmt.Errorf("invalid log format %q", c.Format)
	}
	if c.File != "" {
		zc.OutputPaths = []string{c.File}
	} else {
		zc.OutputPaths = []string{"stderr"}
	}

	z, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return z, nil
}

// Use installs an already-built root logger, e.g. zap.NewNop() or an
// observer core in tests.
func Use(z *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = z
	cfg = Config{}
	loggers = make(map[Category]*Logger)
}

// Reset returns to the discarding default.
func Reset() {
	Use(zap.NewNop())
}

func rootLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Sync flushes the root logger.
func Sync() error {
	return rootLogger().Sync()
}

// IsCategoryEnabled returns whether a specific category is enabled
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if cfg.Categories == nil {
		return true
	}
	enabled, exists := cfg.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

// Get returns (or creates) a logger for the given category.
// Disabled categories get a no-op logger.
func Get(category Category) *Logger {
	mu.RLock()
	if l, ok := loggers[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	enabled := IsCategoryEnabled(category)

	mu.Lock()
	defer mu.Unlock()
	if l, ok := loggers[category]; ok {
		return l
	}
	z := zap.NewNop()
	if enabled {
		z = root.Named(string(category))
	}
	l := &Logger{category: category, z: z, sugar: z.Sugar()}
	loggers[category] = l
	return l
}

// Zap returns the underlying structured logger.
func (l *Logger) Zap() *zap.Logger { return l.z }

// Category returns the logger's category.
func (l *Logger) Category() Category { return l.category }

func (l *Logger) Debug(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *Logger) Info(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *Logger) Warn(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *Logger) Error(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// With returns a logger that attaches fields to every entry.
func (l *Logger) With(fields ...zap.Field) *Logger {
	z := l.z.With(fields...)
	return &Logger{category: l.category, z: z, sugar: z.Sugar()}
}

func levelName(level string) string {
	switch strings.ToLower(level) {
	case "":
		return "info"
	case "warning":
		return "warn"
	default:
		return strings.ToLower(level)
	}
}

// =============================================================================
// CONVENIENCE FUNCTIONS
// =============================================================================

// Boot logs to the boot category
func Boot(format string, args ...interface{}) {
	Get(CategoryBoot).Info(format, args...)
}

// Ontology logs to the ontology category
func Ontology(format string, args ...interface{}) {
	Get(CategoryOntology).Info(format, args...)
}

// OntologyDebug logs debug to the ontology category
func OntologyDebug(format string, args ...interface{}) {
	Get(CategoryOntology).Debug(format, args...)
}

// Store logs to the store category
func Store(format string, args ...interface{}) {
	Get(CategoryStore).Info(format, args...)
}

// StoreDebug logs debug to the store category
func StoreDebug(format string, args ...interface{}) {
	Get(CategoryStore).Debug(format, args...)
}

// SandboxDebug logs debug to the sandbox category
func SandboxDebug(format string, args ...interface{}) {
	Get(CategorySandbox).Debug(format, args...)
}

// APIDebug logs debug to the api category
func APIDebug(format string, args ...interface{}) {
	Get(CategoryAPI).Debug(format, args...)
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

// Stop ends the timer and logs the duration
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
