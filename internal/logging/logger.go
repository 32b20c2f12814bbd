// Package logging provides categorized structured logging for tagforge.
// A single root *zap.Logger is built once by the host (CLI or server) and
// handed to every component; components derive a category logger with For.
// There is no package-level logger state.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category represents a log category/system
type Category string

const (
	CategoryBoot    Category = "boot"    // CLI / server startup
	CategoryStore   Category = "store"   // Fragment store loading and merging
	CategoryCompose Category = "compose" // Fragment composition
	CategoryResolve Category = "resolve" // Configuration resolution
	CategoryDrift   Category = "drift"   // Drift analysis
	CategoryCatalog Category = "catalog" // Store cache and source watching
	CategoryHistory Category = "history" // Drift history database
	CategoryServer  Category = "server"  // HTTP host
	CategoryDetect  Category = "detect"  // Project detection rules
	CategoryProject Category = "project" // Project configuration document
)

// AllCategories returns every defined category.
func AllCategories() []Category {
	return []Category{
		CategoryBoot,
		CategoryStore,
		CategoryCompose,
		CategoryResolve,
		CategoryDrift,
		CategoryCatalog,
		CategoryHistory,
		CategoryServer,
		CategoryDetect,
		CategoryProject,
	}
}

// Options mirrors config.LoggingConfig to avoid an import cycle.
type Options struct {
	Level      string          // debug, info, warn, error
	Format     string          // json, console
	File       string          // optional output file; empty means stderr
	Categories map[string]bool // per-category toggles; unspecified means enabled
}

// New builds the root logger from options.
func New(opts Options) (*zap.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "console", "text":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("logging: unknown format %q (valid: json, console)", opts.Format)
	}
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.DisableStacktrace = true

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0755); err != nil {
			return nil, fmt.Errorf("logging: create log dir: %w", err)
		}
		cfg.OutputPaths = []string{opts.File}
		cfg.ErrorOutputPaths = []string{opts.File}
	} else {
		cfg.OutputPaths = []string{"stderr"}
		cfg.ErrorOutputPaths = []string{"stderr"}
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: build logger: %w", err)
	}

	disabled := disabledCategories(opts.Categories)
	if len(disabled) > 0 {
		logger = logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
			return &categoryCore{Core: core, disabled: disabled}
		}))
	}
	return logger, nil
}

// ParseLevel maps a level name to a zap level. Empty means info.
func ParseLevel(value string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("logging: unknown level %q (valid: debug, info, warn, error)", value)
}

// Nop returns a logger that discards everything.
func Nop() *zap.Logger {
	return zap.NewNop()
}

// For returns the category logger derived from base. A nil base yields a
// no-op logger so components can be constructed without logging.
func For(base *zap.Logger, category Category) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base.Named(string(category))
}

func disabledCategories(toggles map[string]bool) map[string]struct{} {
	out := make(map[string]struct{})
	for name, enabled := range toggles {
		if !enabled {
			out[name] = struct{}{}
		}
	}
	return out
}

// categoryCore drops entries whose logger name starts with a disabled
// category.
type categoryCore struct {
	zapcore.Core
	disabled map[string]struct{}
}

func (c *categoryCore) enabled(loggerName string) bool {
	category, _, _ := strings.Cut(loggerName, ".")
	_, off := c.disabled[category]
	return !off
}

func (c *categoryCore) With(fields []zapcore.Field) zapcore.Core {
	return &categoryCore{Core: c.Core.With(fields), disabled: c.disabled}
}

func (c *categoryCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if !c.enabled(ent.LoggerName) {
		return ce
	}
	return c.Core.Check(ent, ce)
}

// Timer measures an operation and logs its duration when stopped.
type Timer struct {
	logger *zap.Logger
	op     string
	start  time.Time
}

// StartTimer begins timing op against logger.
func StartTimer(logger *zap.Logger, op string) *Timer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Timer{logger: logger, op: op, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	t.logger.Debug("operation completed", zap.String("op", t.op), zap.Duration("elapsed", elapsed))
	return elapsed
}

// StopWithThreshold logs a warning if the duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		t.logger.Warn("operation slow",
			zap.String("op", t.op),
			zap.Duration("elapsed", elapsed),
			zap.Duration("threshold", threshold))
		return elapsed
	}
	t.logger.Debug("operation completed", zap.String("op", t.op), zap.Duration("elapsed", elapsed))
	return elapsed
}
