// Package logging provides per-module slog loggers with runtime-adjustable
// levels and an optional rotating file sink.
//
// The REPL owns the controlling terminal, so when a log file is configured
// the supervisor's own output goes there and the terminal stays quiet.
// Without a file, records go to stderr.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config represents logging configuration.
type Config struct {
	Level  string
	Format string
	File   string
}

var (
	moduleLoggers   = make(map[string]*slog.Logger)
	moduleLevelVars = make(map[string]*slog.LevelVar)
	globalConfig    Config
	globalLevelVar  = &slog.LevelVar{}
	isInitialized   bool
	mutex           sync.RWMutex
	output          io.Writer = os.Stderr
)

// Initialize sets up the logging system. Loggers created before
// Initialize are recreated so they pick up the configured level, format,
// and output.
func Initialize(config Config) {
	mutex.Lock()
	defer mutex.Unlock()

	globalConfig = config
	isInitialized = true

	if config.File != "" {
		output = &lumberjack.Logger{
			Filename:   config.File,
			MaxSize:    10,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
	} else {
		output = os.Stderr
	}

	level := parseLevel(config.Level)
	if level == nil {
		defaultLevel := slog.LevelInfo
		level = &defaultLevel
	}
	globalLevelVar.Set(*level)

	for module, levelVar := range moduleLevelVars {
		levelVar.Set(*level)
		moduleLoggers[module] = slog.New(createHandler(config.Format, levelVar)).With("module", module)
	}

	slog.SetDefault(slog.New(createHandler(config.Format, globalLevelVar)))
}

// GetLogger returns a logger for the specified module, creating it if
// needed.
func GetLogger(module string) *slog.Logger {
	mutex.RLock()
	if logger, exists := moduleLoggers[module]; exists {
		mutex.RUnlock()
		return logger
	}
	mutex.RUnlock()

	mutex.Lock()
	defer mutex.Unlock()

	// Double-check in case another goroutine created it
	if logger, exists := moduleLoggers[module]; exists {
		return logger
	}

	levelVar := &slog.LevelVar{}
	levelVar.Set(slog.LevelInfo)
	format := "text"
	if isInitialized {
		if parsed := parseLevel(globalConfig.Level); parsed != nil {
			levelVar.Set(*parsed)
		}
		format = globalConfig.Format
	}

	logger := slog.New(createHandler(format, levelVar)).With("module", module)
	moduleLoggers[module] = logger
	moduleLevelVars[module] = levelVar
	return logger
}

// SetLevel adjusts every module logger at runtime.
func SetLevel(level string) bool {
	parsed := parseLevel(level)
	if parsed == nil {
		return false
	}
	mutex.Lock()
	defer mutex.Unlock()
	globalLevelVar.Set(*parsed)
	for _, levelVar := range moduleLevelVars {
		levelVar.Set(*parsed)
	}
	return true
}

// createHandler creates a slog handler with the configured format,
// writing to the active output (stderr or the rotating file).
func createHandler(format string, level slog.Leveler) slog.Handler {
	opts := &slog.HandlerOptions{Level: level}
	if format == "json" {
		return slog.NewJSONHandler(output, opts)
	}
	return slog.NewTextHandler(output, opts)
}

// parseLevel converts a string level to slog.Level.
func parseLevel(level string) *slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		l := slog.LevelDebug
		return &l
	case "info":
		l := slog.LevelInfo
		return &l
	case "warn", "warning":
		l := slog.LevelWarn
		return &l
	case "error":
		l := slog.LevelError
		return &l
	default:
		return nil
	}
}
