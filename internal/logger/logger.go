// Package logger provides leveled logging for ordersync.
// When verbose mode is enabled via the --verbose flag, debug and info
// messages are written; otherwise only errors are. Output is produced by
// zap, as console lines by default or as JSON for log shippers.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Format selects the log line encoding.
type Format string

const (
	// FormatConsole writes "[LEVEL] message" lines.
	FormatConsole Format = "console"

	// FormatJSON writes one JSON object per line with a timestamp.
	FormatJSON Format = "json"
)

var (
	mu      sync.RWMutex
	verbose bool
	format            = FormatConsole
	output  io.Writer = os.Stderr
	level             = zap.NewAtomicLevelAt(zapcore.ErrorLevel)
	base    *zap.Logger
	sugar   *zap.SugaredLogger
)

func init() {
	rebuild()
}

// rebuild recreates the zap logger (caller must hold lock or be in init).
func rebuild() {
	var encoder zapcore.Encoder
	if format == FormatJSON {
		cfg := zap.NewProductionEncoderConfig()
		cfg.TimeKey = "timestamp"
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		encoder = zapcore.NewJSONEncoder(cfg)
	} else {
		encoder = zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
			MessageKey:       "msg",
			LevelKey:         "level",
			EncodeLevel:      bracketLevelEncoder,
			ConsoleSeparator: " ",
			LineEnding:       zapcore.DefaultLineEnding,
		})
	}
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(output)), level)
	base = zap.New(core)
	sugar = base.Sugar()
}

func bracketLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + l.CapitalString() + "]")
}

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
	if v {
		level.SetLevel(zapcore.DebugLevel)
	} else {
		level.SetLevel(zapcore.ErrorLevel)
	}
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer for logs.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	output = w
	rebuild()
}

// SetFormat switches between console and JSON output.
func SetFormat(f Format) {
	mu.Lock()
	defer mu.Unlock()
	if f != FormatJSON {
		f = FormatConsole
	}
	format = f
	rebuild()
}

// L returns the underlying zap logger for structured fields.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

// Debug prints a message if verbose mode is enabled.
func Debug(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	sugar.Debugf(format, args...)
}

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose && format == FormatConsole {
		fmt.Fprintf(output, "\n=== %s ===\n", name)
	}
}

// Info prints an informational message if verbose mode is enabled.
func Info(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	sugar.Infof(format, args...)
}

// Warn prints a warning message if verbose mode is enabled.
func Warn(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	if verbose {
		sugar.Warnf(format, args...)
	}
}

// Error prints an error message. Errors are written even when verbose mode is off.
func Error(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	sugar.Errorf(format, args...)
}

// Sync flushes buffered log entries.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	_ = base.Sync()
}
