// Package logging builds the zap logger shared by every crash command.
//
// Human-readable output goes to stderr at the requested level. When a log
// directory is configured, every entry is additionally written as JSON to a
// size-rotated file so scheduled runs leave a trail.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// FileName is the rotated log file inside the log directory.
	FileName = "crash.log"

	maxSizeMB  = 10
	maxBackups = 5
	maxAgeDays = 28
)

// Options configures the logger.
type Options struct {
	Level   string    // debug, info, warn, error
	JSON    bool      // JSON console output instead of the console encoder
	Dir     string    // rotated file output; empty disables it
	Console io.Writer // defaults to os.Stderr
}

// ParseLevel accepts zap level names case-insensitively. Empty means info.
func ParseLevel(s string) (zapcore.Level, error) {
	if strings.TrimSpace(s) == "" {
		return zapcore.InfoLevel, nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(strings.TrimSpace(s)))); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return lvl, nil
}

// New constructs the logger. The returned close function flushes and closes
// the rotated file.
func New(opts Options) (*zap.Logger, func(), error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	console := opts.Console
	if console == nil {
		console = os.Stderr
	}

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.TimeKey = ""
	consoleCfg.CallerKey = ""
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	if _, ok := console.(*os.File); !ok {
		consoleCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	var consoleEnc zapcore.Encoder
	if opts.JSON {
		consoleEnc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	} else {
		consoleEnc = zapcore.NewConsoleEncoder(consoleCfg)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(consoleEnc, zapcore.AddSync(console), level),
	}

	closeFn := func() {}
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log dir: %w", err)
		}
		rotator := &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, FileName),
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
			MaxAge:     maxAgeDays,
		}
		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		// The file records debug regardless of the console level.
		fileCore := zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), zapcore.AddSync(rotator), zapcore.DebugLevel).
			With([]zapcore.Field{zap.Int("pid", os.Getpid())})
		cores = append(cores, fileCore)
		closeFn = func() {
			_ = rotator.Close()
		}
	}

	logger := zap.New(zapcore.NewTee(cores...))
	return logger, func() {
		_ = logger.Sync()
		closeFn()
	}, nil
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
