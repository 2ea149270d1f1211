// Package logger builds the file-backed zap logger. The reader front ends
// own the terminal, so diagnostics go to a rotated log file instead of
// stdout.
package logger

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New creates a JSON file logger with rotation at logFilePath. debug
// lowers the level to Debug.
func New(logFilePath string, debug bool) *zap.Logger {
	rotator := &lumberjack.Logger{
		Filename:   logFilePath,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     30, // days
		Compress:   true,
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "timestamp"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.MessageKey = "message"
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(rotator),
		level,
	)

	return zap.New(core, zap.AddCaller())
}

// DefaultPath returns XDG_STATE_HOME/reflow/reflow.log or the home
// equivalent.
func DefaultPath() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "reflow", "reflow.log")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "state", "reflow", "reflow.log")
}
