// Package util holds small helpers shared across the module.
package util

import (
	"os"
	"time"

	prettyconsole "github.com/thessem/zap-prettyconsole"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the default process logger: JSON at info level, or a
// colorized console at debug level when debug is set.
func NewLogger(debug bool) *zap.Logger {
	if debug {
		cfg := prettyconsole.NewEncoderConfig()
		cfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			enc.AppendString(t.Format("15:04:05"))
		}
		core := zapcore.NewCore(prettyconsole.NewEncoder(cfg), os.Stdout, zap.DebugLevel)
		return zap.New(core)
	}

	cfg := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "ts",
		NameKey:        "logger",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), os.Stdout, zap.InfoLevel)
	return zap.New(core)
}
