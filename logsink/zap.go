package logsink

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Zap returns a Sink that writes every message at info level.
func Zap(z *zap.Logger) Sink {
	return Func(func(message string) error {
		z.Info(message)
		return nil
	})
}

// NewConsoleLogger logs JSON lines to stderr.
func NewConsoleLogger() *zap.Logger {
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(os.Stderr), zap.InfoLevel)
	return zap.New(core)
}

// NewFileLogger logs JSON lines to dir/name, rotated by lumberjack, and to stdout.
func NewFileLogger(dir, name string) *zap.Logger {
	if dir == "" {
		dir = "log"
	}
	_ = os.MkdirAll(dir, 0o755)

	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder

	w := zapcore.AddSync(&lumberjack.Logger{
		Filename:   filepath.Join(dir, name),
		MaxSize:    50, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
	})

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewJSONEncoder(cfg), w, zap.InfoLevel),
		zapcore.NewCore(zapcore.NewJSONEncoder(cfg), zapcore.Lock(os.Stdout), zap.InfoLevel),
	)
	return zap.New(core)
}
