package logger

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var sugar *zap.SugaredLogger

func init() {
	sugar = newLogger(os.Getenv("ENVIRONMENT")).Sugar()
}

func newLogger(environment string) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if environment == "development" {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return zap.NewNop()
	}
	return l
}

// SetEnvironment rebuilds the global logger once the configuration is loaded.
func SetEnvironment(environment string) {
	_ = sugar.Sync()
	sugar = newLogger(environment).Sugar()
}

// Replace swaps the global logger, mostly for tests that want zaptest/observer output.
func Replace(l *zap.Logger) {
	sugar = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func Info(format string, v ...interface{}) {
	sugar.Infof(format, v...)
}

func Error(format string, v ...interface{}) {
	sugar.Errorf(format, v...)
}

func Debug(format string, v ...interface{}) {
	sugar.Debugf(format, v...)
}

func Warn(format string, v ...interface{}) {
	sugar.Warnf(format, v...)
}

// Sync flushes buffered entries. Call it before the process exits.
func Sync() {
	_ = sugar.Sync()
}

// Helper for room sync logs
func LogSyncError(roomID, action string, err error) {
	Warn("Sync log error: action=%s, roomID=%s, error=%v", action, roomID, err)
}
