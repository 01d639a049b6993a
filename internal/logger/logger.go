package logger

import (
	"log"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	mu    sync.RWMutex
	base  *zap.Logger
	sugar *zap.SugaredLogger
)

func init() {
	Set(zap.NewNop())
}

// Init builds the process logger. Production uses JSON output, everything
// else the colored development console encoder.
func Init(env, level string) {
	var cfg zap.Config
	if env == "production" {
		cfg = zap.NewProductionConfig()
	} else {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	Set(l)
}

// Set replaces the process logger.
func Set(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	base = l
	sugar = l.Sugar()
}

// L returns the underlying zap logger for components that take one.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return base
}

func s() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}

func Sync() {
	_ = L().Sync()
}

func Info(msg string, keysAndValues ...interface{}) {
	s().Infow(msg, keysAndValues...)
}

func Infof(format string, v ...interface{}) {
	s().Infof(format, v...)
}

func Warn(msg string, keysAndValues ...interface{}) {
	s().Warnw(msg, keysAndValues...)
}

func Warnf(format string, v ...interface{}) {
	s().Warnf(format, v...)
}

func Error(msg string, keysAndValues ...interface{}) {
	s().Errorw(msg, keysAndValues...)
}

func Errorf(format string, v ...interface{}) {
	s().Errorf(format, v...)
}

func Debug(msg string, keysAndValues ...interface{}) {
	s().Debugw(msg, keysAndValues...)
}

func Debugf(format string, v ...interface{}) {
	s().Debugf(format, v...)
}

func Fatal(msg string, keysAndValues ...interface{}) {
	s().Fatalw(msg, keysAndValues...)
}

func Fatalf(format string, v ...interface{}) {
	s().Fatalf(format, v...)
}
