package observability

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the production JSON logger. LOG_LEVEL selects the level; when
// LOG_FILE is set, output also goes to that file with size-based rotation.
func NewLogger() (*zap.Logger, error) {
	level := parseLogLevel(os.Getenv("LOG_LEVEL"))
	path := strings.TrimSpace(os.Getenv("LOG_FILE"))
	if path == "" {
		config := zap.NewProductionConfig()
		config.EncoderConfig = encoderConfig()
		config.Level = level
		return config.Build()
	}
	return newRotatingLogger(path, level), nil
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	return ec
}

// newRotatingLogger tees JSON output to stderr and a lumberjack-rotated file.
func newRotatingLogger(path string, level zap.AtomicLevel) *zap.Logger {
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    100, // megabytes
		MaxBackups: 5,
		MaxAge:     28, // days
		Compress:   true,
	}
	enc := zapcore.NewJSONEncoder(encoderConfig())
	core := zapcore.NewTee(
		zapcore.NewCore(enc, zapcore.Lock(os.Stderr), level),
		zapcore.NewCore(enc, zapcore.AddSync(rotator), level),
	)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zap.ErrorLevel))
}

func parseLogLevel(s string) zap.AtomicLevel {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zap.NewAtomicLevelAt(zap.DebugLevel)
	case "WARN":
		return zap.NewAtomicLevelAt(zap.WarnLevel)
	case "ERROR":
		return zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		return zap.NewAtomicLevelAt(zap.InfoLevel)
	}
}
