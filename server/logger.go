package server

import (
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type LoggingFormat int8

const (
	JSONFormat LoggingFormat = iota - 1
	StackdriverFormat
)

// SetupLogging builds the logger described by the config. The startup logger is
// used to report problems with the logging config itself.
func SetupLogging(tmpLogger *zap.Logger, config *Config) *zap.Logger {
	level := zapcore.InfoLevel
	switch strings.ToLower(config.Logger.Level) {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		tmpLogger.Fatal("Logger level invalid, must be one of: DEBUG, INFO, WARN, or ERROR")
	}

	format := JSONFormat
	switch strings.ToLower(config.Logger.Format) {
	case "", "json":
		format = JSONFormat
	case "stackdriver":
		format = StackdriverFormat
	default:
		tmpLogger.Fatal("Logger mode invalid, must be one of: '', 'json', or 'stackdriver")
	}

	var fileLogger *zap.Logger
	if config.Logger.Rotation {
		fileLogger = NewRotatingJSONFileLogger(tmpLogger, config, level, format)
	} else if config.Logger.File != "" {
		fileLogger = NewJSONFileLogger(tmpLogger, config.Logger.File, level, format)
	}

	var logger *zap.Logger
	switch {
	case fileLogger != nil && config.Logger.Stdout:
		logger = NewMultiLogger(NewJSONLogger(os.Stdout, level, format), fileLogger)
	case fileLogger != nil:
		logger = fileLogger
	default:
		logger = NewJSONLogger(os.Stdout, level, format)
	}
	return logger.With(zap.String("bot", config.Name))
}

func NewJSONFileLogger(consoleLogger *zap.Logger, fpath string, level zapcore.Level, format LoggingFormat) *zap.Logger {
	if len(fpath) == 0 {
		return nil
	}

	output, err := os.OpenFile(fpath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		consoleLogger.Fatal("Could not create log file", zap.Error(err))
		return nil
	}

	return NewJSONLogger(output, level, format)
}

func NewRotatingJSONFileLogger(consoleLogger *zap.Logger, config *Config, level zapcore.Level, format LoggingFormat) *zap.Logger {
	fpath := config.Logger.File
	if len(fpath) == 0 {
		fpath = filepath.Join(config.DataDir, "logs", config.Name+".log")
	}
	if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
		consoleLogger.Fatal("Could not create log directory", zap.Error(err))
		return nil
	}

	jsonEncoder := newJSONEncoder(format)

	writeSyncer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   fpath,
		MaxSize:    config.Logger.MaxSize,
		MaxAge:     config.Logger.MaxAge,
		MaxBackups: config.Logger.MaxBackups,
		LocalTime:  config.Logger.LocalTime,
		Compress:   config.Logger.Compress,
	})
	core := zapcore.NewCore(jsonEncoder, writeSyncer, level)
	return zap.New(core, zap.AddCaller())
}

func NewMultiLogger(loggers ...*zap.Logger) *zap.Logger {
	cores := make([]zapcore.Core, 0, len(loggers))
	for _, logger := range loggers {
		cores = append(cores, logger.Core())
	}

	teeCore := zapcore.NewTee(cores...)
	return zap.New(teeCore, zap.AddCaller())
}

func NewJSONLogger(output *os.File, level zapcore.Level, format LoggingFormat) *zap.Logger {
	jsonEncoder := newJSONEncoder(format)

	core := zapcore.NewCore(jsonEncoder, zapcore.Lock(output), level)
	options := []zap.Option{zap.AddCaller()}
	return zap.New(core, options...)
}

func newJSONEncoder(format LoggingFormat) zapcore.Encoder {
	if format == StackdriverFormat {
		return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "severity",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			EncodeLevel:    stackdriverLevelEncoder,
			EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		})
	}

	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	})
}

func stackdriverLevelEncoder(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch l {
	case zapcore.DebugLevel:
		enc.AppendString("DEBUG")
	case zapcore.InfoLevel:
		enc.AppendString("INFO")
	case zapcore.WarnLevel:
		enc.AppendString("WARNING")
	case zapcore.ErrorLevel:
		enc.AppendString("ERROR")
	case zapcore.DPanicLevel:
		enc.AppendString("CRITICAL")
	case zapcore.PanicLevel:
		enc.AppendString("CRITICAL")
	case zapcore.FatalLevel:
		enc.AppendString("EMERGENCY")
	default:
		enc.AppendString("DEFAULT")
	}
}
