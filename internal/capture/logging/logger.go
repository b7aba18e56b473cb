// Package logging provides the structured logger shared by every capture component.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Field is a structured logging key/value pair.
type Field = zapcore.Field

// Field constructors.
var (
	String   = zap.String
	Int      = zap.Int
	Int64    = zap.Int64
	Float64  = zap.Float64
	Bool     = zap.Bool
	Time     = zap.Time
	Duration = zap.Duration
	Strings  = zap.Strings
)

// Logger handles structured logging
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, err error, fields ...Field)
	With(fields ...Field) Logger
	Named(component string) Logger
	Close() error
}

// Config configures the logger
type Config struct {
	// LogDir is the directory where daily log files are stored. Empty disables file output.
	LogDir string
	// Prefix is the log file prefix (e.g., "idea" produces idea-YYYY-MM-DD.log)
	Prefix string
	// Level is one of debug, info, warn, error (default: info)
	Level string
	// RetentionDays is the number of days to retain old log files (default: 30)
	RetentionDays int
	// Console receives human-readable output. Nil disables console output.
	Console io.Writer
}

// DefaultPrefix is the log file prefix used when Config.Prefix is empty.
const DefaultPrefix = "idea"

// FileLogger implements Logger on top of zap with a daily-rotated JSON file
// and an optional console stream.
type FileLogger struct {
	z    *zap.Logger
	file *dailyFile
}

// New creates a new FileLogger with the given configuration
func New(config Config) (*FileLogger, error) {
	if config.Prefix == "" {
		config.Prefix = DefaultPrefix
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = 30
	}
	level := zapcore.InfoLevel
	if config.Level != "" {
		parsed, err := zapcore.ParseLevel(strings.ToLower(config.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", config.Level, err)
		}
		level = parsed
	}

	var cores []zapcore.Core
	var file *dailyFile

	if config.LogDir != "" {
		if err := os.MkdirAll(config.LogDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file = newDailyFile(config.LogDir, config.Prefix)
		if err := file.rotateIfNeeded(); err != nil {
			return nil, err
		}
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileEncoderConfig()), file, level))
	}

	if config.Console != nil {
		cores = append(cores, zapcore.NewCore(
			zapcore.NewConsoleEncoder(consoleEncoderConfig(shouldColorize(config.Console))),
			zapcore.AddSync(config.Console),
			level,
		))
	}

	l := &FileLogger{z: zap.New(zapcore.NewTee(cores...)), file: file}

	if file != nil {
		if err := cleanOldLogs(config.LogDir, config.Prefix, config.RetentionDays, file.now()); err != nil {
			l.Error("failed to clean old logs", err)
		}
	}

	return l, nil
}

// Nop returns a logger that discards everything.
func Nop() Logger {
	return &FileLogger{z: zap.NewNop()}
}

// Debug logs a debug message
func (l *FileLogger) Debug(msg string, fields ...Field) { l.z.Debug(msg, fields...) }

// Info logs an informational message
func (l *FileLogger) Info(msg string, fields ...Field) { l.z.Info(msg, fields...) }

// Warn logs a warning
func (l *FileLogger) Warn(msg string, fields ...Field) { l.z.Warn(msg, fields...) }

// Error logs an error message. A nil err is omitted from the record.
func (l *FileLogger) Error(msg string, err error, fields ...Field) {
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.z.Error(msg, fields...)
}

// With returns a child logger that adds fields to every record.
func (l *FileLogger) With(fields ...Field) Logger {
	return &FileLogger{z: l.z.With(fields...), file: l.file}
}

// Named returns a child logger tagged with the component name.
func (l *FileLogger) Named(component string) Logger {
	return &FileLogger{z: l.z.Named(component), file: l.file}
}

// Close flushes buffered records and closes the log file.
func (l *FileLogger) Close() error {
	_ = l.z.Sync()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// LogPath returns the path to the current log file, or "" when file output is disabled.
func (l *FileLogger) LogPath() string {
	if l.file == nil {
		return ""
	}
	return l.file.currentPath()
}

// PathFor returns the daily log file path for the given directory, prefix and date (YYYY-MM-DD).
func PathFor(dir, prefix, date string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return filepath.Join(dir, fmt.Sprintf("%s-%s.log", prefix, date))
}

func fileEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		MessageKey:     "msg",
		StacktraceKey:  zapcore.OmitKey,
		CallerKey:      zapcore.OmitKey,
		FunctionKey:    zapcore.OmitKey,
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.RFC3339TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeName:     zapcore.FullNameEncoder,
	}
}

func consoleEncoderConfig(color bool) zapcore.EncoderConfig {
	cfg := fileEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	if color {
		cfg.EncodeLevel = coloredLevelEncoder
	}
	return cfg
}

func coloredLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	switch level {
	case zapcore.ErrorLevel:
		enc.AppendString("\033[1;31m" + level.CapitalString() + "\033[0m")
	case zapcore.WarnLevel:
		enc.AppendString("\033[1;33m" + level.CapitalString() + "\033[0m")
	case zapcore.InfoLevel:
		enc.AppendString("\033[1;36m" + level.CapitalString() + "\033[0m")
	default:
		enc.AppendString(level.CapitalString())
	}
}

func shouldColorize(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd())
}
