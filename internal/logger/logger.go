// Package logger provides the kernel's single structured-logging entry
// point. Every subsystem logs through here instead of fmt.Println, at a
// severity configurable independently of the Go build.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Severity names accepted in cfg.LoggingConfig.Severity.
const (
	SeverityTrace   = "TRACE"
	SeverityDebug   = "DEBUG"
	SeverityInfo    = "INFO"
	SeverityWarning = "WARNING"
	SeverityError   = "ERROR"
	SeverityOff     = "OFF"
)

// slog only defines Debug/Info/Warn/Error; Trace and Off are kernel
// extensions slotted below/above that range.
const (
	LevelTrace slog.Level = slog.LevelDebug - 4
	LevelDebug            = slog.LevelDebug
	LevelInfo             = slog.LevelInfo
	LevelWarn             = slog.LevelWarn
	LevelError            = slog.LevelError
	LevelOff   slog.Level = slog.LevelError + 4
)

// RotateConfig mirrors the knobs lumberjack.Logger exposes.
type RotateConfig struct {
	MaxFileSizeMB   int
	BackupFileCount int
	Compress        bool
}

// Config is the subset of cfg.Config the logger needs; kept separate so
// this package has no import-cycle with cfg.
type Config struct {
	Severity string
	Format   string // "text" or "json"
	FilePath string
	Rotate   RotateConfig
}

type loggerFactory struct {
	level     string
	format    string
	file      *lumberjack.Logger
	sysWriter io.Writer
	rotate    RotateConfig
}

var (
	defaultLoggerFactory = &loggerFactory{level: SeverityInfo, format: "json", sysWriter: os.Stderr}
	programLevel         = new(slog.LevelVar)
	defaultLogger         = slog.New(defaultLoggerFactory.handler(os.Stderr, programLevel, ""))
)

func (f *loggerFactory) handler(w io.Writer, lvl *slog.LevelVar, prefix string) slog.Handler {
	opts := &slog.HandlerOptions{
		Level: lvl,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				a.Key = "severity"
				a.Value = slog.StringValue(severityName(a.Value.Any().(slog.Level)))
			}
			if a.Key == slog.MessageKey && prefix != "" {
				a.Value = slog.StringValue(prefix + a.Value.String())
			}
			return a
		},
	}
	if f.format == "text" {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

func severityName(l slog.Level) string {
	switch {
	case l <= LevelTrace:
		return "TRACE"
	case l < LevelInfo:
		return "DEBUG"
	case l < LevelWarn:
		return "INFO"
	case l < LevelError:
		return "WARNING"
	default:
		return "ERROR"
	}
}

func setLoggingLevel(severity string, lvl *slog.LevelVar) {
	switch severity {
	case SeverityTrace:
		lvl.Set(LevelTrace)
	case SeverityDebug:
		lvl.Set(LevelDebug)
	case SeverityWarning:
		lvl.Set(LevelWarn)
	case SeverityError:
		lvl.Set(LevelError)
	case SeverityOff:
		lvl.Set(LevelOff)
	default:
		lvl.Set(LevelInfo)
	}
}

// SetLogFormat switches the default logger between "text" and "json".
func SetLogFormat(format string) {
	defaultLoggerFactory.format = format
	w := defaultLoggerFactory.sysWriter
	if defaultLoggerFactory.file != nil {
		w = defaultLoggerFactory.file
	}
	defaultLogger = slog.New(defaultLoggerFactory.handler(w, programLevel, ""))
}

// InitLogFile redirects kernel logging to a rotated file on disk.
func InitLogFile(cfg Config) error {
	setLoggingLevel(cfg.Severity, programLevel)
	defaultLoggerFactory.level = cfg.Severity
	defaultLoggerFactory.rotate = cfg.Rotate
	if cfg.FilePath == "" {
		return nil
	}
	lj := &lumberjack.Logger{
		Filename: cfg.FilePath,
		MaxSize:  cfg.Rotate.MaxFileSizeMB,
		MaxBackups: cfg.Rotate.BackupFileCount,
		Compress: cfg.Rotate.Compress,
	}
	defaultLoggerFactory.file = lj
	format := cfg.Format
	if format == "" {
		format = "json"
	}
	defaultLoggerFactory.format = format
	defaultLogger = slog.New(defaultLoggerFactory.handler(lj, programLevel, ""))
	return nil
}

func Tracef(format string, args ...any) {
	defaultLogger.Log(context.Background(), LevelTrace, sprintf(format, args...))
}
func Debugf(format string, args ...any) { defaultLogger.Debug(sprintf(format, args...)) }
func Infof(format string, args ...any)  { defaultLogger.Info(sprintf(format, args...)) }
func Warnf(format string, args ...any)  { defaultLogger.Warn(sprintf(format, args...)) }
func Errorf(format string, args ...any) { defaultLogger.Error(sprintf(format, args...)) }

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
