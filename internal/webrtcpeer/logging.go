package webrtcpeer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// levelTrace sits below slog's debug level.
const levelTrace = slog.LevelDebug - 4

// LoggerFactory hands pion components slog-backed loggers tagged with their
// scope ("ice", "dtls", "pc", ...).
type LoggerFactory struct {
	log *slog.Logger
	min slog.Level
}

func NewLoggerFactory(logger *slog.Logger, min slog.Level) *LoggerFactory {
	return &LoggerFactory{log: logger, min: min}
}

func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &leveledLogger{log: f.log.With("scope", scope), min: f.min}
}

type leveledLogger struct {
	log *slog.Logger
	min slog.Level
}

func (l *leveledLogger) emit(level slog.Level, msg string) {
	if level < l.min {
		return
	}
	l.log.Log(context.Background(), level, msg)
}

func (l *leveledLogger) emitf(level slog.Level, format string, args ...interface{}) {
	if level < l.min {
		return
	}
	l.log.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *leveledLogger) Trace(msg string)                          { l.emit(levelTrace, msg) }
func (l *leveledLogger) Tracef(format string, args ...interface{}) { l.emitf(levelTrace, format, args...) }
func (l *leveledLogger) Debug(msg string)                          { l.emit(slog.LevelDebug, msg) }
func (l *leveledLogger) Debugf(format string, args ...interface{}) { l.emitf(slog.LevelDebug, format, args...) }
func (l *leveledLogger) Info(msg string)                           { l.emit(slog.LevelInfo, msg) }
func (l *leveledLogger) Infof(format string, args ...interface{})  { l.emitf(slog.LevelInfo, format, args...) }
func (l *leveledLogger) Warn(msg string)                           { l.emit(slog.LevelWarn, msg) }
func (l *leveledLogger) Warnf(format string, args ...interface{})  { l.emitf(slog.LevelWarn, format, args...) }
func (l *leveledLogger) Error(msg string)                          { l.emit(slog.LevelError, msg) }
func (l *leveledLogger) Errorf(format string, args ...interface{}) { l.emitf(slog.LevelError, format, args...) }
