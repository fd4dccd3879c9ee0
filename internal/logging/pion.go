package logging

import (
	"context"
	"fmt"
	"log/slog"

	pionlog "github.com/pion/logging"
)

// LevelTrace sits below debug; pion's ICE and DTLS trace output lands here.
const LevelTrace = slog.LevelDebug - 4

// PionFactory routes pion's scoped loggers into l. Every record carries the
// pion scope ("ice", "dtls", "pc", ...) as the "scope" attribute.
func PionFactory(l *slog.Logger) pionlog.LoggerFactory {
	if l == nil {
		l = slog.Default()
	}
	return &pionFactory{log: l}
}

type pionFactory struct {
	log *slog.Logger
}

func (f *pionFactory) NewLogger(scope string) pionlog.LeveledLogger {
	return &pionLogger{log: f.log.With("scope", scope)}
}

type pionLogger struct {
	log *slog.Logger
}

func (p *pionLogger) emit(level slog.Level, msg string) {
	p.log.Log(context.Background(), level, msg)
}

func (p *pionLogger) emitf(level slog.Level, format string, args ...any) {
	if !p.log.Enabled(context.Background(), level) {
		return
	}
	p.log.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (p *pionLogger) Trace(msg string) { p.emit(LevelTrace, msg) }
func (p *pionLogger) Tracef(format string, args ...any) { p.emitf(LevelTrace, format, args...) }
func (p *pionLogger) Debug(msg string) { p.emit(slog.LevelDebug, msg) }
func (p *pionLogger) Debugf(format string, args ...any) { p.emitf(slog.LevelDebug, format, args...) }
func (p *pionLogger) Info(msg string) { p.emit(slog.LevelInfo, msg) }
func (p *pionLogger) Infof(format string, args ...any) { p.emitf(slog.LevelInfo, format, args...) }
func (p *pionLogger) Warn(msg string) { p.emit(slog.LevelWarn, msg) }
func (p *pionLogger) Warnf(format string, args ...any) { p.emitf(slog.LevelWarn, format, args...) }
func (p *pionLogger) Error(msg string) { p.emit(slog.LevelError, msg) }
func (p *pionLogger) Errorf(format string, args ...any) { p.emitf(slog.LevelError, format, args...) }
