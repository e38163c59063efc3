// logging.go -- Client logger options and PII redaction.
package oauth

import (
	"context"
	"log/slog"
)

const redacted = "[redacted]"

// LoggerOptions controls what the client logs.
// Logger defaults to slog.Default(). PII (usernames, account ids, codes) is
// redacted unless PIIEnabled is set.
type LoggerOptions struct {
	Logger     *slog.Logger
	Level      slog.Level
	PIIEnabled bool
}

// clientLogger filters by Level before handing records to the underlying logger.
type clientLogger struct {
	log   *slog.Logger
	level slog.Level
	pii   bool
}

func newClientLogger(opts LoggerOptions) *clientLogger {
	l := opts.Logger
	if l == nil {
		l = slog.Default()
	}
	return &clientLogger{log: l.With("component", "oauth"), level: opts.Level, pii: opts.PIIEnabled}
}

func (l *clientLogger) debug(msg string, args ...any) { l.emit(slog.LevelDebug, msg, args) }
func (l *clientLogger) info(msg string, args ...any)  { l.emit(slog.LevelInfo, msg, args) }
func (l *clientLogger) warn(msg string, args ...any)  { l.emit(slog.LevelWarn, msg, args) }

func (l *clientLogger) emit(level slog.Level, msg string, args []any) {
	if level < l.level {
		return
	}
	l.log.Log(context.Background(), level, msg, args...)
}

// piiAttr returns key=val when PII logging is enabled, key=[redacted] otherwise.
func (l *clientLogger) piiAttr(key, val string) slog.Attr {
	if !l.pii {
		return slog.String(key, redacted)
	}
	return slog.String(key, val)
}
