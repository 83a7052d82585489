package spibus

import (
	"context"
	"log/slog"
)

// levelTrace is used for per-transaction logs.
const levelTrace slog.Level = slog.LevelDebug - 1

func (b *Bus) debug(msg string, attrs ...slog.Attr) {
	b.logattrs(slog.LevelDebug, msg, attrs...)
}

func (b *Bus) trace(msg string, attrs ...slog.Attr) {
	b.logattrs(levelTrace, msg, attrs...)
}

func (b *Bus) traceEnabled() bool {
	return b.logger != nil && b.logger.Handler().Enabled(context.Background(), levelTrace)
}

func (b *Bus) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if b.logger == nil {
		return
	}
	b.logger.LogAttrs(context.Background(), level, msg, attrs...)
}
