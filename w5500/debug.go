package w5500

import (
	"context"
	"log/slog"
)

const levelTrace slog.Level = slog.LevelDebug - 1

func (m *MAC) logerr(msg string, attrs ...slog.Attr) {
	m.logattrs(slog.LevelError, msg, attrs...)
}

func (m *MAC) info(msg string, attrs ...slog.Attr) {
	m.logattrs(slog.LevelInfo, msg, attrs...)
}

func (m *MAC) debug(msg string, attrs ...slog.Attr) {
	m.logattrs(slog.LevelDebug, msg, attrs...)
}

func (m *MAC) trace(msg string, attrs ...slog.Attr) {
	m.logattrs(levelTrace, msg, attrs...)
}

func (m *MAC) logattrs(level slog.Level, msg string, attrs ...slog.Attr) {
	if m.logger == nil {
		return
	}
	m.logger.LogAttrs(context.Background(), level, msg, attrs...)
}
