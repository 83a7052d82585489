package w5500patch

import (
	"context"
	"log/slog"
)

func (t *Transport) warn(msg string, attrs ...slog.Attr) {
	logattrs(t.logger, slog.LevelWarn, msg, attrs...)
}

func (t *Transport) info(msg string, attrs ...slog.Attr) {
	logattrs(t.logger, slog.LevelInfo, msg, attrs...)
}

func logattrs(logger *slog.Logger, level slog.Level, msg string, attrs ...slog.Attr) {
	if logger == nil {
		return
	}
	logger.LogAttrs(context.Background(), level, msg, attrs...)
}
