package logging

import (
	"io"
	"log/slog"
	"strings"

	"github.com/maltedev/price-updater/internal/config"
)

// New builds the process logger. Unknown levels fall back to info and any
// format other than "text" yields JSON.
func New(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(cfg.Format, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
