package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog logger at the given level. Services and handlers
// take *slog.Logger so tests can swap in slog.New(slog.DiscardHandler).
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
