package logger

import (
	"log/slog"
	"os"

	"apiguard/internal/platform/config"
)

// New returns the process logger: JSON in production (for log shippers),
// text elsewhere.
func New(env config.Env) *slog.Logger {
	if env == config.EnvProduction {
		return slog.New(slog.NewJSONHandler(os.Stdout, nil))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
}
