// Package logging configures the daemon's structured logger. Every
// subsystem logs through the default slog.Logger rather than carrying a
// logger reference of its own, since the daemon has exactly one stderr
// sink for its whole lifetime.
package logging

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
)

// Setup installs a JSON (or text, when format is "text") handler on
// os.Stderr at the given level as the default logger. Responses and
// results go to stdout over the protocol transport; logs never share that
// stream.
func Setup(level, format string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	switch strings.ToLower(format) {
	case "", "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("logging: unrecognized format %q (want json or text)", format)
	}

	slog.SetDefault(slog.New(handler))
	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("logging: unrecognized level %q (want debug, info, warn, or error)", level)
	}
}
