package scopelog

import (
	"fmt"
	"log/slog"
	"strings"
)

// LevelVerbose sits below debug and is used for high-volume diagnostics.
const LevelVerbose = slog.LevelDebug - 4

// ParseLevel converts a config string to an slog.Level.
// Unknown values are a configuration error and must fail startup.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "verbose":
		return LevelVerbose, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q (want verbose, debug, info, warn or error)", level)
	}
}

// LevelName returns the lowercase name emitted in log records.
func LevelName(level slog.Level) string {
	if level == LevelVerbose {
		return "verbose"
	}

	return strings.ToLower(level.String())
}
