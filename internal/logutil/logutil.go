// Package logutil configures the process-wide slog logger the same way
// across every binary in this module (cmd/check, cmd/approvals): a text
// handler on stderr, level from LOKI_LOG_LEVEL or a --log-level flag that
// is stripped from os.Args before the CLI framework (cobra) ever sees it.
package logutil

import (
	"log/slog"
	"os"
	"strings"
)

// Init configures the default slog logger from LOKI_LOG_LEVEL and an
// optional -log-level / --log-level CLI flag (flag wins). It returns args
// with the flag stripped so downstream flag parsers don't choke on it.
func Init(args []string) []string {
	levelStr := os.Getenv("LOKI_LOG_LEVEL")
	if levelStr == "" {
		levelStr = "info"
	}

	var remaining []string
	for i := 0; i < len(args); i++ {
		arg := args[i]

		if strings.HasPrefix(arg, "--log-level=") {
			levelStr = strings.TrimPrefix(arg, "--log-level=")
			continue
		}
		if strings.HasPrefix(arg, "-log-level=") {
			levelStr = strings.TrimPrefix(arg, "-log-level=")
			continue
		}
		if arg == "-log-level" || arg == "--log-level" {
			if i+1 < len(args) {
				levelStr = args[i+1]
				i++
			}
			continue
		}

		remaining = append(remaining, arg)
	}

	var level slog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default: // "info" or anything unrecognized
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))

	return remaining
}
