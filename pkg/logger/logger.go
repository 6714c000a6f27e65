package logger

import (
	"log/slog"
	"os"
)

// New returns the process-wide structured logger. Output is JSON on stdout;
// call flows are traced through it with call_id and request_id attributes
// rather than separate log files.
func New(appEnv string) *slog.Logger {
	level := slog.LevelInfo
	switch appEnv {
	case "local", "dev":
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}
