// Command bg95ctl drives a Quectel BG95 modem over a serial port or a
// serial-to-websocket bridge: network attach, GNSS fixes, HTTP(S)
// requests, ping and NTP, either one-shot from the command line or through
// an HTTP control API.
package main

import (
	"io"
	"log/slog"
	"os"

	console "github.com/phsym/console-slog"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger from the configured level and format.
func newLogger(w io.Writer, config *Config) *slog.Logger {
	logLevel := slog.LevelInfo
	switch config.LogLevel {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	if config.LogFormat == "console" {
		return slog.New(console.NewHandler(w, &console.HandlerOptions{Level: logLevel}))
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel}))
}
