// Command mailportal manages a webmail portal account from the terminal:
// login, profile, password and mail client settings.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"mailportal/internal/apperr"
)

const (
	envLocal = "local"
	envDev   = "dev"
	envProd  = "prod"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		msg := apperr.UserMessage(err)
		if msg == apperr.GenericMessage {
			msg = fmt.Sprintf("%s (%v)", msg, err)
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", msg)
		os.Exit(1)
	}
}

// setupLogger writes to w so command output on stdout stays clean.
func setupLogger(env string, w io.Writer) *slog.Logger {
	var log *slog.Logger

	switch env {
	case envLocal:
		log = slog.New(
			slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envDev:
		log = slog.New(
			slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}),
		)
	case envProd:
		log = slog.New(
			slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	default:
		log = slog.New(
			slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo}),
		)
	}
	return log
}
