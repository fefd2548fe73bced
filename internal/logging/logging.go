// Package logging provides the application logger and the HTTP request
// logging middleware.
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/jsdraven/HashMiner_GoLang/internal/config"
)

// New builds a JSON slog.Logger at cfg.LogLevel.
//
// Output goes to the first writer in w when given (tests), otherwise to
// cfg.LogFile, otherwise to stdout. A log file that cannot be opened falls
// back to stderr.
func New(cfg *config.Config, w ...io.Writer) *slog.Logger {
	var output io.Writer = os.Stdout

	switch {
	case len(w) > 0 && w[0] != nil:
		output = w[0]
	case cfg != nil && cfg.LogFile != "":
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			slog.Error("Failed to open log file, falling back to stderr", "error", err, "path", cfg.LogFile)
			output = os.Stderr
		} else {
			output = f
		}
	}

	level := slog.LevelInfo
	if cfg != nil {
		level = cfg.LogLevel
	}

	return slog.New(slog.NewJSONHandler(output, &slog.HandlerOptions{Level: level}))
}

// Discard returns a logger that drops everything.
func Discard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}
