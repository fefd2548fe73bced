//go:build !cover

// Package main is the entrypoint for the HashMiner HTTP daemon.
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/jsdraven/HashMiner_GoLang/internal/config"
	"github.com/jsdraven/HashMiner_GoLang/internal/entry"
)

func main() {
	cfg := config.Load()
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := entry.Run(ctx, cfg); err != nil {
		os.Exit(1)
	}
}
