// Package main is the HashMiner command line: it searches round after round
// for a string whose SHA-256, appended to a seed, starts with a hex prefix.
//
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/jsdraven/HashMiner_GoLang/internal/config"
	"github.com/jsdraven/HashMiner_GoLang/internal/logging"
	"github.com/jsdraven/HashMiner_GoLang/internal/metrics"
	"github.com/jsdraven/HashMiner_GoLang/internal/rounds"
	"github.com/jsdraven/HashMiner_GoLang/pkg/mining"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newApp(config.Load()).RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp(cfg *config.Config) *cli.App {
	return &cli.App{
		Name:  "miner",
		Usage: "find a suffix whose SHA-256 starts with a hex prefix",
		Flags: []cli.Flag{
			beginFlag(cfg), charsetFlag(cfg), expectedFlag(cfg),
			&cli.IntFlag{
				Name:    "workers",
				Aliases: []string{"w"},
				Usage:   "searches kept in flight",
				Value:   cfg.Workers,
				EnvVars: []string{"MINE_WORKERS"},
			},
			&cli.Uint64Flag{
				Name:    "round",
				Aliases: []string{"r"},
				Usage:   "indices per round",
				Value:   cfg.RoundSize,
				EnvVars: []string{"MINE_ROUND"},
			},
			&cli.StringFlag{
				Name:    "metrics-addr",
				Usage:   "serve Prometheus metrics on `ADDR` while mining",
				EnvVars: []string{"MINE_METRICS_ADDR"},
			},
		},
		Action: func(c *cli.Context) error { return mine(c, cfg) },
		Commands: []*cli.Command{
			{
				Name:      "encode",
				Usage:     "print the candidate at an index",
				ArgsUsage: "INDEX",
				Flags:     []cli.Flag{charsetFlag(cfg)},
				Action:    encode,
			},
			{
				Name:      "verify",
				Usage:     "check that seed+candidate hashes to the expected prefix",
				ArgsUsage: "CANDIDATE",
				Flags:     []cli.Flag{beginFlag(cfg), expectedFlag(cfg)},
				Action:    verify,
			},
		},
	}
}

func beginFlag(cfg *config.Config) cli.Flag {
	return &cli.StringFlag{
		Name:    "begin",
		Aliases: []string{"b"},
		Usage:   "seed string the candidate is appended to",
		Value:   cfg.Seed,
		EnvVars: []string{"MINE_SEED"},
	}
}

func charsetFlag(cfg *config.Config) cli.Flag {
	return &cli.StringFlag{
		Name:    "set-characters",
		Aliases: []string{"s"},
		Usage:   "alphabet candidates are built from",
		Value:   cfg.Alphabet,
		EnvVars: []string{"MINE_ALPHABET"},
	}
}

func expectedFlag(cfg *config.Config) cli.Flag {
	return &cli.StringFlag{
		Name:    "expected",
		Aliases: []string{"e"},
		Usage:   "lowercase hex prefix the digest must start with",
		Value:   cfg.Target,
		EnvVars: []string{"MINE_TARGET"},
	}
}

// mine runs the round driver until a match, an interrupt or an error.
func mine(c *cli.Context, cfg *config.Config) error {
	var out io.Writer = c.App.ErrWriter
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		out = f
	}
	logger := logging.New(cfg, out)

	var rec *metrics.Recorder
	if addr := c.String("metrics-addr"); addr != "" {
		rec = metrics.New()
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("metrics listener: %w", err)
		}
		srv := &http.Server{Handler: rec.Handler(), ReadHeaderTimeout: cfg.ReadHeaderTimeout}
		go func() { _ = srv.Serve(ln) }()
		defer srv.Close()
		logger.Info("metrics_listening", "addr", ln.Addr().String())
	}

	d := &rounds.Driver{
		Seed:      c.String("begin"),
		Alphabet:  c.String("set-characters"),
		Target:    c.String("expected"),
		RoundSize: c.Uint64("round"),
		Workers:   c.Int("workers"),
		Logger:    logger,
		Budget:    mining.NewBudget(cfg.ScratchLimit),
	}
	if rec != nil {
		d.Observer = rec
	}

	sol, err := d.Run(c.Context)
	switch {
	case errors.Is(err, context.Canceled):
		logger.Info("interrupted")
		return cli.Exit("interrupted", 130)
	case err != nil:
		return err
	}

	fmt.Fprintf(c.App.Writer, "%s%s\n%s\n", d.Seed, sol.Candidate, sol.Digest)
	logger.Info("done",
		"index", sol.Index,
		"round", sol.Round,
		"hashes", sol.Hashes,
		"elapsed", sol.Elapsed.Round(time.Millisecond).String())
	return nil
}

func encode(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("encode takes exactly one INDEX", 2)
	}
	index, err := strconv.ParseUint(c.Args().First(), 10, 64)
	if err != nil {
		return cli.Exit(fmt.Sprintf("bad INDEX: %v", err), 2)
	}
	alphabet := c.String("set-characters")
	if err := mining.Validate(alphabet, 0, 0, ""); err != nil {
		return cli.Exit(err.Error(), 2)
	}
	fmt.Fprintln(c.App.Writer, mining.Candidate(index, alphabet))
	return nil
}

func verify(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("verify takes exactly one CANDIDATE", 2)
	}
	digest, ok := mining.Verify([]byte(c.String("begin")), c.Args().First(), c.String("expected"))
	fmt.Fprintln(c.App.Writer, digest)
	if !ok {
		return cli.Exit("digest does not start with "+c.String("expected"), 1)
	}
	return nil
}
