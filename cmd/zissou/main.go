package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/zissou/internal/app"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run returns the process exit code: 0 when every URL finished, 2 when some
// URLs failed or were skipped on shutdown (report.json lists them), 1 when
// the run could not start.
func run(args []string, stdout, stderr io.Writer) int {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339})

	cfg, err := app.LoadConfig("zissou", args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 1
	}
	if cfg.ShowVersion {
		fmt.Fprintf(stdout, "zissou %s (%s, %s)\n", app.BuildVersion, app.BuildCommit, app.BuildDate)
		return 0
	}
	setupLogging(cfg, stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("init app")
		return 1
	}
	defer a.Close()

	report, err := a.Run(ctx)
	switch {
	case errors.Is(err, app.ErrRunsFailed):
		log.Warn().Int("failed", report.Failed).Int("skipped", report.Skipped).Int("total", report.Total).Msg("finished with failures")
		return 2
	case err != nil:
		log.Error().Err(err).Msg("run failed")
		return 1
	}
	log.Info().Int("total", report.Total).Dur("elapsed", report.Elapsed).Msg("finished")
	return 0
}

func setupLogging(cfg app.Config, stderr io.Writer) {
	if cfg.LogJSON {
		log.Logger = zerolog.New(stderr).With().Timestamp().Logger()
	}
	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
