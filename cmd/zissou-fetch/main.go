// Command zissou-fetch shows what the fetch, extraction and archive stages
// make of a URL without synthesizing audio. It accepts the same flags as
// zissou.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/zissou/internal/app"
	"github.com/hyperifyio/zissou/internal/failure"
	"github.com/hyperifyio/zissou/internal/pipeline"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: stderr, TimeFormat: time.RFC3339})

	cfg, err := app.LoadConfig("zissou-fetch", args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		log.Error().Err(err).Msg("invalid configuration")
		return 1
	}
	cfg.TextOnly = true
	if !cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("init app")
		return 1
	}
	defer a.Close()

	code := 0
	for _, u := range cfg.URLs {
		res, err := a.Inspect(ctx, u)
		printSummary(stdout, res, err)
		if cfg.LogJSON {
			enc := json.NewEncoder(stdout)
			enc.SetIndent("", "  ")
			_ = enc.Encode(res)
		}
		if err != nil {
			code = 2
		}
	}
	return code
}

func printSummary(w io.Writer, res *pipeline.Result, err error) {
	fmt.Fprintf(w, "%s\n", res.URL)
	if err != nil {
		fmt.Fprintf(w, "  error: %s (%s)\n", err, failure.CodeOf(err))
	}
	if res.Title != "" {
		fmt.Fprintf(w, "  title: %s\n", res.Title)
	}
	fmt.Fprintf(w, "  via: %s  engine: %s  chars: %d  reading: %d min\n",
		res.FetchedVia, res.Engine, len([]rune(res.Text)), res.ReadingTimeMinutes)
	for _, at := range res.EngineAttempts {
		line := fmt.Sprintf("  - %-12s %-9s %6d chars %v", at.Engine, at.Status, at.Chars, at.Elapsed.Round(time.Millisecond))
		if at.Error != "" {
			line += "  " + at.Error
		}
		fmt.Fprintln(w, line)
	}
	if res.ArchiveAttempted {
		fmt.Fprintf(w, "  archive: snapshot=%q error=%q\n", res.ArchiveSnapshotURL, res.ArchiveError)
	}
	for _, ph := range res.Phases {
		fmt.Fprintf(w, "  %-11s %v %s\n", ph.Phase, ph.Elapsed.Round(time.Millisecond), ph.Code)
	}
}
