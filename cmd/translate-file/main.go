// Command translate-file runs the speech translation pipeline on a local
// audio file and prints the result.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/speech-bridge/internal/app"
	"github.com/snarg/speech-bridge/internal/audio"
	"github.com/snarg/speech-bridge/internal/config"
)

func main() {
	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.Provider, "provider", "", "transcription provider (bhashini, openai)")
	flag.DurationVar(&overrides.MaxSegment, "max-segment", 0, "maximum segment duration")
	source := flag.String("from", "hi", "source language code")
	target := flag.String("to", "en", "target language code")
	asJSON := flag.Bool("json", false, "print the full outcome as JSON")
	verbose := flag.Bool("v", false, "log pipeline progress to stderr")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [flags] <audio-file>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}
	path := flag.Arg(0)

	level := zerolog.WarnLevel
	if *verbose {
		level = zerolog.DebugLevel
	}
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger().Level(level)

	cfg, err := config.Load(overrides)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read audio")
	}
	buf, err := audio.NewBuffer(data, filepath.Base(path))
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("invalid audio")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out, err := a.Pipeline.Run(ctx, buf, *source, *target)
	if err != nil {
		log.Fatal().Err(err).Str("file", path).Msg("translation failed")
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(out)
		return
	}
	if out.Degraded {
		log.Warn().Int("failed", out.FailedSegments).Int("segments", out.Segments).Msg("some segments could not be recognized")
	}
	fmt.Println(out.Text)
}
