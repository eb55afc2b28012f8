package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/snarg/speech-bridge/internal/api"
	"github.com/snarg/speech-bridge/internal/app"
	"github.com/snarg/speech-bridge/internal/config"
	"github.com/snarg/speech-bridge/internal/metrics"
)

var version = "dev"

func main() {
	startTime := time.Now()

	var overrides config.Overrides
	flag.StringVar(&overrides.EnvFile, "env-file", "", "path to .env file (default .env)")
	flag.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address")
	flag.StringVar(&overrides.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	flag.StringVar(&overrides.Provider, "provider", "", "transcription provider (bhashini, openai)")
	flag.DurationVar(&overrides.MaxSegment, "max-segment", 0, "maximum segment duration")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		os.Stdout.WriteString(version + "\n")
		return
	}

	// Config
	cfg, err := config.Load(overrides)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Str("provider", cfg.Provider).Msg("speech-bridge starting")

	// Context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Pipeline
	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}
	if a.Normalizer.TranscodeAvailable() {
		log.Info().Str("ffmpeg", cfg.FFmpegPath).Msg("transcoding enabled")
	} else {
		log.Warn().Str("ffmpeg", cfg.FFmpegPath).Bool("enabled", cfg.Transcode).Msg("ffmpeg unavailable; only PCM WAV uploads are accepted")
	}
	prometheus.MustRegister(metrics.NewCollector(a.Tracker, a.Normalizer.TranscodeAvailable))

	// HTTP Server
	httpLog := log.With().Str("component", "http").Logger()
	srv := api.NewServer(cfg, api.Deps{
		Pipeline:           a.Pipeline,
		Translator:         a.Provider,
		Synthesizer:        a.Provider,
		Provider:           a.Provider.Name(),
		TranscodeAvailable: a.Normalizer.TranscodeAvailable,
	}, version, startTime, httpLog)

	// Start HTTP server in background
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	// Wait for shutdown signal or server error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	// In-flight requests may be mid-pipeline; give them the segment budget to finish.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.SegmentTimeout+10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("speech-bridge stopped")
}
