// Package app assembles the provider client, normalizer and pipeline from
// configuration. Both binaries share it.
package app

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/snarg/speech-bridge/internal/audio"
	"github.com/snarg/speech-bridge/internal/config"
	"github.com/snarg/speech-bridge/internal/metrics"
	"github.com/snarg/speech-bridge/internal/pipeline"
	"github.com/snarg/speech-bridge/internal/segment"
	"github.com/snarg/speech-bridge/internal/transcribe"
)

// Provider is a backend able to transcribe segments, translate text and
// synthesize speech.
type Provider interface {
	transcribe.Client
	transcribe.Translator
	transcribe.Synthesizer
}

// App holds the assembled components.
type App struct {
	Provider   Provider
	Normalizer *audio.Normalizer
	Tracker    *metrics.Tracker
	Pipeline   *pipeline.Pipeline
}

// New builds the components described by cfg.
func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}
	opts, err := PipelineOptions(cfg)
	if err != nil {
		return nil, err
	}

	norm := audio.NewNormalizer(cfg.FFmpegPath, cfg.Transcode)
	tracker := metrics.NewTracker()
	pipeLog := log.With().Str("component", "pipeline").Str("provider", provider.Name()).Logger()

	return &App{
		Provider:   provider,
		Normalizer: norm,
		Tracker:    tracker,
		Pipeline:   pipeline.New(provider, norm, opts, tracker, pipeLog),
	}, nil
}

// NewProvider creates the configured provider client.
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.Provider {
	case "bhashini":
		return transcribe.NewBhashiniClient(transcribe.BhashiniConfig{
			UserID:          cfg.Bhashini.UserID,
			ULCAAPIKey:      cfg.Bhashini.ULCAAPIKey,
			InferenceAPIKey: cfg.Bhashini.InferenceAPIKey,
			PipelineID:      cfg.Bhashini.PipelineID,
			ConfigURL:       cfg.Bhashini.ConfigURL,
			Timeout:         cfg.SegmentTimeout,
		}), nil
	case "openai":
		return transcribe.NewOpenAIClient(transcribe.OpenAIConfig{
			APIKey:    cfg.OpenAI.APIKey,
			BaseURL:   cfg.OpenAI.BaseURL,
			Model:     cfg.OpenAI.Model,
			ChatModel: cfg.OpenAI.ChatModel,
			TTSVoice:  cfg.OpenAI.TTSVoice,
		}), nil
	default:
		return nil, fmt.Errorf("unknown STT_PROVIDER %q", cfg.Provider)
	}
}

// PipelineOptions maps configuration onto pipeline options.
func PipelineOptions(cfg *config.Config) (pipeline.Options, error) {
	mode, err := segment.ParseMode(cfg.SegmentMode)
	if err != nil {
		return pipeline.Options{}, err
	}
	return pipeline.Options{
		Segment: segment.Options{
			Mode:               mode,
			MaxSegment:         cfg.MaxSegment,
			SilenceThresholdDB: cfg.SilenceThresholdDB,
			MinSilence:         cfg.MinSilence,
		},
		Dispatch: pipeline.DispatchOptions{
			MaxInFlight:      cfg.MaxInFlight,
			Timeout:          cfg.SegmentTimeout,
			Attempts:         cfg.SegmentAttempts,
			Backoff:          cfg.RetryBackoff,
			RetryUnavailable: cfg.RetryUnavailable,
		},
		MinOverlap: cfg.MinOverlapChars,
	}, nil
}
