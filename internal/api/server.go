package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/snarg/speech-bridge/internal/config"
	"github.com/snarg/speech-bridge/internal/metrics"
	"github.com/snarg/speech-bridge/internal/transcribe"
)

// Deps are the collaborators the HTTP layer needs.
type Deps struct {
	Pipeline           PipelineRunner
	Translator         transcribe.Translator
	Synthesizer        transcribe.Synthesizer
	Provider           string
	TranscodeAvailable func() bool
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, deps Deps, version string, startTime time.Time, log zerolog.Logger) *Server {
	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      NewRouter(cfg, deps, version, startTime, log),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

// NewRouter builds the HTTP handler tree.
func NewRouter(cfg *config.Config, deps Deps, version string, startTime time.Time, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORSWithOrigins(cfg.CORSOrigins))
	r.Use(metrics.InstrumentHandler)

	health := NewHealthHandler(deps.Provider, deps.TranscodeAvailable, version, startTime)
	translate := NewTranslateHandler(deps.Pipeline, deps.Translator, deps.Synthesizer, cfg.MaxUploadMB<<20, log)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", health.ServeHTTP)
		translate.Routes(r)
	})

	// Unversioned paths used by existing frontends.
	r.Post("/asr_nmt", translate.ASRNMT)
	r.Post("/translate", translate.Translate)
	r.Post("/tts", translate.TTS)

	return r
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
