package api

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/snarg/speech-bridge/internal/audio"
	"github.com/snarg/speech-bridge/internal/pipeline"
	"github.com/snarg/speech-bridge/internal/transcribe"
)

// PipelineRunner runs the speech translation pipeline on one upload.
type PipelineRunner interface {
	Run(ctx context.Context, buf *audio.Buffer, source, target string) (*pipeline.Outcome, error)
}

// TranslateHandler serves speech and text translation.
type TranslateHandler struct {
	runner     PipelineRunner
	translator transcribe.Translator
	synth      transcribe.Synthesizer
	maxUpload  int64
	log        zerolog.Logger
}

// defaultMaxUpload applies when no upload limit is configured.
const defaultMaxUpload = 64 << 20

// NewTranslateHandler creates a new translate handler. translator and synth
// may be nil if the provider lacks them; their routes then answer 501.
// Uploads are capped at maxUpload bytes and held entirely in memory.
func NewTranslateHandler(runner PipelineRunner, translator transcribe.Translator, synth transcribe.Synthesizer, maxUpload int64, log zerolog.Logger) *TranslateHandler {
	if maxUpload <= 0 {
		maxUpload = defaultMaxUpload
	}
	return &TranslateHandler{
		runner:     runner,
		translator: translator,
		synth:      synth,
		maxUpload:  maxUpload,
		log:        log.With().Str("handler", "translate").Logger(),
	}
}

// Routes registers the translation endpoints.
func (h *TranslateHandler) Routes(r chi.Router) {
	r.Post("/asr-nmt", h.ASRNMT)
	r.Post("/translate", h.Translate)
	r.Post("/tts", h.TTS)
	r.Get("/languages", h.Languages)
}

// ASRNMTResponse is the result of a speech translation.
type ASRNMTResponse struct {
	TranslatedText string `json:"translated_text"`
	Degraded       bool   `json:"degraded"`
	Segments       int    `json:"segments"`
	FailedSegments int    `json:"failed_segments"`
	RunID          string `json:"run_id"`
}

// ASRNMT handles POST /api/v1/asr-nmt.
// Multipart fields: audio_file, source_language, target_language.
func (h *TranslateHandler) ASRNMT(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	// The whole body fits in maxMemory, so no part spills to a temp file.
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			WriteErrorDetail(w, http.StatusRequestEntityTooLarge, "upload_too_large", err.Error())
			return
		}
		WriteErrorDetail(w, http.StatusBadRequest, "invalid_request", "invalid multipart form: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	source := strings.TrimSpace(r.FormValue("source_language"))
	target := strings.TrimSpace(r.FormValue("target_language"))

	// Languages are checked before the upload is decoded.
	if err := pipeline.ValidateLanguages(source, target); err != nil {
		h.writePipelineError(w, err)
		return
	}

	file, header, err := r.FormFile("audio_file")
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid_request", "missing audio_file")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid_request", "failed to read audio_file")
		return
	}
	buf, err := audio.NewBuffer(data, header.Filename)
	if err != nil {
		WriteErrorDetail(w, http.StatusUnprocessableEntity, string(pipeline.KindSegmentationFailure), err.Error())
		return
	}

	out, err := h.runner.Run(r.Context(), buf, source, target)
	if err != nil {
		h.writePipelineError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, ASRNMTResponse{
		TranslatedText: out.Text,
		Degraded:       out.Degraded,
		Segments:       out.Segments,
		FailedSegments: out.FailedSegments,
		RunID:          out.RunID,
	})
}

// TextRequest is the body of /translate and /tts.
type TextRequest struct {
	Text           string `json:"text"`
	SourceLanguage string `json:"source_language"`
	TargetLanguage string `json:"target_language"`
}

type TranslateResponse struct {
	TranslatedText string `json:"translated_text"`
}

type TTSResponse struct {
	TranslatedText string `json:"translated_text"`
	AudioBase64    string `json:"audio_base64"`
}

// Translate handles POST /api/v1/translate.
func (h *TranslateHandler) Translate(w http.ResponseWriter, r *http.Request) {
	if h.translator == nil {
		WriteError(w, http.StatusNotImplemented, "text translation not supported by provider")
		return
	}
	req, ok := h.decodeText(w, r)
	if !ok {
		return
	}

	text, err := h.translate(r.Context(), req)
	if err != nil {
		h.writeUpstreamError(w, err, "translate")
		return
	}
	WriteJSON(w, http.StatusOK, TranslateResponse{TranslatedText: text})
}

// TTS handles POST /api/v1/tts: translate, then synthesize in the target language.
func (h *TranslateHandler) TTS(w http.ResponseWriter, r *http.Request) {
	if h.translator == nil || h.synth == nil {
		WriteError(w, http.StatusNotImplemented, "speech synthesis not supported by provider")
		return
	}
	req, ok := h.decodeText(w, r)
	if !ok {
		return
	}

	text, err := h.translate(r.Context(), req)
	if err != nil {
		h.writeUpstreamError(w, err, "translate")
		return
	}
	speech, err := h.synth.Synthesize(r.Context(), text, req.TargetLanguage)
	if err != nil {
		h.writeUpstreamError(w, err, "synthesize")
		return
	}
	WriteJSON(w, http.StatusOK, TTSResponse{
		TranslatedText: text,
		AudioBase64:    base64.StdEncoding.EncodeToString(speech),
	})
}

// Languages handles GET /api/v1/languages.
func (h *TranslateHandler) Languages(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{"languages": pipeline.Languages()})
}

func (h *TranslateHandler) decodeText(w http.ResponseWriter, r *http.Request) (TextRequest, bool) {
	var req TextRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid_request", "invalid JSON body: "+err.Error())
		return req, false
	}
	if err := pipeline.ValidateLanguages(req.SourceLanguage, req.TargetLanguage); err != nil {
		h.writePipelineError(w, err)
		return req, false
	}
	if strings.TrimSpace(req.Text) == "" {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid_request", "text is required")
		return req, false
	}
	return req, true
}

func (h *TranslateHandler) translate(ctx context.Context, req TextRequest) (string, error) {
	if req.SourceLanguage == req.TargetLanguage {
		return strings.TrimSpace(req.Text), nil
	}
	return h.translator.Translate(ctx, req.Text, req.SourceLanguage, req.TargetLanguage)
}

// writePipelineError maps a pipeline error kind to an HTTP status.
func (h *TranslateHandler) writePipelineError(w http.ResponseWriter, err error) {
	var pe *pipeline.Error
	if !errors.As(err, &pe) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			WriteErrorDetail(w, http.StatusGatewayTimeout, string(pipeline.KindTimeout), "request cancelled before completion")
			return
		}
		h.log.Error().Err(err).Msg("pipeline failed")
		WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	WriteErrorDetail(w, kindStatus(pe.Kind), string(pe.Kind), pe.Message)
}

func kindStatus(k pipeline.Kind) int {
	switch k {
	case pipeline.KindInvalidLanguage:
		return http.StatusBadRequest
	case pipeline.KindSegmentationFailure:
		return http.StatusUnprocessableEntity
	case pipeline.KindAllSegmentsFailed:
		return http.StatusBadGateway
	case pipeline.KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeUpstreamError maps a provider failure class to an HTTP status.
func (h *TranslateHandler) writeUpstreamError(w http.ResponseWriter, err error, op string) {
	status, kind := http.StatusBadGateway, "upstream_unavailable"
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, kind = http.StatusGatewayTimeout, string(pipeline.KindTimeout)
	case errors.Is(err, transcribe.ErrRateLimited):
		status, kind = http.StatusTooManyRequests, "upstream_rate_limited"
	case errors.Is(err, transcribe.ErrInvalidAudio):
		status, kind = http.StatusUnprocessableEntity, "upstream_rejected"
	}
	h.log.Warn().Err(err).Str("op", op).Int("status", status).Msg("provider call failed")
	WriteErrorDetail(w, status, kind, op+" failed")
}
