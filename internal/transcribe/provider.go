package transcribe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Client recognizes one audio segment and translates the result.
type Client interface {
	Transcribe(ctx context.Context, req Request) (*Response, error)
	Name() string // "bhashini", "openai"
}

// Translator translates plain text.
type Translator interface {
	Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error)
}

// Synthesizer turns text into speech audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, lang string) ([]byte, error)
}

// Request is one normalized segment.
type Request struct {
	Audio          []byte // mono 16-bit PCM WAV
	SampleRate     int
	SourceLanguage string
	TargetLanguage string
}

// Response is the common result from any provider.
type Response struct {
	Text       string // translated text in the target language
	SourceText string // recognized text in the source language, if returned
}

// Failure classes reported by clients. Wrap with %w so callers can use errors.Is.
var (
	ErrUnavailable  = errors.New("transcription service unavailable")
	ErrInvalidAudio = errors.New("invalid audio or request")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
)

// Retryable reports whether err belongs to a transient class worth another
// attempt. Validation and auth failures never are.
func Retryable(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUnavailable)
}

// statusError maps an HTTP status to a failure class.
func statusError(provider string, status int, body []byte) error {
	var class error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		class = ErrUnauthorized
	case status == http.StatusTooManyRequests:
		class = ErrRateLimited
	case status >= 500:
		class = ErrUnavailable
	default:
		class = ErrInvalidAudio
	}
	const maxBody = 512
	if len(body) > maxBody {
		body = body[:maxBody]
	}
	return fmt.Errorf("%s API error (status %d): %s: %w", provider, status, string(body), class)
}

// transportError classifies a failed round trip. Context errors are passed
// through unchanged so callers can tell timeouts from outages.
func transportError(ctx context.Context, provider string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s request: %w", provider, ctxErr)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%s request: %v: %w", provider, err, context.DeadlineExceeded)
	}
	return fmt.Errorf("%s request: %v: %w", provider, err, ErrUnavailable)
}
