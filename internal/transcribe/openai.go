package transcribe

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"
)

// OpenAIConfig configures an OpenAI-compatible audio backend. BaseURL may
// point at a self-hosted server exposing the same routes.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string // audio model, e.g. "whisper-1"
	ChatModel string // used for non-English targets and text translation
	TTSVoice  string
}

// OpenAIClient uses the audio translation endpoint for English targets and
// transcription followed by a chat translation otherwise.
// Implements Client, Translator and Synthesizer.
type OpenAIClient struct {
	client    *openai.Client
	model     string
	chatModel string
	voice     string
}

// NewOpenAIClient creates a new OpenAI client.
func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	voice := cfg.TTSVoice
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}
	return &OpenAIClient{
		client:    openai.NewClientWithConfig(oc),
		model:     model,
		chatModel: cfg.ChatModel,
		voice:     voice,
	}
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string { return "openai" }

// Transcribe recognizes one WAV segment and returns it in the target language.
func (c *OpenAIClient) Transcribe(ctx context.Context, req Request) (*Response, error) {
	if len(req.Audio) == 0 {
		return nil, fmt.Errorf("empty audio segment: %w", ErrInvalidAudio)
	}

	audioReq := openai.AudioRequest{
		Model:    c.model,
		FilePath: "segment.wav",
		Reader:   bytes.NewReader(req.Audio),
		Format:   openai.AudioResponseFormatJSON,
	}

	if req.TargetLanguage == "en" {
		out, err := c.client.CreateTranslation(ctx, audioReq)
		if err != nil {
			return nil, c.classify(ctx, err)
		}
		return &Response{Text: strings.TrimSpace(out.Text)}, nil
	}

	if len(req.SourceLanguage) == 2 {
		audioReq.Language = req.SourceLanguage
	}
	out, err := c.client.CreateTranscription(ctx, audioReq)
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	source := strings.TrimSpace(out.Text)
	if source == "" || req.TargetLanguage == req.SourceLanguage {
		return &Response{Text: source, SourceText: source}, nil
	}

	translated, err := c.Translate(ctx, source, req.SourceLanguage, req.TargetLanguage)
	if err != nil {
		return nil, err
	}
	return &Response{Text: translated, SourceText: source}, nil
}

// Translate asks the chat model for a plain translation.
func (c *OpenAIClient) Translate(ctx context.Context, text, sourceLang, targetLang string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.chatModel,
		Messages: []openai.ChatCompletionMessage{
			{
				Role: openai.ChatMessageRoleSystem,
				Content: fmt.Sprintf(
					"Translate the user's text from language code %q to language code %q. Reply with the translation only.",
					sourceLang, targetLang),
			},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return "", c.classify(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty chat response: %w", ErrUnavailable)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Synthesize returns WAV speech for text. The language is implied by the text.
func (c *OpenAIClient) Synthesize(ctx context.Context, text, _ string) ([]byte, error) {
	resp, err := c.client.CreateSpeech(ctx, openai.CreateSpeechRequest{
		Model:          openai.TTSModel1,
		Input:          text,
		Voice:          openai.SpeechVoice(c.voice),
		ResponseFormat: openai.SpeechResponseFormatWav,
	})
	if err != nil {
		return nil, c.classify(ctx, err)
	}
	defer resp.Close()

	data, err := io.ReadAll(resp)
	if err != nil {
		return nil, transportError(ctx, "openai", err)
	}
	return data, nil
}

// classify maps go-openai errors onto the shared failure classes.
func (c *OpenAIClient) classify(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return statusError("openai", apiErr.HTTPStatusCode, []byte(apiErr.Message))
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return statusError("openai", reqErr.HTTPStatusCode, []byte(reqErr.Error()))
	}
	return transportError(ctx, "openai", err)
}
