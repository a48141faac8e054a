package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/vocalize-voice-lab/internal/config"
)

// Provider is the generative-AI service behind the relay: speech-to-text on
// audio and text generation on a prompt.
type Provider interface {
	Name() string
	Transcribe(ctx context.Context, data []byte, mimeType, instruction string) (string, error)
	Generate(ctx context.Context, prompt string) (string, error)
}

var (
	ErrPermanent = errors.New("permanent error")
	ErrTransient = errors.New("transient error")
	// ErrEmptyResponse is returned when the provider answered with no text.
	ErrEmptyResponse = errors.New("empty response")
)

// New builds the provider selected by cfg.Kind.
func New(ctx context.Context, cfg config.ProviderConfig) (Provider, error) {
	switch strings.ToLower(cfg.Kind) {
	case "gemini", "":
		return NewGemini(ctx, GeminiOptions{APIKey: cfg.GeminiAPIKey, Model: cfg.GeminiModel})
	case "openai":
		return &OpenAI{
			BaseURL:            strings.TrimRight(cfg.OpenAIBaseURL, "/"),
			APIKey:             cfg.OpenAIAPIKey,
			Model:              cfg.OpenAIModel,
			FallbackModel:      cfg.OpenAIFallbackModel,
			TranscriptionModel: cfg.TranscriptionModel,
			MaxTokens:          cfg.MaxTokens,
			HTTP:               &http.Client{Timeout: cfg.GetTimeout()},
		}, nil
	default:
		return nil, fmt.Errorf("unknown provider kind %q", cfg.Kind)
	}
}

// classifyStatus maps an HTTP status to the permanent/transient taxonomy.
// 5xx and 429 are worth a retry, other 4xx are not.
func classifyStatus(status int) error {
	if status >= 500 || status == http.StatusTooManyRequests {
		return ErrTransient
	}
	return ErrPermanent
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient) || errors.Is(err, context.DeadlineExceeded)
}

// Recorder receives one observation per provider call.
type Recorder interface {
	RecordProvider(provider, operation string, seconds float64, err error)
}

type instrumented struct {
	next Provider
	rec  Recorder
}

// Instrument wraps p so every call is reported to rec.
func Instrument(p Provider, rec Recorder) Provider {
	if rec == nil {
		return p
	}
	return &instrumented{next: p, rec: rec}
}

func (i *instrumented) Name() string { return i.next.Name() }

func (i *instrumented) Transcribe(ctx context.Context, data []byte, mimeType, instruction string) (string, error) {
	start := time.Now()
	text, err := i.next.Transcribe(ctx, data, mimeType, instruction)
	i.rec.RecordProvider(i.next.Name(), "transcribe", time.Since(start).Seconds(), err)
	return text, err
}

func (i *instrumented) Generate(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	text, err := i.next.Generate(ctx, prompt)
	i.rec.RecordProvider(i.next.Name(), "generate", time.Since(start).Seconds(), err)
	return text, err
}
