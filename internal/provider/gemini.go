package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/vocalize-voice-lab/internal/logging"
)

// GeminiOptions configures the Gemini provider. BaseURL is only set in
// tests.
type GeminiOptions struct {
	APIKey  string
	Model   string
	BaseURL string
}

// Gemini sends audio and prompts to the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini API client.
func NewGemini(ctx context.Context, opts GeminiOptions) (*Gemini, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("%w: gemini api key is required", ErrPermanent)
	}
	model := opts.Model
	if model == "" {
		model = "gemini-1.5-flash"
	}
	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// Transcribe sends the audio inline followed by the instruction.
func (g *Gemini) Transcribe(ctx context.Context, data []byte, mimeType, instruction string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: no audio", ErrPermanent)
	}
	parts := []*genai.Part{
		genai.NewPartFromBytes(data, mimeType),
		genai.NewPartFromText(instruction),
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
	logging.DebugwCtx(ctx, "gemini: transcribe", "model", g.model, "bytes", len(data), "mime_type", mimeType)
	return g.generate(ctx, contents)
}

// Generate sends a single text prompt.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	logging.DebugwCtx(ctx, "gemini: generate", "model", g.model, "prompt_len", len(prompt))
	return g.generate(ctx, genai.Text(prompt))
}

func (g *Gemini) generate(ctx context.Context, contents []*genai.Content) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", fmt.Errorf("%w: gemini: %v", ErrTransient, err)
	}
	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}
