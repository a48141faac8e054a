package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/vocalize-voice-lab/internal/audio"
	"github.com/vocalize-voice-lab/internal/logging"
)

// OpenAI talks to any OpenAI-compatible endpoint: chat completions for
// answers and /audio/transcriptions for speech-to-text. A failing primary
// model is retried once on FallbackModel.
type OpenAI struct {
	BaseURL            string
	APIKey             string
	Model              string
	FallbackModel      string
	TranscriptionModel string
	MaxTokens          int
	HTTP               *http.Client
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (c *OpenAI) Name() string { return "openai" }

func (c *OpenAI) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 60 * time.Second}
}

// Generate creates a chat completion for prompt.
func (c *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	model := c.Model
	if model == "" {
		model = c.FallbackModel
	}
	if model == "" {
		model = "local"
	}
	content, err := c.chat(ctx, model, prompt)
	if err != nil && IsTransient(err) && c.FallbackModel != "" && c.FallbackModel != model {
		logging.WarnwCtx(ctx, "openai: primary model failed, trying fallback", "model", model, "fallback", c.FallbackModel, "err", err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
		content, err = c.chat(ctx, c.FallbackModel, prompt)
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyResponse
	}
	return content, nil
}

func (c *OpenAI) chat(ctx context.Context, model, prompt string) (string, error) {
	maxTokens := c.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	payload := map[string]interface{}{
		"model":      model,
		"messages":   []chatMessage{{Role: "user", Content: prompt}},
		"max_tokens": maxTokens,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: encode request: %v", ErrPermanent, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: model %s status %d", classifyStatus(resp.StatusCode), model, resp.StatusCode)
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode error: %v", ErrTransient, err)
	}
	if len(out.Choices) == 0 {
		return "", nil
	}
	return out.Choices[0].Message.Content, nil
}

// Transcribe uploads audio as multipart form data. The instruction is passed
// as the transcription prompt.
func (c *OpenAI) Transcribe(ctx context.Context, data []byte, mimeType, instruction string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("%w: no audio", ErrPermanent)
	}
	model := c.TranscriptionModel
	if model == "" {
		model = "whisper-1"
	}

	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename="%s"`, "audio"+audio.Extension(mimeType)))
	if mimeType != "" {
		h.Set("Content-Type", mimeType)
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	if _, err := part.Write(data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	_ = mw.WriteField("model", model)
	if instruction != "" {
		_ = mw.WriteField("prompt", instruction)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrPermanent, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/audio/transcriptions", buf)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.authorize(req)

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: transcription status %d", classifyStatus(resp.StatusCode), resp.StatusCode)
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("%w: decode error: %v", ErrTransient, err)
	}
	return strings.TrimSpace(out.Text), nil
}

func (c *OpenAI) authorize(req *http.Request) {
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}
}
