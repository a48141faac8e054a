package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/vocalize-voice-lab/internal/audio"
	"github.com/vocalize-voice-lab/internal/logging"
)

// ErrNetwork covers relay calls that could not be made or returned a
// non-2xx status.
var ErrNetwork = errors.New("relay request failed")

// RelayClient calls the relay's HTTP API. Calls are made once; the user
// decides whether to try again.
type RelayClient struct {
	BaseURL string
	HTTP    *http.Client
}

// NewRelayClient returns a client with the given per-request timeout.
func NewRelayClient(baseURL string, timeout time.Duration) *RelayClient {
	return &RelayClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{Timeout: timeout},
	}
}

func (c *RelayClient) post(ctx context.Context, path, contentType string, body []byte, cid string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	if cid != "" {
		req.Header.Set("X-Correlation-ID", cid)
	}
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		logging.Debugw("relay client: POST failed", "path", path, "err", err, "correlation_id", cid)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrNetwork, err)
	}
	if resp.StatusCode >= 300 {
		logging.Warnw("relay client: returned non-2xx", "path", path, "status", resp.StatusCode, "correlation_id", cid)
		return nil, fmt.Errorf("%w: %s returned %d: %s", ErrNetwork, path, resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return b, nil
}

// Transcribe uploads audio as the multipart field audioData.
func (c *RelayClient) Transcribe(ctx context.Context, data []byte, contentType, cid string) (string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audioData"; filename="recording%s"`, audio.Extension(contentType)))
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	body, err := c.post(ctx, "/api/transcribe", mw.FormDataContentType(), buf.Bytes(), cid)
	if err != nil {
		return "", err
	}
	var out struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: decode transcription: %v", ErrNetwork, err)
	}
	return out.Text, nil
}

// Answer asks the relay to answer prompt.
func (c *RelayClient) Answer(ctx context.Context, prompt, cid string) (string, error) {
	b, err := json.Marshal(map[string]string{"prompt": prompt})
	if err != nil {
		return "", err
	}
	body, err := c.post(ctx, "/api/answer", "application/json", b, cid)
	if err != nil {
		return "", err
	}
	var out struct {
		Response string `json:"response"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%w: decode answer: %v", ErrNetwork, err)
	}
	return out.Response, nil
}
