package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/vocalize-voice-lab/internal/config"
	"github.com/vocalize-voice-lab/internal/metrics"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProvider struct {
	mu            sync.Mutex
	transcript    string
	transcribeErr error
	reply         string
	generateErr   error
	gotAudio      []byte
	gotMime       string
	gotPrompt     string
	uploadSeen    []string
	uploadDir     string
}

func (f *fakeProvider) Name() string { return "fake" }

func (f *fakeProvider) Transcribe(ctx context.Context, data []byte, mimeType, instruction string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotAudio = append([]byte(nil), data...)
	f.gotMime = mimeType
	if f.uploadDir != "" {
		entries, _ := os.ReadDir(f.uploadDir)
		for _, e := range entries {
			f.uploadSeen = append(f.uploadSeen, e.Name())
		}
	}
	return f.transcript, f.transcribeErr
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gotPrompt = prompt
	return f.reply, f.generateErr
}

func newTestServer(t *testing.T, p *fakeProvider) (*Server, *config.Config) {
	t.Helper()
	cfg := config.Default()
	cfg.Relay.UploadDir = t.TempDir()
	p.uploadDir = cfg.Relay.UploadDir
	return New(cfg, p, metrics.New()), cfg
}

func multipartBody(t *testing.T, field, filename, contentType string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="`+field+`"; filename="`+filename+`"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	part.Write(data)
	mw.Close()
	return buf, mw.FormDataContentType()
}

func do(t *testing.T, h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func assertUploadDirEmpty(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read upload dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("upload dir not cleaned: %d entries", len(entries))
	}
}

func TestTranscribeSuccess(t *testing.T) {
	p := &fakeProvider{transcript: " hello "}
	s, cfg := newTestServer(t, p)

	body, ct := multipartBody(t, "audioData", "blob.webm", "audio/webm;codecs=opus", []byte("webm-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := do(t, s.Handler(), req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
	var out TranscribeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Text != "hello" {
		t.Fatalf("text=%q", out.Text)
	}
	if string(p.gotAudio) != "webm-bytes" || p.gotMime != "audio/webm;codecs=opus" {
		t.Fatalf("provider got %q %q", p.gotAudio, p.gotMime)
	}
	if len(p.uploadSeen) != 1 || !strings.HasPrefix(p.uploadSeen[0], "audioData-") || !strings.HasSuffix(p.uploadSeen[0], ".webm") {
		t.Fatalf("upload not stored during call: %v", p.uploadSeen)
	}
	assertUploadDirEmpty(t, cfg.Relay.UploadDir)
}

func TestTranscribeMissingFile(t *testing.T) {
	p := &fakeProvider{}
	s, _ := newTestServer(t, p)

	body, ct := multipartBody(t, "other", "x.webm", "audio/webm", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := do(t, s.Handler(), req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status=%d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No audio file provided.") {
		t.Fatalf("body=%s", rec.Body.String())
	}
}

func TestTranscribeProviderFailureCleansUp(t *testing.T) {
	p := &fakeProvider{transcribeErr: errors.New("quota exceeded")}
	s, cfg := newTestServer(t, p)

	body, ct := multipartBody(t, "audioData", "blob.ogg", "audio/ogg", []byte("ogg"))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := do(t, s.Handler(), req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", rec.Code)
	}
	var out map[string]string
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out["error"] != "Error in transcription" || !strings.Contains(out["details"], "quota exceeded") {
		t.Fatalf("unexpected body %v", out)
	}
	assertUploadDirEmpty(t, cfg.Relay.UploadDir)
}

func TestTranscribeTooLarge(t *testing.T) {
	p := &fakeProvider{transcript: "x"}
	s, cfg := newTestServer(t, p)
	cfg.Relay.MaxUploadBytes = 64

	body, ct := multipartBody(t, "audioData", "a.wav", "audio/wav", bytes.Repeat([]byte("a"), 4096))
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", body)
	req.Header.Set("Content-Type", ct)
	rec := do(t, s.Handler(), req)
	if rec.Code == http.StatusOK {
		t.Fatalf("oversized upload accepted")
	}
	assertUploadDirEmpty(t, cfg.Relay.UploadDir)
}

func postJSON(t *testing.T, h http.Handler, path string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	b, _ := json.Marshal(v)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(b))
	req.Header.Set("Content-Type", "application/json")
	return do(t, h, req)
}

func TestAnswerWrapsPersonaAndCleans(t *testing.T) {
	p := &fakeProvider{reply: `  She said \"hi\" there  `}
	s, cfg := newTestServer(t, p)

	rec := postJSON(t, s.Handler(), "/api/answer", AnswerRequest{Prompt: "who are you?"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var out AnswerResponse
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Response != `She said "hi" there` {
		t.Fatalf("response=%q", out.Response)
	}
	want := cfg.Answer.Persona + "\n\nUser Question: who are you?\n\nProvide a direct, natural response."
	if p.gotPrompt != want {
		t.Fatalf("prompt=%q", p.gotPrompt)
	}
}

func TestAnswerFallbacks(t *testing.T) {
	cases := []struct {
		name string
		p    *fakeProvider
		body interface{}
	}{
		{"provider error", &fakeProvider{generateErr: errors.New("down")}, AnswerRequest{Prompt: "q"}},
		{"empty output", &fakeProvider{reply: "   "}, AnswerRequest{Prompt: "q"}},
		{"missing prompt", &fakeProvider{reply: "unused"}, map[string]string{}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s, cfg := newTestServer(t, tc.p)
			rec := postJSON(t, s.Handler(), "/api/answer", tc.body)
			if rec.Code != http.StatusOK {
				t.Fatalf("status=%d", rec.Code)
			}
			var out AnswerResponse
			json.Unmarshal(rec.Body.Bytes(), &out)
			if out.Response != cfg.Answer.Fallback {
				t.Fatalf("response=%q", out.Response)
			}
			if got := testutil.ToFloat64(s.metrics.AnswerFallbacks); got != 1 {
				t.Fatalf("fallback counter=%v", got)
			}
		})
	}
}

func TestAnswerMalformedJSONStillOK(t *testing.T) {
	s, cfg := newTestServer(t, &fakeProvider{reply: "x"})
	req := httptest.NewRequest(http.MethodPost, "/api/answer", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rec := do(t, s.Handler(), req)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), cfg.Answer.Fallback[:20]) {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}
}

func TestTTS(t *testing.T) {
	s, _ := newTestServer(t, &fakeProvider{})

	rec := postJSON(t, s.Handler(), "/api/tts", map[string]string{})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "No text provided") {
		t.Fatalf("status=%d body=%s", rec.Code, rec.Body.String())
	}

	rec = postJSON(t, s.Handler(), "/api/tts", map[string]string{"text": "speak me"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var out TTSResponse
	json.Unmarshal(rec.Body.Bytes(), &out)
	if out.Text != "speak me" || !out.UseBrowserTTS || out.Message != "Text ready for speech synthesis" {
		t.Fatalf("unexpected %+v", out)
	}
}

func TestHealthAndRoot(t *testing.T) {
	s, _ := newTestServer(t, &fakeProvider{})

	rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status=%d", rec.Code)
	}
	var hr HealthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &hr); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if hr.Status != "healthy" || hr.Service != ServiceName || !strings.HasSuffix(hr.Memory.Used, " MB") {
		t.Fatalf("unexpected health %+v", hr)
	}
	if hr.Uptime < 0 {
		t.Fatalf("negative uptime")
	}

	rec = do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/", nil))
	var root struct {
		Message   string   `json:"message"`
		Endpoints []string `json:"endpoints"`
	}
	json.Unmarshal(rec.Body.Bytes(), &root)
	if root.Message != "Vocalize AI Server is running" || len(root.Endpoints) < 2 || root.Endpoints[0] != "/health" {
		t.Fatalf("unexpected root %+v", root)
	}
}

func TestCorrelationIDEchoed(t *testing.T) {
	s, _ := newTestServer(t, &fakeProvider{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(correlationHeader, "cid-123")
	rec := do(t, s.Handler(), req)
	if got := rec.Header().Get(correlationHeader); got != "cid-123" {
		t.Fatalf("correlation id=%q", got)
	}

	rec = do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Header().Get(correlationHeader) == "" {
		t.Fatalf("expected generated correlation id")
	}
}

func TestCORSPreflight(t *testing.T) {
	s, _ := newTestServer(t, &fakeProvider{})
	req := httptest.NewRequest(http.MethodOptions, "/api/answer", nil)
	req.Header.Set("Origin", "http://client.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := do(t, s.Handler(), req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status=%d, want %d", rec.Code, http.StatusNoContent)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") == "" {
		t.Fatalf("missing CORS header")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t, &fakeProvider{reply: "ok"})
	postJSON(t, s.Handler(), "/api/answer", AnswerRequest{Prompt: "q"})

	rec := do(t, s.Handler(), httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, "vocalize_provider_requests_total") || !strings.Contains(body, `route="/api/answer"`) {
		t.Fatalf("metrics missing expected series")
	}
}

func TestBuildPromptAndClean(t *testing.T) {
	if got := BuildPrompt("P", "Q"); got != "P\n\nUser Question: Q\n\nProvide a direct, natural response." {
		t.Fatalf("BuildPrompt=%q", got)
	}
	if got := CleanResponse(` \"a\" `); got != `"a"` {
		t.Fatalf("CleanResponse=%q", got)
	}
}
