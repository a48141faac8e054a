package relay

import (
	"errors"
	"fmt"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vocalize-voice-lab/internal/audio"
	"github.com/vocalize-voice-lab/internal/logging"
	"github.com/vocalize-voice-lab/internal/provider"
)

// TranscribeResponse is the success body of POST /api/transcribe.
type TranscribeResponse struct {
	Text string `json:"text"`
}

// AnswerRequest is the body of POST /api/answer.
type AnswerRequest struct {
	Prompt string `json:"prompt"`
}

// AnswerResponse is always returned with 200 by POST /api/answer.
type AnswerResponse struct {
	Response string `json:"response"`
}

type ttsRequest struct {
	Text string `json:"text" binding:"required"`
}

// TTSResponse tells the caller to synthesize the text locally.
type TTSResponse struct {
	Message       string `json:"message"`
	Text          string `json:"text"`
	UseBrowserTTS bool   `json:"useBrowserTTS"`
}

type memoryUsage struct {
	Used  string `json:"used"`
	Total string `json:"total"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string      `json:"status"`
	Timestamp string      `json:"timestamp"`
	Uptime    float64     `json:"uptime"`
	Memory    memoryUsage `json:"memory"`
	Service   string      `json:"service"`
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"message":   "Vocalize AI Server is running",
		"endpoints": s.endpoints(),
	})
}

func (s *Server) handleHealth(c *gin.Context) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Uptime:    time.Since(s.started).Seconds(),
		Memory: memoryUsage{
			Used:  megabytes(ms.HeapAlloc),
			Total: megabytes(ms.HeapSys),
		},
		Service: ServiceName,
	})
}

func megabytes(b uint64) string {
	return fmt.Sprintf("%d MB", int64(math.Round(float64(b)/1024/1024)))
}

// handleTranscribe stores the upload in the upload dir for the duration of
// the provider call; the file is removed on every path.
func (s *Server) handleTranscribe(c *gin.Context) {
	ctx := c.Request.Context()
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.Relay.MaxUploadBytes)

	fh, err := c.FormFile("audioData")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Audio file too large."})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No audio file provided."})
		return
	}

	path, err := s.storeUpload(c, fh)
	if err != nil {
		logging.ErrorwCtx(ctx, "relay: failed to store upload", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error in transcription", "details": err.Error()})
		return
	}
	defer func() {
		if rerr := os.Remove(path); rerr != nil && !os.IsNotExist(rerr) {
			logging.WarnwCtx(ctx, "relay: failed to remove upload", "path", path, "err", rerr)
			return
		}
		logging.DebugwCtx(ctx, "relay: upload removed", "path", path)
	}()

	data, err := os.ReadFile(path)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error in transcription", "details": err.Error()})
		return
	}
	mimeType := fh.Header.Get("Content-Type")
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	if s.metrics != nil {
		s.metrics.UploadBytes.Observe(float64(len(data)))
	}
	logging.InfowCtx(ctx, "relay: processing transcription", "path", path, "bytes", len(data), "mime_type", mimeType)

	pctx, cancel := s.providerContext(c)
	defer cancel()
	text, err := s.provider.Transcribe(pctx, data, mimeType, s.cfg.Provider.TranscribeInstruction)
	if err != nil && !errors.Is(err, provider.ErrEmptyResponse) {
		logging.ErrorwCtx(ctx, "relay: error in transcription", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error in transcription", "details": err.Error()})
		return
	}
	logging.InfowCtx(ctx, "relay: transcription successful", "text_len", len(text))
	c.JSON(http.StatusOK, TranscribeResponse{Text: strings.TrimSpace(text)})
}

func (s *Server) storeUpload(c *gin.Context, fh *multipart.FileHeader) (string, error) {
	if err := os.MkdirAll(s.cfg.Relay.UploadDir, 0o755); err != nil {
		return "", err
	}
	ext := filepath.Ext(fh.Filename)
	if ext == "" {
		ext = audio.Extension(fh.Header.Get("Content-Type"))
	}
	name := fmt.Sprintf("audioData-%d-%s%s", time.Now().UnixMilli(), uuid.NewString()[:8], ext)
	path := filepath.Join(s.cfg.Relay.UploadDir, name)
	if err := c.SaveUploadedFile(fh, path); err != nil {
		_ = os.Remove(path)
		return "", err
	}
	return path, nil
}

// handleAnswer never fails towards the client: any error becomes the
// configured fallback reply.
func (s *Server) handleAnswer(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logging.WarnwCtx(c.Request.Context(), "relay: invalid answer request", "err", err)
	}
	pctx, cancel := s.providerContext(c)
	defer cancel()
	answer, _ := s.answer(pctx, req.Prompt)
	c.JSON(http.StatusOK, AnswerResponse{Response: answer})
}

func (s *Server) handleTTS(c *gin.Context) {
	var req ttsRequest
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"message": "No text provided"})
		return
	}
	c.JSON(http.StatusOK, TTSResponse{
		Message:       "Text ready for speech synthesis",
		Text:          req.Text,
		UseBrowserTTS: true,
	})
}

func (s *Server) handleMCP(c *gin.Context) {
	if err := serveMCP(s, c); err != nil {
		logging.WarnwCtx(c.Request.Context(), "relay: mcp upgrade failed", "err", err)
	}
}
