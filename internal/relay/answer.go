package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vocalize-voice-lab/internal/logging"
	"github.com/vocalize-voice-lab/internal/provider"
)

var errEmptyPrompt = errors.New("empty prompt")

// BuildPrompt wraps a user question in the persona instruction.
func BuildPrompt(persona, question string) string {
	return fmt.Sprintf("%s\n\nUser Question: %s\n\nProvide a direct, natural response.", persona, question)
}

// CleanResponse unescapes quotes the model sometimes emits escaped and trims
// surrounding whitespace.
func CleanResponse(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, `\"`, `"`))
}

// answer returns the provider's reply to question, or the fallback reply
// together with the error that caused it.
func (s *Server) answer(ctx context.Context, question string) (string, error) {
	fallback := s.cfg.Answer.Fallback
	if strings.TrimSpace(question) == "" {
		s.recordFallback(ctx, errEmptyPrompt)
		return fallback, errEmptyPrompt
	}
	logging.InfowCtx(ctx, "relay: generating answer", "prompt_len", len(question))
	raw, err := s.provider.Generate(ctx, BuildPrompt(s.cfg.Answer.Persona, question))
	if err == nil && strings.TrimSpace(raw) == "" {
		err = provider.ErrEmptyResponse
	}
	if err != nil {
		s.recordFallback(ctx, err)
		return fallback, err
	}
	return CleanResponse(raw), nil
}

func (s *Server) recordFallback(ctx context.Context, err error) {
	logging.WarnwCtx(ctx, "relay: answer replaced by fallback", "err", err)
	if s.metrics != nil {
		s.metrics.AnswerFallbacks.Inc()
	}
}

// providerContext bounds a provider call by the configured timeout.
func (s *Server) providerContext(c *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), s.cfg.Provider.GetTimeout())
}
