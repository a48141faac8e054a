package relay

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	sdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/vocalize-voice-lab/internal/config"
	"github.com/vocalize-voice-lab/internal/logging"
	"github.com/vocalize-voice-lab/internal/metrics"
	"github.com/vocalize-voice-lab/internal/provider"
)

const (
	ServiceName = "Vocalize AI Transcription Server"
	Version     = "0.1.0"
)

// Server is the stateless HTTP relay between voice clients and the
// provider. Nothing is kept between requests apart from metrics.
type Server struct {
	cfg      *config.Config
	provider provider.Provider
	metrics  *metrics.Metrics
	started  time.Time
	engine   *gin.Engine
	mcp      *sdk.Server
	baseCtx  context.Context
}

// New wires routes and middleware. m may be nil.
func New(cfg *config.Config, p provider.Provider, m *metrics.Metrics) *Server {
	if m != nil {
		p = provider.Instrument(p, m)
	}
	s := &Server{
		cfg:      cfg,
		provider: p,
		metrics:  m,
		started:  time.Now(),
		baseCtx:  context.Background(),
	}
	if cfg.Relay.MCPEnabled {
		s.mcp = s.newMCPServer()
	}
	s.engine = s.routes()
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20
	r.Use(gin.Recovery(), s.withCorrelationID(), s.withRequestLog(), s.withMetrics(), s.cors())

	r.GET("/", s.handleRoot)
	r.GET("/health", s.handleHealth)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
	if s.mcp != nil {
		r.GET("/mcp/ws", s.handleMCP)
	}

	api := r.Group("/api")
	{
		api.POST("/transcribe", s.handleTranscribe)
		api.POST("/answer", s.handleAnswer)
		api.POST("/tts", s.handleTTS)
	}
	return r
}

func (s *Server) cors() gin.HandlerFunc {
	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", correlationHeader},
		ExposeHeaders: []string{correlationHeader},
		MaxAge:        12 * time.Hour,
	}
	origins := s.cfg.Relay.CORSOrigins
	allowAll := len(origins) == 0
	for _, o := range origins {
		if o == "*" {
			allowAll = true
		}
	}
	if allowAll {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cors.New(cc)
}

// endpoints lists the public routes for the root document.
func (s *Server) endpoints() []string {
	eps := []string{"/health", "/api/transcribe", "/api/answer", "/api/tts"}
	if s.metrics != nil {
		eps = append(eps, "/metrics")
	}
	if s.mcp != nil {
		eps = append(eps, "/mcp/ws")
	}
	return eps
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.baseCtx = ctx
	srv := &http.Server{
		Addr:              s.cfg.Relay.ListenAddr(),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Infow("relay: listening", "addr", srv.Addr, "provider", s.provider.Name(), "environment", s.cfg.Relay.Environment)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Relay.GetShutdownTimeout())
		defer cancel()
		logging.Infow("relay: shutting down")
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}
