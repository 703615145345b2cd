package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/newsbrief/config"
	"github.com/mohammad-safakhou/newsbrief/internal/agent/core"
	"github.com/mohammad-safakhou/newsbrief/internal/agent/telemetry"
	"github.com/mohammad-safakhou/newsbrief/internal/memory"
	"github.com/mohammad-safakhou/newsbrief/models"
	"go.uber.org/zap"
)

// Briefer runs one brief for a query.
type Briefer interface {
	Run(ctx context.Context, query string) (models.Artifact, error)
}

// Options wires the server to a pipeline.
type Options struct {
	Config     config.ServerConfig
	Briefer    Briefer
	Memory     *memory.Memory
	Vocabulary models.Vocabulary
	Telemetry  *telemetry.Telemetry
	Logger     *zap.Logger
}

// Server is the HTTP surface of the brief pipeline
type Server struct {
	echo     *echo.Echo
	briefer  Briefer
	memory   *memory.Memory
	vocab    models.Vocabulary
	logger   *zap.Logger
	addr     string
	secret   []byte
	apiKey   string
	tokenTTL time.Duration
}

// New builds the echo router. Bearer auth guards /api/briefs and /api/memory
// when a JWT secret is configured.
func New(opts Options) (*Server, error) {
	if opts.Briefer == nil || opts.Memory == nil {
		return nil, errors.New("server requires a briefer and a memory")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	vocab := opts.Vocabulary
	if len(vocab) == 0 {
		vocab = models.DefaultVocabulary
	}
	ttl := opts.Config.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	s := &Server{
		echo:     echo.New(),
		briefer:  opts.Briefer,
		memory:   opts.Memory,
		vocab:    vocab,
		logger:   logger.Named("http"),
		addr:     opts.Config.Address,
		secret:   []byte(opts.Config.JWTSecret),
		apiKey:   opts.Config.APIKey,
		tokenTTL: ttl,
	}

	e := s.echo
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			s.logger.Debug("request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))
	e.HTTPErrorHandler = s.handleError

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if opts.Telemetry != nil {
		e.GET("/metrics", echo.WrapHandler(opts.Telemetry.Handler()))
	}

	api := e.Group("/api")
	api.POST("/token", s.issueToken)

	var guard []echo.MiddlewareFunc
	if len(s.secret) > 0 {
		guard = append(guard, authMiddleware(s.secret))
	}
	api.POST("/briefs", s.createBrief, guard...)
	api.GET("/memory", s.listMemory, guard...)
	api.GET("/memory/:topic", s.topicMemory, guard...)
	api.DELETE("/memory", s.clearMemory, guard...)
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until ctx is done, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := s.addr
	if addr == "" {
		addr = ":8080"
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", addr))
		errCh <- s.echo.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

// handleError renders every error as a JSON HTTPError. Stage failures of a
// run map to 502, or 504 when the run ran out of time.
func (s *Server) handleError(err error, c echo.Context) {
	code := http.StatusInternalServerError
	body := HTTPError{Error: err.Error()}

	var he *echo.HTTPError
	var se *core.StageError
	switch {
	case errors.As(err, &he):
		code = he.Code
		if he.Message != nil {
			body.Error = fmt.Sprint(he.Message)
		}
	case errors.As(err, &se):
		code = http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			code = http.StatusGatewayTimeout
		}
		body.Stage = string(se.Stage)
	case errors.Is(err, context.Canceled):
		code = 499 // client closed request
	}

	req := c.Request()
	if code >= http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Int("status", code), zap.String("method", req.Method),
			zap.String("path", req.URL.Path), zap.String("remote", c.RealIP()), zap.Error(err))
	} else {
		s.logger.Debug("request rejected", zap.Int("status", code), zap.String("path", req.URL.Path), zap.Error(err))
	}
	if !c.Response().Committed {
		_ = c.JSON(code, body)
	}
}
