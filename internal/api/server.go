package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/orderguardian/internal/api/auth"
	"github.com/orderguardian/internal/health"
	"github.com/orderguardian/internal/orchestrator"
	"github.com/orderguardian/internal/store"
)

// Options configures the HTTP server.
type Options struct {
	Port            int           `koanf:"port"`
	JWTSecret       string        `koanf:"jwt_secret"` // empty disables bearer auth
	JWTIssuer       string        `koanf:"jwt_issuer"`
	AdminKeyHash    string        `koanf:"admin_key_hash"` // empty disables admin endpoints
	BodyLimit       string        `koanf:"body_limit"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// TurnProcessor runs one customer message.
type TurnProcessor interface {
	ProcessMessage(ctx context.Context, in orchestrator.Turn) (*orchestrator.Result, error)
}

// Server represents the API server
type Server struct {
	echo     *echo.Echo
	turns    TurnProcessor
	manager  *store.Manager
	checker  *health.Checker
	gatherer prometheus.Gatherer
	options  Options
}

// NewServer creates a new API server. checker and gatherer may be nil.
func NewServer(turns TurnProcessor, manager *store.Manager, checker *health.Checker, gatherer prometheus.Gatherer, options Options) *Server {
	if options.Port == 0 {
		options.Port = 8888
	}
	if options.BodyLimit == "" {
		options.BodyLimit = "10M"
	}
	if options.ShutdownTimeout == 0 {
		options.ShutdownTimeout = 10 * time.Second
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogError:   true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Debug()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Msg("Request handled")
			return nil
		},
	}))
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.BodyLimit(options.BodyLimit))

	server := &Server{
		echo:     e,
		turns:    turns,
		manager:  manager,
		checker:  checker,
		gatherer: gatherer,
		options:  options,
	}

	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.getHealth)
	s.echo.GET("/health/capabilities", s.getCapabilities)
	if s.gatherer != nil {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	var tokens *auth.TokenService
	if s.options.JWTSecret != "" {
		tokens = auth.NewTokenService(s.options.JWTSecret, s.options.JWTIssuer)
	}

	v1 := s.echo.Group("/api/v1", auth.RequireAuth(tokens))
	v1.POST("/conversations/:id/messages", s.postMessage)
	v1.GET("/conversations/:id", s.getConversation)
	v1.GET("/conversations/:id/messages", s.getMessages)

	admin := auth.RequireAdminKey(s.options.AdminKeyHash)
	v1.DELETE("/conversations/:id", s.deleteConversation, admin)
	v1.GET("/conversations/:id/export", s.exportConversation, admin)
	v1.POST("/conversations/import", s.importConversation, admin)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until ctx is cancelled and then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.options.Port).Msg("API server listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.options.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.options.ShutdownTimeout)
	defer cancel()

	log.Info().Msg("Shutting down API server")
	return s.echo.Shutdown(shutdownCtx)
}
