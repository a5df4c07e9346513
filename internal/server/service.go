// Package server exposes the ChatPulse HTTP API: OTP authentication and
// the analytics endpoints.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/chatpulse/chatpulse/internal/analytics"
	"github.com/chatpulse/chatpulse/internal/auth"
	"github.com/chatpulse/chatpulse/internal/config"
	"github.com/chatpulse/chatpulse/internal/database"
)

// Service wires the gin router to the analytics and auth components.
type Service struct {
	cfg       *config.Config
	store     database.Store
	analytics *analytics.Service
	otp       auth.OTPProvider
	tokens    *auth.TokenIssuer
	logger    *slog.Logger

	router *gin.Engine
	server *http.Server
}

// NewService builds the HTTP service and its routes.
func NewService(
	cfg *config.Config,
	store database.Store,
	analyticsService *analytics.Service,
	otp auth.OTPProvider,
	tokens *auth.TokenIssuer,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Service{
		cfg:       cfg,
		store:     store,
		analytics: analyticsService,
		otp:       otp,
		tokens:    tokens,
		logger:    logger.With("component", "http"),
		router:    router,
	}
	s.initRouter()
	return s
}

func (s *Service) initRouter() {
	s.router.GET("/health", s.handleHealth)

	api := s.router.Group("/api")
	{
		authGroup := api.Group("/auth")
		authGroup.POST("/request-otp", s.handleRequestOTP)
		authGroup.POST("/verify-otp", s.handleVerifyOTP)

		analyticsGroup := api.Group("/analytics")
		analyticsGroup.Use(s.authMiddleware())
		{
			analyticsGroup.GET("/users/:phone/metrics", s.handleUserMetrics)
			analyticsGroup.GET("/users/:phone/trends", s.handleUserTrends)
			analyticsGroup.GET("/group/metrics", s.handleGroupMetrics)
			analyticsGroup.GET("/group/activity", s.handleActivityPatterns)
			analyticsGroup.GET("/group/statistics", s.handleGroupStatistics)
			analyticsGroup.POST("/group/refresh", s.staffOnly(), s.handleGroupRefresh)
		}
	}
}

// Router exposes the gin engine, mainly for handler tests.
func (s *Service) Router() http.Handler {
	return s.router
}

// Start runs the HTTP server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Service) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.cfg.HTTP.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", s.cfg.HTTP.Addr)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("HTTP server shutdown failed", "error", err)
		return err
	}
	s.logger.Info("HTTP server stopped gracefully")
	return nil
}

func (s *Service) handleHealth(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
