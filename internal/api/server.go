// Package api exposes the watchd JSON/HTTP contract: user documents,
// redirect records, feedback and session issuance.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/niyambadha/watchd/internal/config"
	"github.com/niyambadha/watchd/internal/usecase"
)

// Server hosts the API routes over gin.
type Server struct {
	users     *usecase.UserDataService
	redirects *usecase.RedirectService
	feedback  *usecase.FeedbackService
	sessions  *usecase.SessionService
	logger    *zap.Logger

	httpServer *http.Server
}

// NewServer wires up the route handlers. Call Router for tests or
// ListenAndServe to run.
func NewServer(
	users *usecase.UserDataService,
	redirects *usecase.RedirectService,
	feedback *usecase.FeedbackService,
	sessions *usecase.SessionService,
	logger *zap.Logger,
) *Server {
	return &Server{
		users:     users,
		redirects: redirects,
		feedback:  feedback,
		sessions:  sessions,
		logger:    logger,
	}
}

// Router builds the gin engine with middleware and all routes mounted.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(RecoveryMiddleware(s.logger))
	r.Use(LoggerMiddleware(s.logger))
	r.Use(CORSMiddleware(nil))

	r.GET("/health", s.handleHealth)

	apiGroup := r.Group("/api")
	{
		apiGroup.GET("/userdata", s.handleGetUserData)
		apiGroup.PATCH("/userdata/watchtime", s.handleUpdateWatchTime)
		apiGroup.GET("/redirects", s.handleGetRedirect)
		apiGroup.POST("/redirects", s.handleLogRedirect)
		apiGroup.PATCH("/redirects", s.handleSolveRedirect)
		apiGroup.POST("/log-block", s.handleLogBlock)
		apiGroup.POST("/feedback", s.handleFeedback)
		apiGroup.POST("/session", s.handleSession)
	}

	return r
}

// ListenAndServe runs the HTTP server until the context is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, cfg config.ServerConfig) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api server listening", zap.String("addr", s.httpServer.Addr))
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown api server: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	}
}
