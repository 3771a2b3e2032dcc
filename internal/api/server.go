package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"spread-monitor/internal/logging"
)

// NewRouter builds the gin engine with every read-only route.
func NewRouter(rc *ResultsController, logger zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))

	r.GET("/healthz", rc.HandleHealth)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/quotes/status", rc.HandleQuoteStatus)
		v1.GET("/scheduler", rc.HandleSchedulerStatus)
		v1.GET("/strategies", rc.HandleListStrategies)
		v1.GET("/strategies/:id/spread", rc.HandleGetSpread)
		v1.GET("/strategies/:id/pnl", rc.HandleGetPnL)
		v1.GET("/strategies/:id/history", rc.HandleGetHistory)
	}
	return r
}

func requestLogger(logger zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("API request")
	}
}

// Server serves the results API until its context is cancelled.
type Server struct {
	http   *http.Server
	logger zerolog.Logger
}

// NewServer creates a results API server on addr.
func NewServer(addr string, rc *ResultsController, logger zerolog.Logger) *Server {
	logger = logging.WithComponent(logger, "api")
	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(rc, logger),
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Run listens until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("Results API listening")
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}
