package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ServerOptions configures the control endpoint.
type ServerOptions struct {
	Addr string
	// Status returns the JSON body for GET /status.
	Status func() any
	// Stop is called by POST /stop.
	Stop func(reason string)
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
	Logger  *slog.Logger
}

// Server is the optional HTTP control endpoint.
type Server struct {
	opts   ServerOptions
	engine *gin.Engine
}

// NewServer builds the router:
//
//	GET  /healthz - liveness
//	GET  /status  - loop, breaker and worker status
//	POST /stop    - stop after the in-flight phase
//	GET  /metrics - Prometheus metrics
func NewServer(opts ServerOptions) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{opts: opts, engine: engine}
	engine.GET("/healthz", s.handleHealth)
	engine.GET("/status", s.handleStatus)
	engine.POST("/stop", s.handleStop)
	if opts.Metrics != nil {
		engine.GET("/metrics", gin.WrapH(opts.Metrics))
	}
	return s
}

// Handler exposes the router.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Serve listens on Addr until ctx is done, then shuts down.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("control endpoint: %w", err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	s.opts.Logger.Info("control endpoint listening", "addr", ln.Addr().String())

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.opts.Status == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status unavailable"})
		return
	}
	c.JSON(http.StatusOK, s.opts.Status())
}

func (s *Server) handleStop(c *gin.Context) {
	if s.opts.Stop == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "stop unavailable"})
		return
	}
	reason := c.DefaultQuery("reason", "http")
	s.opts.Stop(reason)
	c.JSON(http.StatusAccepted, gin.H{"stopping": true, "reason": reason})
}
