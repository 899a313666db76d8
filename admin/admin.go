// Package admin serves the relay's operator HTTP surface: health, the
// trusted signer list, key reloads and Prometheus metrics.
package admin

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"xdao.co/lighthouse/errs"
	"xdao.co/lighthouse/logging"
)

const shutdownTimeout = 5 * time.Second

// Relay is the view of the running relay the admin server needs.
type Relay interface {
	State() string
	Signers() []string
	Reload() (int, error)
}

type Server struct {
	relay Relay
	log   *zap.Logger
	r     *gin.Engine
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func New(relay Relay, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	log = logging.OrNop(log)
	r := gin.New()
	r.Use(gin.Recovery())

	s := &Server{relay: relay, log: log.With(zap.String("component", "admin")), r: r}
	r.Use(s.requestLog())
	s.routes()
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler { return s.r }

func (s *Server) routes() {
	s.r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "state": s.relay.State()})
	})
	s.r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := s.r.Group("/v1")
	{
		v1.GET("/signers", s.handleSigners)
		v1.POST("/keys/reload", s.handleReload)
	}

	s.r.NoRoute(func(c *gin.Context) {
		writeErrorCode(c, http.StatusNotFound, "NOT_FOUND", "no such route")
	})
}

func (s *Server) handleSigners(c *gin.Context) {
	signers := s.relay.Signers()
	if signers == nil {
		signers = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"signers": signers})
}

func (s *Server) handleReload(c *gin.Context) {
	n, err := s.relay.Reload()
	if err != nil {
		code := errs.RuleID(err)
		if code == "" {
			code = "RELOAD_FAILED"
		}
		writeErrorCode(c, http.StatusInternalServerError, code, err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"signers": n})
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("admin request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(start)))
	}
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}

// Serve serves on lis until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	hs := &http.Server{Handler: s.r, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- hs.Serve(lis) }()
	s.log.Info("admin server listening", zap.String("addr", lis.Addr().String()))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := hs.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
