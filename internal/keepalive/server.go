// Package keepalive serves the HTTP liveness endpoint that hosting
// platforms probe, plus health and metrics routes.
package keepalive

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/danmuck/botctl/internal/observability"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAddr  = "0.0.0.0:8080"
	AliveMessage = "I'm alive!"
	Version      = "0.1.0"

	shutdownTimeout = 5 * time.Second
)

// BotCounter reports how many child bots are running.
type BotCounter interface {
	RunningCount() int
}

type Server struct {
	ID      string
	Addr    string
	Started time.Time
	Bots    BotCounter

	router *gin.Engine
}

func New(id, addr string, corsOrigins []string, bots BotCounter) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	observability.RegisterMetrics()
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(log.Logger))
	r.Use(observability.RequestMetricsMiddleware(id))
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(corsOrigins),
		AllowMethods: []string{"GET", "HEAD"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	s := &Server{
		ID:      id,
		Addr:    addr,
		Started: time.Now(),
		Bots:    bots,
		router:  r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) registerRoutes() {
	alive := func(c *gin.Context) {
		c.String(http.StatusOK, AliveMessage)
	}
	s.router.GET("/", alive)
	s.router.HEAD("/", alive)

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.Started).String(),
			"service": s.ID,
			"version": Version,
			"bots":    s.runningBots(),
		})
	})

	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func (s *Server) runningBots() int {
	if s.Bots == nil {
		return 0
	}
	return s.Bots.RunningCount()
}

// Serve listens on Addr until ctx ends, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.Addr)
	if err != nil {
		return err
	}
	return s.ServeListener(ctx, ln)
}

func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Info().Str("service", s.ID).Str("addr", ln.Addr().String()).Msg("keepalive listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Str("service", s.ID).Msg("keepalive shutdown")
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info().Str("service", s.ID).Msg("keepalive stopped")
	return nil
}

func normalizeOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
