// Package server assembles the HTTP surface: middleware chain, both API
// groups, health and metrics endpoints, and graceful shutdown.
package server

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/modl-gg/panel-core/internal/api/minecraft"
	"github.com/modl-gg/panel-core/internal/api/panel"
	"github.com/modl-gg/panel-core/internal/config"
	"github.com/modl-gg/panel-core/internal/metrics"
	"github.com/modl-gg/panel-core/internal/tenant"
)

// Server owns the HTTP listener.
type Server struct {
	http *http.Server
	log  zerolog.Logger
}

// Deps is everything the router needs.
type Deps struct {
	Config    *config.Config
	Tenants   *tenant.Middleware
	Minecraft *minecraft.Handlers
	Panel     *panel.Handlers
	Metrics   *metrics.Metrics
	Log       zerolog.Logger
}

// New builds the router and server.
func New(d Deps) *Server {
	if !d.Config.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(d.Log))
	router.Use(d.Metrics.Middleware())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", d.Metrics.Handler())

	mc := router.Group("/api/minecraft")
	mc.Use(perKeyRateLimit(d.Config.RateLimitPerSec, d.Config.RateLimitBurst))
	mc.Use(d.Tenants.APIKeyAuth())
	d.Minecraft.Register(mc)

	pn := router.Group("/api/panel")
	pn.Use(d.Tenants.SessionAuth())
	d.Panel.Register(pn)

	return &Server{
		http: &http.Server{
			Addr:              d.Config.ListenAddr,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: d.Log,
	}
}

// Run serves until the context is cancelled, then drains connections within
// the shutdown timeout.
func (s *Server) Run(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.log.Info().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

// requestLogger emits one structured line per request.
func requestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		event := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Str("remote", c.ClientIP()).
			Msg("http request")
	}
}

// perKeyRateLimit throttles game-server traffic per API key. Unknown keys
// share one limiter; auth rejects them right after.
func perKeyRateLimit(perSec float64, burst int) gin.HandlerFunc {
	if perSec <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	var mu sync.Mutex
	limiters := map[string]*rate.Limiter{}
	return func(c *gin.Context) {
		key := c.GetHeader(tenant.APIKeyHeader)
		mu.Lock()
		lim, ok := limiters[key]
		if !ok {
			lim = rate.NewLimiter(rate.Limit(perSec), burst)
			limiters[key] = lim
		}
		mu.Unlock()
		if !lim.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"status":  http.StatusTooManyRequests,
				"message": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
