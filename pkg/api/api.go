package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/telekom/integration-hub/pkg/config"
	"github.com/telekom/integration-hub/pkg/correlation"
	"github.com/telekom/integration-hub/pkg/ratelimit"
	"github.com/telekom/integration-hub/pkg/version"
)

// APIController groups the routes of one resource under BasePath.
type APIController interface {
	BasePath() string
	Register(rg *gin.RouterGroup) error
	Handlers() []gin.HandlerFunc
}

// HealthCheck reports whether one dependency is usable.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

type Server struct {
	gin         *gin.Engine
	config      config.Server
	log         *zap.Logger
	rateLimiter *ratelimit.Limiter
	checks      []HealthCheck
}

func NewServer(log *zap.Logger, cfg config.Server, debug bool, checks ...HealthCheck) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(
		ginzap.GinzapWithConfig(log, &ginzap.Config{
			TimeFormat: time.RFC3339,
			UTC:        true,
			SkipPaths:  []string{"/healthz", "/metrics"},
		}),
		ginzap.RecoveryWithZap(log, true),
	)
	if err := engine.SetTrustedProxies(cfg.TrustedProxies); err != nil {
		log.Warn("invalid trusted proxies, trusting none", zap.Error(err))
		_ = engine.SetTrustedProxies(nil)
	}

	if len(cfg.AllowedOrigins) > 0 {
		engine.Use(cors.New(cors.Config{
			AllowOrigins:  cfg.AllowedOrigins,
			AllowMethods:  []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:  []string{"Origin", "Content-Type", correlation.Header, UserHeader},
			ExposeHeaders: []string{correlation.Header},
			MaxAge:        12 * time.Hour,
		}))
	}

	engine.Use(CorrelationMiddleware(), IdentityMiddleware(), RequestLoggerMiddleware(log.Sugar()))

	s := &Server{
		gin:    engine,
		config: cfg,
		log:    log,
		checks: checks,
	}
	if cfg.RateLimit.Enabled {
		rlCfg := ratelimit.DefaultAPIConfig()
		rlCfg.Rate = cfg.RateLimit.RequestsPerSecond
		rlCfg.Burst = cfg.RateLimit.Burst
		s.rateLimiter = ratelimit.New(rlCfg)
	}

	engine.GET("/healthz", s.healthz)
	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
	engine.GET("/api/debug/buildinfo", func(c *gin.Context) {
		c.JSON(http.StatusOK, version.GetBuildInfo())
	})
	return s
}

func (s *Server) RegisterAll(controllers []APIController) error {
	r := s.gin.Group("api")
	if s.rateLimiter != nil {
		r.Use(s.rateLimiter.Middleware())
	}
	for _, c := range controllers {
		if err := c.Register(r.Group(c.BasePath(), c.Handlers()...)); err != nil {
			return fmt.Errorf("register %s routes: %w", c.BasePath(), err)
		}
	}
	return nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.gin
}

// Close releases background resources. It does not stop a running listener.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully
// within the configured shutdown timeout.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.ListenAddress,
		Handler:           s.gin,
		ReadHeaderTimeout: s.config.ReadHeaderTimeout.Std(),
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.TLSCertFile != "" && s.config.TLSKeyFile != "" {
			s.log.Info("serving https", zap.String("address", srv.Addr))
			err = srv.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			s.log.Info("serving http", zap.String("address", srv.Addr))
			err = srv.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout.Std()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return <-errCh
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) healthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	code := http.StatusOK
	if len(s.checks) > 0 {
		resp.Checks = make(map[string]string, len(s.checks))
	}
	for _, hc := range s.checks {
		if err := hc.Check(ctx); err != nil {
			resp.Checks[hc.Name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[hc.Name] = "ok"
	}
	c.JSON(code, resp)
}
