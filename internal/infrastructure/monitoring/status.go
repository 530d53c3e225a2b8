package monitoring

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/zcraft/internal/infrastructure/logging"
)

// StateProvider supplies the JSON snapshot served at /state.
type StateProvider interface {
	Snapshot() any
}

// StatusServer exposes health, metrics and a state snapshot over HTTP.
type StatusServer struct {
	router  *gin.Engine
	server  *http.Server
	logger  *logging.Logger
	metrics *Metrics
}

// NewStatusServer builds the router. Nothing listens until Start. Extra
// middleware runs after the metrics middleware.
func NewStatusServer(addr string, metrics *Metrics, state StateProvider, logger *logging.Logger, extra ...gin.HandlerFunc) *StatusServer {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET"},
		AllowHeaders:    []string{"Origin", "Accept"},
		MaxAge:          12 * time.Hour,
	}))
	router.Use(Middleware(metrics))
	router.Use(RateLimit(statusRequestsPerSecond, statusBurst))
	router.Use(extra...)

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metrics != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	}
	if state != nil {
		router.GET("/state", func(c *gin.Context) {
			c.JSON(http.StatusOK, state.Snapshot())
		})
	}

	return &StatusServer{
		router:  router,
		server:  &http.Server{Addr: addr, Handler: router, ReadHeaderTimeout: 5 * time.Second},
		logger:  logging.OrNop(logger).Named("status"),
		metrics: metrics,
	}
}

// Handler returns the router, for tests and embedding.
func (s *StatusServer) Handler() http.Handler {
	return s.router
}

// Start serves in the background until Shutdown.
func (s *StatusServer) Start() {
	go func() {
		s.logger.Info("status server listening", zap.String("addr", s.server.Addr))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server stopped", zap.Error(err))
		}
	}()
}

// Shutdown stops the server.
func (s *StatusServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
