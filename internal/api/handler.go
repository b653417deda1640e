package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/engine"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/events"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/internal/monitor"
	"github.com/xsh4n4/LowLatencyMachineEngine-C/pkg/db"
)

// FillSource returns journaled executions. *state.Manager implements it.
type FillSource interface {
	Fills(ctx context.Context, strategyID string, limit int) ([]db.Fill, error)
}

// Server exposes a read-only view of the engine over HTTP and a websocket.
type Server struct {
	Router    *gin.Engine
	Engine    engine.Service
	Bus       *events.Bus
	Fills     FillSource
	Metrics   *monitor.SystemMetrics
	JWTSecret string
}

// Options configures NewServer. Engine is required.
type Options struct {
	Engine    engine.Service
	Bus       *events.Bus
	Fills     FillSource
	Metrics   *monitor.SystemMetrics
	JWTSecret string // empty disables auth on /api

	RateLimit      float64 // per client IP, requests per second
	RateBurst      int
	RequestTimeout time.Duration
}

func NewServer(opts Options) *Server {
	if opts.Metrics == nil {
		opts.Metrics = monitor.NewSystemMetrics()
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 50
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 10 * time.Second
	}

	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(opts.Metrics))
	r.Use(RateLimitMiddleware(newIPLimiters(opts.RateLimit, opts.RateBurst)))
	r.Use(TimeoutMiddleware(opts.RequestTimeout))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:    r,
		Engine:    opts.Engine,
		Bus:       opts.Bus,
		Fills:     opts.Fills,
		Metrics:   opts.Metrics,
		JWTSecret: opts.JWTSecret,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	if s.JWTSecret != "" {
		s.Router.GET("/ws", StreamAuthMiddleware(s.JWTSecret), s.websocket)
	} else {
		s.Router.GET("/ws", s.websocket)
	}

	api := s.Router.Group("/api")
	if s.JWTSecret != "" {
		api.Use(AuthMiddleware(s.JWTSecret))
	}
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/metrics", s.getMetrics)
		api.GET("/portfolio", s.getPortfolio)
		api.GET("/venue/metrics", s.getVenueMetrics)

		api.GET("/strategies", s.getStrategies)
		api.GET("/strategies/:id", s.getStrategy)
		api.GET("/strategies/:id/positions", s.getStrategyPositions)
		api.GET("/strategies/:id/orders", s.getStrategyOrders)
		api.GET("/strategies/:id/fills", s.getStrategyFills)
	}
}

func (s *Server) health(c *gin.Context) {
	st := s.Engine.GetSystemStatus(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"strategies": st.Strategies,
		"running":    st.Running,
	})
}

// Handler returns the router for use with an http.Server.
func (s *Server) Handler() http.Handler {
	return s.Router
}
