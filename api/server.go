// Package api exposes the simulation control surface over HTTP: flexibility
// requests, population variation, clock control, status, report history and
// a websocket stream of notifications.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/kilianp07/flexsim/core/aggregator"
	"github.com/kilianp07/flexsim/core/device"
	"github.com/kilianp07/flexsim/core/logger"
	"github.com/kilianp07/flexsim/core/model"
	"github.com/kilianp07/flexsim/core/notify"
	"github.com/kilianp07/flexsim/core/reportlog"
	"github.com/kilianp07/flexsim/core/tracker"
)

// Simulation is what the API drives. *aggregator.Aggregator implements it.
type Simulation interface {
	Status() aggregator.Status
	Devices() []device.Status
	Device(addr model.Address) (*device.Device, bool)
	RequestFlexibility(ctx context.Context, percent float64) (tracker.Window, error)
	Vary(ctx context.Context, c device.Category, delta int) error
	Pause()
	Resume(ctx context.Context) error
	Step(n int) int64
	Reports(ctx context.Context, q reportlog.Query) ([]reportlog.Entry, error)
}

var _ Simulation = (*aggregator.Aggregator)(nil)

// Server serves the control API.
type Server struct {
	e        *echo.Echo
	sim      Simulation
	bus      *notify.Bus
	log      logger.Logger
	upgrader websocket.Upgrader
	metrics  http.Handler
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics mounts h on GET /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// NewServer builds the router. bus may be nil, which disables /api/stream.
func NewServer(sim Simulation, bus *notify.Bus, log logger.Logger, opts ...Option) *Server {
	s := &Server{
		e:   echo.New(),
		sim: sim,
		bus: bus,
		log: logger.OrNop(log),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, o := range opts {
		o(s)
	}
	s.e.HideBanner = true
	s.e.HidePort = true
	s.e.Use(middleware.Recover())
	s.e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			s.log.Debugw("http request", map[string]any{
				"method":  v.Method,
				"uri":     v.URI,
				"status":  v.Status,
				"latency": v.Latency.String(),
			})
			return nil
		},
	}))
	s.routes()
	return s
}

func (s *Server) routes() {
	g := s.e.Group("/api")
	g.GET("/status", s.status)
	g.GET("/devices", s.devices)
	g.GET("/devices/:address", s.device)
	g.PUT("/devices/:address/agreement", s.revise)
	g.POST("/requests", s.request)
	g.POST("/variations", s.vary)
	g.POST("/simulation/pause", s.pause)
	g.POST("/simulation/resume", s.resume)
	g.POST("/simulation/step", s.step)
	g.GET("/reports", s.reports)
	if s.bus != nil {
		g.GET("/stream", s.stream)
	}
	if s.metrics != nil {
		s.e.GET("/metrics", echo.WrapHandler(s.metrics))
	}
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.e }

// Run listens on addr until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("api listening on %s", addr)
		errCh <- s.e.Start(addr)
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.e.Shutdown(shutdownCtx)
	}
}
