// Package soldier consumes mission orders, executes them on a bounded pool
// and reports each status transition back to the commander.
package soldier

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/danmuck/missionctl/internal/channel"
	"github.com/danmuck/missionctl/internal/node"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

var ErrMissingCommanderURL = errors.New("soldier: commander url required")

// ServiceConfig configures a standalone soldier process.
type ServiceConfig struct {
	SoldierID    string
	CommanderURL string
	// TokenRefreshBefore is how long before expiry a cached token is replaced.
	TokenRefreshBefore time.Duration
	// MetricsAddr serves /health and /metrics when set.
	MetricsAddr string
	Broker      channel.Config
	Pool        PoolConfig
	Simulation  SimulationConfig
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		SoldierID:          "soldier.local",
		CommanderURL:       "http://commander:8000",
		TokenRefreshBefore: 5 * time.Second,
		Broker:             channel.DefaultConfig(),
		Pool:               DefaultPoolConfig(),
		Simulation:         DefaultSimulationConfig(),
	}
}

type ServiceOption func(*Service)

// WithTransport replaces the RabbitMQ-backed channel.
func WithTransport(t Transport) ServiceOption {
	return func(s *Service) { s.transport = t }
}

func WithTask(t Task) ServiceOption {
	return func(s *Service) { s.task = t }
}

func WithTokenSource(src TokenSource) ServiceOption {
	return func(s *Service) { s.tokens = src }
}

// Service wires the channel, token source and task into a Pool.
type Service struct {
	cfg       ServiceConfig
	transport Transport
	task      Task
	tokens    TokenSource
	pool      *Pool
	router    *gin.Engine
}

func NewService() (*Service, error) {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig, opts ...ServiceOption) (*Service, error) {
	cfg.Broker = cfg.Broker.WithDefaults()
	cfg.Pool = cfg.Pool.WithDefaults()
	if strings.TrimSpace(cfg.SoldierID) == "" {
		cfg.SoldierID = DefaultServiceConfig().SoldierID
	}
	s := &Service{cfg: cfg}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		s.transport = channel.New(cfg.Broker)
	}
	if s.task == nil {
		s.task = NewSimulatedTask(cfg.Simulation, time.Now().UnixNano())
	}
	if s.tokens == nil {
		if strings.TrimSpace(cfg.CommanderURL) == "" {
			return nil, ErrMissingCommanderURL
		}
		s.tokens = NewHTTPTokenSource(cfg.CommanderURL, cfg.TokenRefreshBefore, nil)
	}
	s.pool = NewPool(cfg.Pool, s.transport, s.task, s.tokens)
	return s, nil
}

func (s *Service) Pool() *Pool {
	return s.pool
}

func (s *Service) NodeID() string {
	return s.cfg.SoldierID
}

func (s *Service) Kind() string {
	return "soldier"
}

// HTTPRouter exposes health and metrics for the soldier process.
func (s *Service) HTTPRouter() *gin.Engine {
	if s.router != nil {
		return s.router
	}
	r := node.NewRouter(s.cfg.SoldierID, nil)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "ok",
			"node":      s.cfg.SoldierID,
			"executing": s.pool.Running(),
			"capacity":  s.pool.Config().Concurrency,
		})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router = r
	return r
}

// Run consumes orders until ctx is cancelled. In-flight missions run
// to completion before it returns.
func (s *Service) Run(ctx context.Context) error {
	log.Info().
		Str("soldier", s.cfg.SoldierID).
		Int("concurrency", s.pool.Config().Concurrency).
		Int("prefetch", s.pool.Config().Prefetch).
		Str("orders_queue", s.pool.Config().OrdersQueue).
		Msg("soldier starting")

	g, gctx := errgroup.WithContext(ctx)
	if addr := strings.TrimSpace(s.cfg.MetricsAddr); addr != "" {
		g.Go(func() error {
			return node.Serve(gctx, s, addr)
		})
	}
	g.Go(func() error {
		return s.pool.Run(gctx)
	})
	err := g.Wait()
	log.Info().Str("soldier", s.cfg.SoldierID).Msg("soldier stopped")
	return err
}
