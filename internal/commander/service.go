package commander

import (
	"context"
	"strings"
	"time"

	"github.com/danmuck/missionctl/internal/auth"
	"github.com/danmuck/missionctl/internal/channel"
	"github.com/danmuck/missionctl/internal/node"
	"github.com/danmuck/missionctl/internal/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ServiceConfig configures a standalone commander process.
type ServiceConfig struct {
	CommanderID   string
	ListenAddr    string
	CORSOrigins   []string
	TokenRotation time.Duration
	Broker        channel.Config
	// Redis.Addr empty runs the status store memory-only.
	Redis     store.RedisConfig
	Commander Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		CommanderID:   "commander.local",
		ListenAddr:    ":8000",
		CORSOrigins:   []string{"http://localhost:3000"},
		TokenRotation: auth.DefaultRotationInterval,
		Broker:        channel.DefaultConfig(),
		Redis:         store.DefaultRedisConfig(),
		Commander:     DefaultConfig(),
	}
}

type ServiceOption func(*Service)

// WithTransport replaces the RabbitMQ-backed channel.
func WithTransport(t Transport) ServiceOption {
	return func(s *Service) { s.transport = t }
}

func WithAuthority(a *auth.Authority) ServiceOption {
	return func(s *Service) { s.authority = a }
}

// Service hosts the Commander behind the HTTP API and runs its status listener.
type Service struct {
	cfg       ServiceConfig
	transport Transport
	authority *auth.Authority
	redis     *store.RedisBackend
	store     *store.StatusStore
	commander *Commander
	router    *gin.Engine
	started   time.Time
}

func NewService() *Service {
	return NewServiceWithConfig(DefaultServiceConfig())
}

func NewServiceWithConfig(cfg ServiceConfig, opts ...ServiceOption) *Service {
	cfg.Broker = cfg.Broker.WithDefaults()
	cfg.Commander = cfg.Commander.WithDefaults()
	if strings.TrimSpace(cfg.CommanderID) == "" {
		cfg.CommanderID = DefaultServiceConfig().CommanderID
	}
	if cfg.Commander.RetryDelay == 0 {
		cfg.Commander.RetryDelay = cfg.Broker.ConnectDelay
	}

	s := &Service{cfg: cfg, started: time.Now()}
	for _, opt := range opts {
		opt(s)
	}
	if s.transport == nil {
		s.transport = channel.New(cfg.Broker)
	}
	if s.authority == nil {
		s.authority = auth.NewAuthority(cfg.TokenRotation)
	}

	var durable store.Backend
	if strings.TrimSpace(cfg.Redis.Addr) != "" {
		s.redis = store.NewRedisBackend(store.NewRedisClient(cfg.Redis), cfg.Redis)
		durable = s.redis
	}
	s.store = store.New(durable)
	s.commander = New(cfg.Commander, s.transport, s.store, s.authority)

	s.router = node.NewRouter(cfg.CommanderID, cfg.CORSOrigins)
	s.registerRoutes()
	return s
}

func (s *Service) Commander() *Commander {
	return s.commander
}

func (s *Service) NodeID() string {
	return s.cfg.CommanderID
}

func (s *Service) Kind() string {
	return "commander"
}

func (s *Service) HTTPRouter() *gin.Engine {
	return s.router
}

// Run serves the HTTP API and the status listener until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	log.Info().
		Str("commander", s.cfg.CommanderID).
		Str("addr", s.cfg.ListenAddr).
		Bool("durable", s.store.HasDurable()).
		Dur("token_rotation", s.authority.RotationInterval()).
		Msg("commander starting")
	s.checkDurable(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return node.Serve(gctx, s, s.cfg.ListenAddr)
	})
	g.Go(func() error {
		return s.commander.RunStatusListener(gctx)
	})
	err := g.Wait()

	if s.redis != nil {
		if cerr := s.redis.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("commander redis close failed")
		}
	}
	log.Info().Str("commander", s.cfg.CommanderID).Msg("commander stopped")
	return err
}

// checkDurable pings Redis once. A failure is logged and the client kept so
// later operations can recover when Redis comes back.
func (s *Service) checkDurable(ctx context.Context) {
	if s.redis == nil {
		log.Warn().Msg("commander running with memory-only status store")
		return
	}
	if err := s.redis.Ping(ctx); err != nil {
		log.Warn().Str("addr", s.cfg.Redis.Addr).Err(err).Msg("commander redis unreachable; using memory fallback until it recovers")
		return
	}
	log.Info().Str("addr", s.cfg.Redis.Addr).Msg("commander redis connected")
}
