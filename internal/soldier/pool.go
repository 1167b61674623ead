package soldier

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danmuck/missionctl/internal/channel"
	"github.com/danmuck/missionctl/internal/mission"
	"github.com/danmuck/missionctl/internal/observability"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Transport is the durable channel as the pool uses it.
type Transport interface {
	Publish(ctx context.Context, queue string, msg any) bool
	Subscribe(ctx context.Context, queue string, prefetch int, handler channel.Handler) error
}

type PoolConfig struct {
	Concurrency int
	Prefetch    int
	OrdersQueue string
	StatusQueue string
	// RetryDelay separates resubscription attempts after the order stream ends.
	RetryDelay time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Concurrency: 5,
		Prefetch:    5,
		OrdersQueue: mission.OrdersQueue,
		StatusQueue: mission.StatusQueue,
		RetryDelay:  3 * time.Second,
	}
}

func (c PoolConfig) WithDefaults() PoolConfig {
	def := DefaultPoolConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.Prefetch <= 0 {
		c.Prefetch = def.Prefetch
	}
	if strings.TrimSpace(c.OrdersQueue) == "" {
		c.OrdersQueue = def.OrdersQueue
	}
	if strings.TrimSpace(c.StatusQueue) == "" {
		c.StatusQueue = def.StatusQueue
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return c
}

// Pool consumes orders and runs at most Concurrency missions at a time.
// Orders beyond that stay in the broker, bounded by Prefetch in flight.
type Pool struct {
	cfg       PoolConfig
	transport Transport
	task      Task
	tokens    TokenSource

	group   *errgroup.Group
	running atomic.Int64
	peak    atomic.Int64
}

func NewPool(cfg PoolConfig, transport Transport, task Task, tokens TokenSource) *Pool {
	cfg = cfg.WithDefaults()
	g := new(errgroup.Group)
	g.SetLimit(cfg.Concurrency)
	return &Pool{
		cfg:       cfg,
		transport: transport,
		task:      task,
		tokens:    tokens,
		group:     g,
	}
}

func (p *Pool) Config() PoolConfig {
	return p.cfg
}

// Running is the number of missions currently in the execution phase.
func (p *Pool) Running() int {
	return int(p.running.Load())
}

// Peak is the highest concurrent execution count observed.
func (p *Pool) Peak() int {
	return int(p.peak.Load())
}

// Run consumes orders until ctx is cancelled, then waits for in-flight
// missions to finish.
func (p *Pool) Run(ctx context.Context) error {
	for {
		err := p.transport.Subscribe(ctx, p.cfg.OrdersQueue, p.cfg.Prefetch, p.HandleOrder)
		if ctx.Err() != nil {
			break
		}
		log.Warn().Str("queue", p.cfg.OrdersQueue).Err(err).Msg("soldier order subscription ended; resubscribing")
		if !waitDelay(ctx, p.cfg.RetryDelay) {
			break
		}
	}
	p.Wait()
	return nil
}

// Wait blocks until every accepted mission has finished.
func (p *Pool) Wait() {
	_ = p.group.Wait()
}

// HandleOrder hands a decoded order to the executor and acknowledges it
// before the mission completes. It blocks while the pool is full.
func (p *Pool) HandleOrder(ctx context.Context, body []byte) channel.Decision {
	order, err := mission.DecodeOrder(body)
	if err != nil {
		log.Warn().Err(err).Msg("soldier discarding malformed order")
		return channel.Discard
	}
	log.Info().Str("mission_id", order.MissionID).Msg("soldier order received")

	execCtx := context.WithoutCancel(ctx)
	p.group.Go(func() error {
		p.Execute(execCtx, order)
		return nil
	})
	return channel.Ack
}

// Execute reports IN_PROGRESS, runs the task and reports the outcome.
func (p *Pool) Execute(ctx context.Context, order mission.Order) mission.Status {
	p.report(ctx, order.MissionID, mission.StatusInProgress)

	p.enter()
	start := time.Now()
	final := p.run(ctx, order)
	p.leave(final)

	log.Info().
		Str("mission_id", order.MissionID).
		Str("status", final.String()).
		Dur("duration", time.Since(start)).
		Msg("soldier mission finished")
	p.report(ctx, order.MissionID, final)
	return final
}

func (p *Pool) run(ctx context.Context, order mission.Order) (status mission.Status) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error().Str("mission_id", order.MissionID).Interface("panic", rec).Msg("soldier task panicked")
			status = mission.StatusFailed
		}
	}()
	ok, err := p.task.Run(ctx, order)
	if err != nil {
		log.Warn().Str("mission_id", order.MissionID).Err(err).Msg("soldier task failed")
		return mission.StatusFailed
	}
	if !ok {
		return mission.StatusFailed
	}
	return mission.StatusCompleted
}

func (p *Pool) report(ctx context.Context, missionID string, status mission.Status) bool {
	token, err := p.tokens.Token(ctx)
	if err != nil {
		observability.RecordReportDropped()
		log.Warn().
			Str("mission_id", missionID).
			Str("status", status.String()).
			Err(err).
			Msg("soldier status report not sent")
		return false
	}
	report := mission.StatusReport{MissionID: missionID, Status: status, Token: token}
	if !p.transport.Publish(ctx, p.cfg.StatusQueue, report) {
		observability.RecordReportDropped()
		log.Error().
			Str("mission_id", missionID).
			Str("status", status.String()).
			Msg("soldier status report publish failed")
		return false
	}
	return true
}

func (p *Pool) enter() {
	observability.MissionStarted()
	n := p.running.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (p *Pool) leave(final mission.Status) {
	p.running.Add(-1)
	observability.MissionFinished(final.String())
}

func waitDelay(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
