package soldier

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/danmuck/missionctl/internal/mission"
)

// Task is the unit of work behind a mission. Run reports whether the
// mission succeeded; an error is treated as failure.
type Task interface {
	Run(ctx context.Context, order mission.Order) (bool, error)
}

// TaskFunc adapts a function into a Task.
type TaskFunc func(ctx context.Context, order mission.Order) (bool, error)

func (f TaskFunc) Run(ctx context.Context, order mission.Order) (bool, error) {
	return f(ctx, order)
}

// SimulationConfig shapes the stand-in workload.
type SimulationConfig struct {
	MinDuration time.Duration
	MaxDuration time.Duration
	SuccessRate float64
}

func DefaultSimulationConfig() SimulationConfig {
	return SimulationConfig{
		MinDuration: 5 * time.Second,
		MaxDuration: 15 * time.Second,
		SuccessRate: 0.9,
	}
}

// SimulatedTask sleeps a uniformly random duration, then succeeds with
// probability SuccessRate.
type SimulatedTask struct {
	cfg SimulationConfig

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulatedTask(cfg SimulationConfig, seed int64) *SimulatedTask {
	if cfg.MaxDuration < cfg.MinDuration {
		cfg.MaxDuration = cfg.MinDuration
	}
	return &SimulatedTask{
		cfg: cfg,
		rng: rand.New(rand.NewSource(seed)),
	}
}

func (s *SimulatedTask) Run(ctx context.Context, order mission.Order) (bool, error) {
	d, success := s.draw()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return success, nil
	}
}

func (s *SimulatedTask) draw() (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	span := s.cfg.MaxDuration - s.cfg.MinDuration
	d := s.cfg.MinDuration
	if span > 0 {
		d += time.Duration(s.rng.Int63n(int64(span) + 1))
	}
	return d, s.rng.Float64() < s.cfg.SuccessRate
}
