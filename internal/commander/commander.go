// Package commander accepts missions, dispatches their orders and applies
// authenticated status reports to the status store.
package commander

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/missionctl/internal/auth"
	"github.com/danmuck/missionctl/internal/channel"
	"github.com/danmuck/missionctl/internal/mission"
	"github.com/danmuck/missionctl/internal/observability"
	"github.com/danmuck/missionctl/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrInvalidPayload  = errors.New("commander: invalid mission payload")
	ErrDispatchFailed  = errors.New("commander: mission dispatch failed")
	ErrMissionNotFound = errors.New("commander: mission not found")
)

// Transport is the durable channel as the commander uses it.
type Transport interface {
	Publish(ctx context.Context, queue string, msg any) bool
	Subscribe(ctx context.Context, queue string, prefetch int, handler channel.Handler) error
}

type Config struct {
	OrdersQueue    string
	StatusQueue    string
	StatusPrefetch int
	// RetryDelay separates status listener resubscriptions.
	RetryDelay time.Duration
}

func DefaultConfig() Config {
	return Config{
		OrdersQueue:    mission.OrdersQueue,
		StatusQueue:    mission.StatusQueue,
		StatusPrefetch: 1,
		RetryDelay:     3 * time.Second,
	}
}

func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(c.OrdersQueue) == "" {
		c.OrdersQueue = def.OrdersQueue
	}
	if strings.TrimSpace(c.StatusQueue) == "" {
		c.StatusQueue = def.StatusQueue
	}
	if c.StatusPrefetch <= 0 {
		c.StatusPrefetch = def.StatusPrefetch
	}
	if c.RetryDelay < 0 {
		c.RetryDelay = 0
	}
	return c
}

// TokenAuthority issues report tokens and validates them.
type TokenAuthority interface {
	auth.Validator
	Issue() auth.Token
}

// Commander owns mission creation and the status update path.
type Commander struct {
	cfg       Config
	transport Transport
	store     *store.StatusStore
	tokens    TokenAuthority
	now       func() time.Time
}

func New(cfg Config, transport Transport, statuses *store.StatusStore, tokens TokenAuthority) *Commander {
	return &Commander{
		cfg:       cfg.WithDefaults(),
		transport: transport,
		store:     statuses,
		tokens:    tokens,
		now:       time.Now,
	}
}

func (c *Commander) Config() Config {
	return c.cfg
}

// CreateMission records the mission as QUEUED and publishes its order. A
// publish failure returns ErrDispatchFailed and leaves the QUEUED record.
func (c *Commander) CreateMission(ctx context.Context, payload json.RawMessage) (mission.Mission, error) {
	payload = bytes.TrimSpace(payload)
	if len(payload) == 0 || !json.Valid(payload) {
		return mission.Mission{}, ErrInvalidPayload
	}
	m := mission.Mission{
		ID:        uuid.NewString(),
		Payload:   append(json.RawMessage(nil), payload...),
		Status:    mission.StatusQueued,
		CreatedAt: c.now().UTC(),
	}
	c.store.Put(ctx, m.ID, m.Status)
	observability.RecordMissionCreated()

	order := mission.Order{MissionID: m.ID, Data: m.Payload}
	if !c.transport.Publish(ctx, c.cfg.OrdersQueue, order) {
		log.Error().Str("mission_id", m.ID).Msg("commander order dispatch failed; mission left QUEUED")
		return m, fmt.Errorf("%w: mission %s", ErrDispatchFailed, m.ID)
	}
	log.Info().Str("mission_id", m.ID).Msg("commander mission dispatched")
	return m, nil
}

// GetMissionStatus returns the latest recorded status.
func (c *Commander) GetMissionStatus(ctx context.Context, missionID string) (mission.Status, error) {
	rec, err := c.store.Get(ctx, missionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", fmt.Errorf("%w: %q: %w", ErrMissionNotFound, missionID, err)
		}
		return "", err
	}
	return rec.Status, nil
}

// ListMissions returns every known mission with its status, unordered.
func (c *Commander) ListMissions(ctx context.Context) ([]store.Entry, error) {
	return c.store.List(ctx)
}

func (c *Commander) IssueToken() auth.Token {
	tok := c.tokens.Issue()
	observability.RecordTokenIssued()
	return tok
}

// HandleStatusReport applies one report from the status queue. Malformed
// and unauthenticated reports are discarded without touching the store.
func (c *Commander) HandleStatusReport(ctx context.Context, body []byte) channel.Decision {
	report, err := mission.DecodeStatusReport(body)
	if err != nil {
		observability.RecordStatusReport(observability.ReportMalformed)
		log.Warn().Err(err).Msg("commander discarding malformed status report")
		return channel.Discard
	}
	if err := c.tokens.Validate(report.Token); err != nil {
		observability.RecordStatusReport(observability.ReportRejected)
		log.Warn().
			Str("mission_id", report.MissionID).
			Str("status", report.Status.String()).
			Err(err).
			Msg("commander discarding unauthenticated status report")
		return channel.Discard
	}
	c.store.Put(ctx, report.MissionID, report.Status)
	observability.RecordStatusReport(observability.ReportApplied)
	log.Info().
		Str("mission_id", report.MissionID).
		Str("status", report.Status.String()).
		Msg("commander status applied")
	return channel.Ack
}

// RunStatusListener consumes status reports until ctx is cancelled,
// resubscribing after RetryDelay whenever the subscription ends.
func (c *Commander) RunStatusListener(ctx context.Context) error {
	for {
		err := c.transport.Subscribe(ctx, c.cfg.StatusQueue, c.cfg.StatusPrefetch, c.HandleStatusReport)
		if ctx.Err() != nil {
			return nil
		}
		log.Warn().Str("queue", c.cfg.StatusQueue).Err(err).Msg("commander status subscription ended; resubscribing")
		timer := time.NewTimer(c.cfg.RetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}
