// Package store tracks the latest status of every mission across two tiers:
// a durable backend that is authoritative while reachable, and an in-memory
// tier that receives every write and serves reads when the durable tier
// fails. The tiers are never merged.
package store

import (
	"context"
	"errors"
	"strings"

	"github.com/danmuck/missionctl/internal/mission"
	"github.com/danmuck/missionctl/internal/observability"
	"github.com/rs/zerolog/log"
)

type StatusStore struct {
	memory  *MemoryBackend
	durable Backend
}

// New builds a store. A nil durable backend runs memory-only.
func New(durable Backend) *StatusStore {
	return &StatusStore{
		memory:  NewMemoryBackend(),
		durable: durable,
	}
}

func (s *StatusStore) HasDurable() bool {
	return s.durable != nil
}

// Put records status in memory, then best-effort in the durable tier.
// Durable failures are logged and swallowed.
func (s *StatusStore) Put(ctx context.Context, missionID string, status mission.Status) {
	key := strings.TrimSpace(missionID)
	rec := Record{Status: status}
	_ = s.memory.Put(ctx, key, rec)
	if s.durable == nil {
		return
	}
	if err := s.durable.Put(ctx, key, rec); err != nil {
		observability.RecordStoreFallback("put")
		log.Warn().
			Str("mission_id", key).
			Str("status", status.String()).
			Err(err).
			Msg("store.Put durable write failed; kept in memory")
	}
}

// Get prefers the durable tier and falls back to memory on failure or absence.
func (s *StatusStore) Get(ctx context.Context, missionID string) (Record, error) {
	key := strings.TrimSpace(missionID)
	if s.durable != nil {
		rec, err := s.durable.Get(ctx, key)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, ErrNotFound) {
			observability.RecordStoreFallback("get")
			log.Warn().Str("mission_id", key).Err(err).Msg("store.Get durable read failed; using memory")
		}
	}
	return s.memory.Get(ctx, key)
}

// List returns the durable tier's entries when reachable, memory otherwise.
func (s *StatusStore) List(ctx context.Context) ([]Entry, error) {
	if s.durable != nil {
		entries, err := s.durable.List(ctx)
		if err == nil {
			return entries, nil
		}
		observability.RecordStoreFallback("list")
		log.Warn().Err(err).Msg("store.List durable read failed; using memory")
	}
	return s.memory.List(ctx)
}
