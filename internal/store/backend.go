package store

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/danmuck/missionctl/internal/mission"
)

var ErrNotFound = errors.New("store: mission not found")

// Record is the persisted status for one mission.
type Record struct {
	Status mission.Status `json:"status"`
}

// Entry pairs a mission id with its record for listings.
type Entry struct {
	MissionID string         `json:"mission_id"`
	Status    mission.Status `json:"status"`
}

// Backend is one storage tier keyed by mission id.
type Backend interface {
	Put(ctx context.Context, missionID string, rec Record) error
	// Get returns ErrNotFound when the id is absent from this tier.
	Get(ctx context.Context, missionID string) (Record, error)
	List(ctx context.Context) ([]Entry, error)
}

// MemoryBackend is the in-process tier. It never fails.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string]Record
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		items: make(map[string]Record),
	}
}

func (m *MemoryBackend) Put(_ context.Context, missionID string, rec Record) error {
	key := strings.TrimSpace(missionID)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = rec
	return nil
}

func (m *MemoryBackend) Get(_ context.Context, missionID string) (Record, error) {
	key := strings.TrimSpace(missionID)
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.items[key]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryBackend) List(_ context.Context) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Entry, 0, len(m.items))
	for id, rec := range m.items {
		out = append(out, Entry{MissionID: id, Status: rec.Status})
	}
	return out, nil
}

func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}

var _ Backend = (*MemoryBackend)(nil)
