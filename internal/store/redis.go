package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const DefaultHashKey = "missions"

// RedisConfig locates the durable tier.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	HashKey     string
	DialTimeout time.Duration
	OpTimeout   time.Duration
}

func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:        "redis:6379",
		HashKey:     DefaultHashKey,
		DialTimeout: 2 * time.Second,
		OpTimeout:   time.Second,
	}
}

// RedisBackend stores JSON records in one hash, field = mission id.
type RedisBackend struct {
	client  *redis.Client
	key     string
	timeout time.Duration
}

func NewRedisClient(cfg RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         strings.TrimSpace(cfg.Addr),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
		MaxRetries:   1,
	})
}

func NewRedisBackend(client *redis.Client, cfg RedisConfig) *RedisBackend {
	key := strings.TrimSpace(cfg.HashKey)
	if key == "" {
		key = DefaultHashKey
	}
	return &RedisBackend{client: client, key: key, timeout: cfg.OpTimeout}
}

// Ping reports whether the durable tier is reachable right now.
func (r *RedisBackend) Ping(ctx context.Context) error {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

func (r *RedisBackend) Put(ctx context.Context, missionID string, rec Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("store: encode record: %w", err)
	}
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	if err := r.client.HSet(ctx, r.key, missionID, raw).Err(); err != nil {
		return fmt.Errorf("store: redis hset %s: %w", missionID, err)
	}
	return nil
}

func (r *RedisBackend) Get(ctx context.Context, missionID string) (Record, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	raw, err := r.client.HGet(ctx, r.key, missionID).Result()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("store: redis hget %s: %w", missionID, err)
	}
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return Record{}, fmt.Errorf("store: decode record %s: %w", missionID, err)
	}
	return rec, nil
}

func (r *RedisBackend) List(ctx context.Context) ([]Entry, error) {
	ctx, cancel := r.opContext(ctx)
	defer cancel()
	all, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("store: redis hgetall: %w", err)
	}
	out := make([]Entry, 0, len(all))
	for id, raw := range all {
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("store: decode record %s: %w", id, err)
		}
		out = append(out, Entry{MissionID: id, Status: rec.Status})
	}
	return out, nil
}

func (r *RedisBackend) Close() error {
	return r.client.Close()
}

func (r *RedisBackend) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.timeout)
}

var _ Backend = (*RedisBackend)(nil)
