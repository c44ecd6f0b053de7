package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/amishk599/careerscan/internal/model"
)

const (
	keyPrefix  = "careerscan:progress:"
	defaultTTL = 24 * time.Hour
)

// RedisStore keeps snapshots in Redis so a separate process (the HTTP server
// or another CLI) can poll a run it did not start.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to addr and verifies the connection with a ping.
func NewRedisStore(ctx context.Context, addr, password string, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", addr, err)
	}
	return NewRedisStoreFromClient(client, ttl), nil
}

// NewRedisStoreFromClient wraps an existing client. A non-positive ttl uses 24h.
func NewRedisStoreFromClient(client *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisStore{client: client, ttl: ttl}
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Put writes the snapshot as a single JSON value, so readers see either the old
// or the new snapshot.
func (s *RedisStore) Put(ctx context.Context, p model.RunProgress) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encoding progress for run %s: %w", p.RunID, err)
	}
	if err := s.client.Set(ctx, keyPrefix+p.RunID, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("storing progress for run %s: %w", p.RunID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, runID string) (model.RunProgress, bool, error) {
	b, err := s.client.Get(ctx, keyPrefix+runID).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.RunProgress{}, false, nil
	}
	if err != nil {
		return model.RunProgress{}, false, fmt.Errorf("loading progress for run %s: %w", runID, err)
	}

	var p model.RunProgress
	if err := json.Unmarshal(b, &p); err != nil {
		return model.RunProgress{}, false, fmt.Errorf("decoding progress for run %s: %w", runID, err)
	}
	return p, true, nil
}
