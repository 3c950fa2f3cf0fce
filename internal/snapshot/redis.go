package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/fractal-lba/adaptive/internal/engine"
)

// RedisStore keeps each snapshot as a JSON string under adaptive:snapshot:<name>.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings Redis.
//
// Args:
//   - addr: Redis address (e.g., "localhost:6379")
//   - password: Redis password (empty string if none)
//   - db: Redis database number
func NewRedisStore(ctx context.Context, addr, password string, db int) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisStore{client: client}, nil
}

func redisKey(name string) string {
	return fmt.Sprintf("adaptive:snapshot:%s", name)
}

func (r *RedisStore) Save(ctx context.Context, name string, snap *engine.Snapshot) error {
	if err := checkName(name); err != nil {
		return err
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	if err := r.client.Set(ctx, redisKey(name), data, 0).Err(); err != nil {
		return fmt.Errorf("redis SET failed: %w", err)
	}
	return nil
}

func (r *RedisStore) Load(ctx context.Context, name string) (*engine.Snapshot, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	data, err := r.client.Get(ctx, redisKey(name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis GET failed: %w", err)
	}
	return decode(data)
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}
