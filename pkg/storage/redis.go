package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/HatiCode/linecast/pkg/forecast"
	"github.com/redis/go-redis/v9"
)

// RedisStore stores results in Redis so several forecaster instances can
// serve each other's runs. Each result is written under its dated key and
// under the latest key of its line and horizon, both with the same TTL.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	mu     sync.RWMutex
}

// NewRedisStore connects to addr. A zero ttl defaults to 24 hours.
func NewRedisStore(addr, password string, db int, ttl time.Duration) (*RedisStore, error) {
	if addr == "" {
		return nil, errors.New("redis address cannot be empty")
	}
	if db < 0 {
		return nil, errors.New("redis database number must be >= 0")
	}

	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}

	return &RedisStore{
		client: client,
		ttl:    ttl,
	}, nil
}

// DatedKey returns linecast:forecast:{line}:{hours}h:{date}.
func DatedKey(k Key) string {
	return fmt.Sprintf("linecast:forecast:%s:%dh:%s", k.Line, k.Hours, k.Date)
}

// LatestKey returns linecast:forecast:{line}:{hours}h:latest.
func LatestKey(line string, hours int) string {
	return fmt.Sprintf("linecast:forecast:%s:%dh:latest", line, hours)
}

// Put stores res under its dated key and the latest key in one transaction.
func (r *RedisStore) Put(ctx context.Context, res *forecast.Result) error {
	key := KeyFor(res)
	if err := key.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, DatedKey(key), data, r.ttl)
		pipe.Set(ctx, LatestKey(key.Line, key.Hours), data, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store result in redis: %w", err)
	}
	return nil
}

// Get returns the result stored under key.
func (r *RedisStore) Get(ctx context.Context, key Key) (*forecast.Result, bool, error) {
	if err := key.Validate(); err != nil {
		return nil, false, err
	}
	return r.get(ctx, DatedKey(key))
}

// GetLatest returns the most recently stored result of line and hours.
func (r *RedisStore) GetLatest(ctx context.Context, line string, hours int) (*forecast.Result, bool, error) {
	if err := ValidateLine(line); err != nil {
		return nil, false, err
	}
	return r.get(ctx, LatestKey(line, hours))
}

func (r *RedisStore) get(ctx context.Context, key string) (*forecast.Result, bool, error) {
	data, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to get result from redis: %w", err)
	}

	var res forecast.Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return &res, true, nil
}

// Close closes the Redis client. It is safe to call more than once.
func (r *RedisStore) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.client == nil {
		return nil
	}

	err := r.client.Close()
	r.client = nil
	if err != nil && err.Error() == "redis: client is closed" {
		return nil
	}

	return err
}

// Ping checks the Redis connection.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
