// Package cache stores function-mode verdicts in Redis so identical
// submissions skip the sandbox.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/itstheanurag/codemare/internal/models"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "codemare:verdict:"

// Config holds the Redis connection settings.
type Config struct {
	Addr         string
	Password     string
	DB           int
	TTL          time.Duration
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

func DefaultConfig() Config {
	return Config{
		TTL:          10 * time.Minute,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		PoolSize:     20,
	}
}

// VerdictCache keeps sanitized execution responses keyed by submission.
type VerdictCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*VerdictCache, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis addr cannot be empty")
	}

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &VerdictCache{client: client, ttl: cfg.TTL}, nil
}

func (c *VerdictCache) Get(ctx context.Context, key string) (*models.ExecutionResponse, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var resp models.ExecutionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		// A value we cannot read is treated as a miss and overwritten later.
		return nil, false, nil
	}
	return &resp, true, nil
}

func (c *VerdictCache) Set(ctx context.Context, key string, resp models.ExecutionResponse) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode verdict: %w", err)
	}
	return c.client.Set(ctx, keyPrefix+key, raw, c.ttl).Err()
}

func (c *VerdictCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *VerdictCache) Close() error {
	return c.client.Close()
}
