package store

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis"
)

// Redis stores keys as plain Redis strings.
type Redis struct {
	client *redis.Client
}

// OpenRedis parses a redis:// URL and checks the server answers PING.
func OpenRedis(url string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	opts.PoolSize = 4
	opts.DialTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	pong, err := client.Ping().Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed connecting to redis: %w", err)
	}
	if pong != "PONG" {
		client.Close()
		return nil, fmt.Errorf("redis did not respond with 'PONG', '%s'", pong)
	}

	return &Redis{client: client}, nil
}

// The v6 client has no context support; ctx only bounds the caller.
func (s *Redis) Get(ctx context.Context, key string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	v, err := s.client.Get(key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	return v, err
}

func (s *Redis) Set(ctx context.Context, key, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.client.Set(key, value, 0).Err()
}

func (s *Redis) Close() error {
	return s.client.Close()
}
