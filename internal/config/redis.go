package config

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// InitRedis connects to Redis. Returns nil client when REDIS_ADDR is empty;
// Redis only backs the operational counters, nothing authoritative.
func InitRedis(ctx context.Context, s Settings) (*redis.Client, error) {
	if s.RedisAddr == "" {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     s.RedisAddr,
		Password: s.RedisPassword,
		DB:       s.RedisDB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis tidak nyambung: %w", err)
	}
	return client, nil
}
