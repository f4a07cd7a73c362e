package db

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
)

// OpenRedis connects to Redis and verifies the link with a ping.
func OpenRedis(addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return client, nil
}
