package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Config for the shared redis client.
type Config struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

// New dials redis and verifies the connection with a short ping.
func New(c Config) (*goredis.Client, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     c.Addr,
		Password: c.Password,
		DB:       c.DB,
		PoolSize: c.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
