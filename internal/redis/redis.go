// Package redis mirrors the shared context and message history into Redis
// so dashboards and other processes can read them.
//
// Graceful fallback: if Redis is unavailable the mirror drops writes
// instead of blocking the network.
package redis

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key suffixes appended to the configured prefix.
const (
	KeyContext = "ctx"  // JSON snapshot of the shared context
	KeyHistory = "hist" // list of JSON messages, oldest first
)

// Config holds Redis connection settings.
type Config struct {
	URL      string // redis://host:port
	Password string
	DB       int
}

// Connect opens and pings a client. An empty URL returns (nil, nil).
func Connect(cfg Config) (*redis.Client, error) {
	if cfg.URL == "" {
		log.Println("[Redis] URL not configured, mirror disabled")
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB != 0 {
		opts.DB = cfg.DB
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.MaxRetries = 3

	c := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Ping(ctx).Err(); err != nil {
		c.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Println("[Redis] ✅ Connected")
	return c, nil
}

// store is the subset of Redis operations the mirror performs.
type store interface {
	SaveContext(ctx context.Context, key string, data []byte) error
	AppendHistory(ctx context.Context, key string, data []byte, limit int) error
	ClearHistory(ctx context.Context, key string) error
	LoadContext(ctx context.Context, key string) ([]byte, error)
	LoadHistory(ctx context.Context, key string, limit int) ([]string, error)
}

// clientStore implements store on a go-redis client.
type clientStore struct {
	c *redis.Client
}

func (s clientStore) SaveContext(ctx context.Context, key string, data []byte) error {
	return s.c.Set(ctx, key, data, 0).Err()
}

func (s clientStore) AppendHistory(ctx context.Context, key string, data []byte, limit int) error {
	pipe := s.c.TxPipeline()
	pipe.RPush(ctx, key, data)
	if limit > 0 {
		pipe.LTrim(ctx, key, int64(-limit), -1)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s clientStore) ClearHistory(ctx context.Context, key string) error {
	return s.c.Del(ctx, key).Err()
}

func (s clientStore) LoadContext(ctx context.Context, key string) ([]byte, error) {
	data, err := s.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return data, err
}

func (s clientStore) LoadHistory(ctx context.Context, key string, limit int) ([]string, error) {
	start := int64(0)
	if limit > 0 {
		start = int64(-limit)
	}
	return s.c.LRange(ctx, key, start, -1).Result()
}
