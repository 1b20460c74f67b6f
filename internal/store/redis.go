// Package store keeps the latest projected position of every train in Redis
// so other processes can read it without subscribing to NATS.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mrevanzak/persepuran/internal/gapeka"
)

var ErrNotFound = errors.New("train position not found")

// RedisClientInterface defines the Redis operations used by our client
type RedisClientInterface interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	Close() error
}

type Client struct {
	client RedisClientInterface
	ttl    time.Duration

	mu   sync.Mutex
	seen map[int64]struct{}
}

func New(addr string, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewWithClient(client, ttl), nil
}

// NewWithClient creates a store with a custom RedisClientInterface (useful for testing)
func NewWithClient(client RedisClientInterface, ttl time.Duration) *Client {
	return &Client{client: client, ttl: ttl, seen: make(map[int64]struct{})}
}

func (c *Client) Name() string { return "redis" }

func (c *Client) Close() error {
	return c.client.Close()
}

func Key(trainID int64) string {
	return "train:" + strconv.FormatInt(trainID, 10)
}

// PublishPositions writes every position under its train key and deletes the
// keys of trains that were present last tick but not this one.
func (c *Client) PublishPositions(ctx context.Context, at time.Time, positions []gapeka.ProjectedPosition) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := make(map[int64]struct{}, len(positions))
	for _, p := range positions {
		data, err := json.Marshal(p)
		if err != nil {
			return fmt.Errorf("failed to marshal position: %w", err)
		}
		if err := c.client.Set(ctx, Key(p.TrainID), data, c.ttl).Err(); err != nil {
			return fmt.Errorf("failed to store train %d: %w", p.TrainID, err)
		}
		current[p.TrainID] = struct{}{}
	}

	var gone []string
	for id := range c.seen {
		if _, ok := current[id]; !ok {
			gone = append(gone, Key(id))
		}
	}
	c.seen = current
	if len(gone) > 0 {
		if err := c.client.Del(ctx, gone...).Err(); err != nil {
			return fmt.Errorf("failed to delete departed trains: %w", err)
		}
	}
	return nil
}

func (c *Client) GetPosition(ctx context.Context, trainID int64) (*gapeka.ProjectedPosition, error) {
	data, err := c.client.Get(ctx, Key(trainID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get train %d: %w", trainID, err)
	}
	var p gapeka.ProjectedPosition
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to unmarshal train %d: %w", trainID, err)
	}
	return &p, nil
}
