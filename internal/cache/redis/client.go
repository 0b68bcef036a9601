package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/game-insight/backend/internal/metrics"
	"github.com/game-insight/backend/pkg/logger"
)

const replyPrefix = "reply:"

type Client struct {
	client *redis.Client
	ttl    time.Duration
}

type cachedReply struct {
	Model    string    `json:"model"`
	Reply    string    `json:"reply"`
	CachedAt time.Time `json:"cached_at"`
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized", zap.String("addr", fmt.Sprintf("%s:%d", host, port)))

	return &Client{client: client, ttl: ttl}, nil
}

func (c *Client) Close() error {
	return c.client.Close()
}

func replyKey(hash string) string {
	return replyPrefix + hash
}

// SetReply stores a completion reply under the prompt hash.
func (c *Client) SetReply(ctx context.Context, hash, model, reply string) error {
	data, err := json.Marshal(cachedReply{Model: model, Reply: reply, CachedAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal reply: %w", err)
	}

	if err := c.client.Set(ctx, replyKey(hash), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set reply cache: %w", err)
	}

	logger.Debug("Reply cached", zap.String("hash", hash), zap.Duration("ttl", c.ttl))
	return nil
}

// GetReply returns the cached reply and whether it was present.
func (c *Client) GetReply(ctx context.Context, hash string) (string, bool, error) {
	data, err := c.client.Get(ctx, replyKey(hash)).Bytes()
	if errors.Is(err, redis.Nil) {
		metrics.CacheMisses.WithLabelValues("reply").Inc()
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get reply cache: %w", err)
	}

	var cached cachedReply
	if err := json.Unmarshal(data, &cached); err != nil {
		return "", false, fmt.Errorf("failed to unmarshal reply: %w", err)
	}

	metrics.CacheHits.WithLabelValues("reply").Inc()
	logger.Debug("Reply cache hit", zap.String("hash", hash))
	return cached.Reply, true, nil
}

// InvalidateReplies drops every cached reply.
func (c *Client) InvalidateReplies(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, replyPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			logger.Warn("Failed to delete cache key", zap.Error(err))
		}
	}

	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to iterate cache keys: %w", err)
	}

	logger.Info("Reply cache invalidated")
	return nil
}
