package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"

	"pulsecast/internal/models"
)

// RedisLogConfig configures the Redis-backed chat log.
type RedisLogConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	KeyPrefix    string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisLog stores each stream's chat history in a Redis list, trimmed to the
// retention cap on every append. Lists survive process restarts and are
// shared across API replicas.
type RedisLog struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisLog constructs a Redis-backed chat log. The caller is responsible
// for ensuring the Redis instance is reachable.
func NewRedisLog(cfg RedisLogConfig) (*RedisLog, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.KeyPrefix)
	if prefix == "" {
		prefix = "pulsecast:chat"
	}
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Username:     strings.TrimSpace(cfg.Username),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxRetries:   2,
	})
	return &RedisLog{client: client, keyPrefix: prefix}, nil
}

// Ping verifies connectivity to Redis.
func (l *RedisLog) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

// Close releases the Redis client resources.
func (l *RedisLog) Close() error {
	return l.client.Close()
}

func (l *RedisLog) key(streamKey string) string {
	return l.keyPrefix + ":" + streamKey
}

// List returns the retained messages for the stream, oldest first.
func (l *RedisLog) List(ctx context.Context, streamKey string) ([]models.ChatMessage, error) {
	entries, err := l.client.LRange(ctx, l.key(streamKey), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read chat log: %w", err)
	}
	messages := make([]models.ChatMessage, 0, len(entries))
	for _, entry := range entries {
		var message models.ChatMessage
		if err := json.Unmarshal([]byte(entry), &message); err != nil {
			continue
		}
		messages = append(messages, message)
	}
	return messages, nil
}

// Append pushes a message onto the stream's list and trims past the cap.
func (l *RedisLog) Append(ctx context.Context, streamKey string, message models.ChatMessage) error {
	payload, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("encode chat message: %w", err)
	}
	key := l.key(streamKey)
	pipe := l.client.TxPipeline()
	pipe.RPush(ctx, key, payload)
	pipe.LTrim(ctx, key, -int64(MaxMessages), -1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

var _ Log = (*RedisLog)(nil)
