package repository

import (
	"context"
	"fmt"
	"strings"

	redisv9 "github.com/redis/go-redis/v9"

	"wwnotes-sync/internal/domain"
)

// RedisSlotBackend shares slots between every node pointed at the same redis.
type RedisSlotBackend struct {
	client *redisv9.Client
	prefix string
}

func NewRedisSlotBackend(client *redisv9.Client, prefix string) *RedisSlotBackend {
	if prefix == "" {
		prefix = "wwnotes:slot:"
	}
	return &RedisSlotBackend{client: client, prefix: prefix}
}

func (b *RedisSlotBackend) Get(ctx context.Context, key string) ([]byte, error) {
	raw, err := b.client.Get(ctx, b.prefix+key).Bytes()
	if err == redisv9.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get slot failed: %w", err)
	}
	return raw, nil
}

func (b *RedisSlotBackend) Set(ctx context.Context, key string, data []byte) error {
	if err := b.client.Set(ctx, b.prefix+key, data, 0).Err(); err != nil {
		if strings.HasPrefix(err.Error(), "OOM") {
			return domain.ErrQuotaExceeded
		}
		return fmt.Errorf("redis set slot failed: %w", err)
	}
	return nil
}
