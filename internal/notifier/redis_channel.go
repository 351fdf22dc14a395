package notifier

import (
	"context"
	"fmt"

	redisv9 "github.com/redis/go-redis/v9"
)

const DefaultBroadcastChannel = "wwnotes_global"

// RedisChannel carries events over redis pub/sub.
type RedisChannel struct {
	client  *redisv9.Client
	channel string
}

func NewRedisChannel(client *redisv9.Client, channel string) *RedisChannel {
	if channel == "" {
		channel = DefaultBroadcastChannel
	}
	return &RedisChannel{client: client, channel: channel}
}

func (c *RedisChannel) Name() string {
	return "redis"
}

func (c *RedisChannel) Publish(ctx context.Context, payload []byte) error {
	if err := c.client.Publish(ctx, c.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	return nil
}

func (c *RedisChannel) Listen(ctx context.Context, deliver func([]byte)) error {
	sub := c.client.Subscribe(ctx, c.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe failed: %w", err)
	}

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-msgs:
			if !ok {
				return fmt.Errorf("redis subscription closed")
			}
			deliver([]byte(msg.Payload))
		}
	}
}
