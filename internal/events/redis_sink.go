package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisSinkConfig 描述 Redis 事件流的连接参数。
type RedisSinkConfig struct {
	Address  string
	Password string
	DB       int
	Stream   string
	MaxLen   int64
}

// RedisSink 把事件追加到 Redis stream，供外围系统消费。
type RedisSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisSink 创建 Redis 事件渠道。
func NewRedisSink(cfg RedisSinkConfig) (*RedisSink, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	stream := cfg.Stream
	if stream == "" {
		stream = "chainpact:events"
	}
	maxLen := cfg.MaxLen
	if maxLen <= 0 {
		maxLen = 65536
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return &RedisSink{client: client, stream: stream, maxLen: maxLen}, nil
}

// Name 返回渠道名。
func (s *RedisSink) Name() string { return "redis" }

// Emit 通过 XADD 追加事件。
func (s *RedisSink) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("编码事件失败: %w", err)
	}
	err = s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: map[string]any{"event": payload},
	}).Err()
	if err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// ensure interface compliance at compile time
var _ Sink = (*RedisSink)(nil)
