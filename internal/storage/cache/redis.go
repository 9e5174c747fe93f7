package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"agent-resurrection/internal/checkpoint"
	"agent-resurrection/pkg/config"
	arperrors "agent-resurrection/pkg/errors"
)

// RedisStore Redis 快速层：键 <prefix>:hot:<agent_id>，值为记录 JSON，SET 覆盖
type RedisStore struct {
	client *redis.Client
	addr   string
	prefix string
}

// NewRedisStore 根据配置连接 Redis 并 Ping
func NewRedisStore(ctx context.Context, cfg config.FastTierConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisStoreWithClient(client, cfg.Addr, cfg.KeyPrefix), nil
}

// NewRedisStoreWithClient 使用已有客户端
func NewRedisStoreWithClient(client *redis.Client, addr, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "arp"
	}
	return &RedisStore{client: client, addr: addr, prefix: prefix}
}

func (s *RedisStore) key(agentID string) string {
	return fmt.Sprintf("%s:hot:%s", s.prefix, agentID)
}

// Locate 实现 Store
func (s *RedisStore) Locate(agentID string) string {
	return fmt.Sprintf("redis://%s/%s", s.addr, s.key(agentID))
}

// Put 实现 Store
func (s *RedisStore) Put(ctx context.Context, rec *checkpoint.Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal hot checkpoint: %w", err)
	}
	if err := s.client.Set(ctx, s.key(rec.AgentID), data, 0).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Get 实现 Store
func (s *RedisStore) Get(ctx context.Context, agentID string) (*checkpoint.Record, error) {
	data, err := s.client.Get(ctx, s.key(agentID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, arperrors.Wrapf(arperrors.ErrNotFound, "hot tier: %s", agentID)
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return decodeRecord(data, s.key(agentID))
}

// Delete 实现 Store
func (s *RedisStore) Delete(ctx context.Context, agentID string) error {
	return s.client.Del(ctx, s.key(agentID)).Err()
}

// Close 实现 Store
func (s *RedisStore) Close() error {
	return s.client.Close()
}
