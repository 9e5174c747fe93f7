package cache

import (
	"context"

	"agent-resurrection/internal/checkpoint"
)

// TierName 快速层在 storage_locations 中的名字
const TierName = "hot"

// Store 快速层存储接口：每个 agent_id 仅保留最新一条记录，每次 Put 覆盖
type Store interface {
	// Locate 返回 agentID 在本层的定位符（确定性，不访问存储）
	Locate(agentID string) string
	// Put 覆盖写入 agent 的最新记录；返回前写入必须已对后续 Get 可见
	Put(ctx context.Context, rec *checkpoint.Record) error
	// Get 读取 agent 的最新记录，不存在时返回 errors.ErrNotFound
	Get(ctx context.Context, agentID string) (*checkpoint.Record, error)
	// Delete 删除 agent 的记录（不存在时不报错）
	Delete(ctx context.Context, agentID string) error
	// Close 关闭连接
	Close() error
}
