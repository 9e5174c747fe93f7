package archive

import (
	"context"

	"agent-resurrection/internal/checkpoint"
)

// TierName 归档层在 storage_locations 中的名字
const TierName = "cold"

// Store 归档层存储接口：每个 (agent_id, sequence) 一条不可变记录，只追加，构成完整历史
type Store interface {
	// Locate 返回 (agentID, sequence) 在本层的定位符（确定性，不访问存储）
	Locate(agentID string, sequence uint64) string
	// Append 写入新记录，绝不覆盖。inserted 表示本次调用确实新增了记录；
	// 已存在且 state_hash 相同视为幂等成功（inserted=false），不同返回 errors.ErrConflict
	Append(ctx context.Context, rec *checkpoint.Record) (inserted bool, err error)
	// Get 读取指定序号，不存在返回 errors.ErrNotFound
	Get(ctx context.Context, agentID string, sequence uint64) (*checkpoint.Record, error)
	// Latest 读取序号最大的一条，不存在返回 errors.ErrNotFound
	Latest(ctx context.Context, agentID string) (*checkpoint.Record, error)
	// List 按序号升序返回 agent 的全部记录
	List(ctx context.Context, agentID string) ([]*checkpoint.Record, error)
	// Revoke 仅用于回滚同一次 Save 中兄弟层写入失败时刚追加（inserted=true）的记录
	Revoke(ctx context.Context, agentID string, sequence uint64) error
	// Close 关闭连接
	Close() error
}
