// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package checkpoint 定义 Agent 休眠/复活使用的不可变检查点记录及其完整性哈希。
package checkpoint

import (
	"fmt"
	"time"

	"agent-resurrection/pkg/errors"
)

// Blob 对本子系统不透明的 JSON 对象（identity / memory / tasks / context）
type Blob map[string]any

// Snapshot Executor 当前暴露的 Agent 状态
type Snapshot struct {
	Identity Blob `json:"identity"`
	Memory   Blob `json:"memory"`
	Tasks    Blob `json:"tasks"`
	Context  Blob `json:"context"`
}

// Record 一次持久化的 Agent 状态快照。构造后不再修改：新的检查点总是新的 Record。
type Record struct {
	AgentID   string    `json:"agent_id"`
	Sequence  uint64    `json:"sequence"`
	Timestamp time.Time `json:"timestamp"` // 仅供参考，不参与哈希
	StateHash string    `json:"state_hash"`

	Identity Blob `json:"identity"`
	Memory   Blob `json:"memory"`
	Tasks    Blob `json:"tasks"`
	Context  Blob `json:"context"` // 会话/关联元数据，不参与哈希

	// StorageLocations 存储层名 -> 定位符，仅在保存成功后由存储后端填充
	StorageLocations map[string]string `json:"storage_locations,omitempty"`
}

// New 构造检查点并计算 state_hash；hashLength<=0 时使用 DefaultHashLength。
// StorageLocations 保持为空，由保存成功后的 WithLocations 填充。
func New(agentID string, sequence uint64, snap Snapshot, ts time.Time, hashLength int) (*Record, error) {
	if agentID == "" {
		return nil, errors.Wrap(errors.ErrInvalidArg, "checkpoint: empty agent_id")
	}
	rec := &Record{
		AgentID:   agentID,
		Sequence:  sequence,
		Timestamp: ts.UTC().Round(0),
		Identity:  cloneBlob(orEmpty(snap.Identity)),
		Memory:    cloneBlob(orEmpty(snap.Memory)),
		Tasks:     cloneBlob(orEmpty(snap.Tasks)),
		Context:   cloneBlob(orEmpty(snap.Context)),
	}
	h, err := rec.ComputeHash(hashLength)
	if err != nil {
		return nil, err
	}
	rec.StateHash = h
	return rec, nil
}

// Key 归档层键 (agent_id, sequence) 的可读形式
func (r *Record) Key() string {
	return fmt.Sprintf("%s#%d", r.AgentID, r.Sequence)
}

// Snapshot 返回记录中状态部分的副本
func (r *Record) Snapshot() Snapshot {
	return Snapshot{
		Identity: cloneBlob(r.Identity),
		Memory:   cloneBlob(r.Memory),
		Tasks:    cloneBlob(r.Tasks),
		Context:  cloneBlob(r.Context),
	}
}

// Clone 深拷贝，避免调用方与存储层共享可变 map
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Identity = cloneBlob(r.Identity)
	out.Memory = cloneBlob(r.Memory)
	out.Tasks = cloneBlob(r.Tasks)
	out.Context = cloneBlob(r.Context)
	if r.StorageLocations != nil {
		out.StorageLocations = make(map[string]string, len(r.StorageLocations))
		for k, v := range r.StorageLocations {
			out.StorageLocations[k] = v
		}
	}
	return &out
}

// WithLocations 返回附带存储定位符的新记录，原记录不变
func (r *Record) WithLocations(locations map[string]string) *Record {
	out := r.Clone()
	out.StorageLocations = make(map[string]string, len(locations))
	for k, v := range locations {
		out.StorageLocations[k] = v
	}
	return out
}

// WithoutLocations 返回去掉存储定位符的副本；各存储层写入的都是这一形式
func (r *Record) WithoutLocations() *Record {
	out := r.Clone()
	out.StorageLocations = nil
	return out
}

func orEmpty(b Blob) Blob {
	if b == nil {
		return Blob{}
	}
	return b
}

func cloneBlob(b Blob) Blob {
	if b == nil {
		return nil
	}
	return Blob(cloneMap(b))
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case Blob:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
