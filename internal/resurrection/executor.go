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

package resurrection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"agent-resurrection/internal/checkpoint"
)

// Task 交给执行器的任务描述（JSON 对象）
type Task map[string]any

// Executor 外部 Agent 执行器；Manager 仅在其返回成功后写检查点
type Executor interface {
	Execute(ctx context.Context, task Task) (any, error)
}

// ExecutorFunc 函数适配 Executor
type ExecutorFunc func(ctx context.Context, task Task) (any, error)

// Execute 实现 Executor
func (f ExecutorFunc) Execute(ctx context.Context, task Task) (any, error) {
	return f(ctx, task)
}

// Snapshotter 可选能力：执行器提供自身状态用于检查点
type Snapshotter interface {
	Snapshot(ctx context.Context) (checkpoint.Snapshot, error)
}

// Restorer 可选能力：复活时将已加载的状态交还执行器
type Restorer interface {
	Restore(ctx context.Context, snap checkpoint.Snapshot) error
}

// stubResult 未挂载执行器时的结果
func stubResult(task Task) map[string]any {
	return map[string]any{"status": "executed", "task": map[string]any(task)}
}

var memoryChecksum = func() string {
	sum := sha256.Sum256([]byte("memory"))
	return hex.EncodeToString(sum[:])[:16]
}()

// defaultSnapshot 执行器不提供状态时的最小快照
func defaultSnapshot(agentID string, sequence uint64) checkpoint.Snapshot {
	return checkpoint.Snapshot{
		Identity: checkpoint.Blob{"public_key": "pk_" + agentID, "address": agentID},
		Memory:   checkpoint.Blob{"short_term": []any{}, "checksum": memoryChecksum},
		Tasks:    checkpoint.Blob{"active": []any{}, "queued": []any{}},
		Context:  checkpoint.Blob{"session_id": fmt.Sprintf("sess_%d", sequence)},
	}
}

// fillDefaults 以默认值补齐执行器快照中缺失的部分
func fillDefaults(snap checkpoint.Snapshot, agentID string, sequence uint64) checkpoint.Snapshot {
	def := defaultSnapshot(agentID, sequence)
	if snap.Identity == nil {
		snap.Identity = def.Identity
	}
	if snap.Memory == nil {
		snap.Memory = def.Memory
	}
	if snap.Tasks == nil {
		snap.Tasks = def.Tasks
	}
	if snap.Context == nil {
		snap.Context = def.Context
	}
	return snap
}
