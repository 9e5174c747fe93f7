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

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"agent-resurrection/internal/checkpoint"
	"agent-resurrection/pkg/config"
	"agent-resurrection/pkg/errors"
)

// NewCache 根据配置创建快速层
func NewCache(ctx context.Context, cfg config.FastTierConfig) (Store, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "file":
		return NewFileStore(cfg.Dir)
	case "redis":
		return NewRedisStore(ctx, cfg)
	default:
		return nil, fmt.Errorf("不支持的快速层类型: %s", cfg.Type)
	}
}

// escapeID 将 agent_id 转为可用于文件名 / 键的形式（agent_id 可能含 ':'）
func escapeID(agentID string) string {
	return url.QueryEscape(agentID)
}

func decodeRecord(data []byte, where string) (*checkpoint.Record, error) {
	var rec checkpoint.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(errors.ErrIntegrity, "decode %s: %v", where, err)
	}
	return &rec, nil
}
