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

package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"agent-resurrection/internal/checkpoint"
	"agent-resurrection/pkg/config"
	"agent-resurrection/pkg/errors"
)

// NewArchive 根据配置创建归档层
func NewArchive(ctx context.Context, cfg config.ArchiveTierConfig) (Store, error) {
	switch cfg.Type {
	case "memory":
		return NewMemoryStore(), nil
	case "", "file":
		return NewFileStore(cfg.Dir)
	case "postgres":
		return NewPostgresStore(ctx, cfg.DSN)
	case "sqlite":
		return OpenSQLite(ctx, cfg.DSN)
	case "s3":
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	default:
		return nil, fmt.Errorf("不支持的归档层类型: %s", cfg.Type)
	}
}

func escapeID(agentID string) string {
	return url.QueryEscape(agentID)
}

func encodeRecord(rec *checkpoint.Record) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal archived checkpoint: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte, where string) (*checkpoint.Record, error) {
	var rec checkpoint.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, errors.Wrapf(errors.ErrIntegrity, "decode %s: %v", where, err)
	}
	return &rec, nil
}

// resolveExisting 处理 (agent_id, sequence) 已存在的情况：同一 state_hash 为幂等重试，否则冲突
func resolveExisting(existing, incoming *checkpoint.Record) error {
	if existing.StateHash == incoming.StateHash {
		return nil
	}
	return errors.Wrapf(errors.ErrConflict, "%s: archived %s, incoming %s",
		incoming.Key(), existing.StateHash, incoming.StateHash)
}

func notFound(agentID string, sequence uint64) error {
	return errors.Wrapf(errors.ErrNotFound, "cold tier: %s#%d", agentID, sequence)
}

func noHistory(agentID string) error {
	return errors.Wrapf(errors.ErrNotFound, "cold tier: no checkpoints for %s", agentID)
}
