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
	"sync"

	"agent-resurrection/internal/checkpoint"
	"agent-resurrection/pkg/errors"
)

// MemoryStore 内存快速层，进程重启后为空（由归档层兜底）
type MemoryStore struct {
	items map[string]*checkpoint.Record
	mu    sync.RWMutex
}

// NewMemoryStore 创建新的内存快速层
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]*checkpoint.Record),
	}
}

// Locate 实现 Store
func (s *MemoryStore) Locate(agentID string) string {
	return "mem://hot/" + escapeID(agentID)
}

// Put 实现 Store；存入副本，避免与调用方共享 map
func (s *MemoryStore) Put(ctx context.Context, rec *checkpoint.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cp := rec.Clone()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[rec.AgentID] = cp
	return nil
}

// Get 实现 Store
func (s *MemoryStore) Get(ctx context.Context, agentID string) (*checkpoint.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.items[agentID]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "hot tier: %s", agentID)
	}
	return rec.Clone(), nil
}

// Delete 实现 Store
func (s *MemoryStore) Delete(ctx context.Context, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, agentID)
	return nil
}

// Len 当前缓存的 agent 数
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Close 实现 Store
func (s *MemoryStore) Close() error {
	return nil
}
