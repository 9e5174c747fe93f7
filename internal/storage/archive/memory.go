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
	"fmt"
	"sort"
	"sync"

	"agent-resurrection/internal/checkpoint"
)

// MemoryStore 内存归档层，主要用于测试与单进程演示
type MemoryStore struct {
	mu      sync.RWMutex
	byAgent map[string]map[uint64]*checkpoint.Record
}

// NewMemoryStore 创建内存归档层
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byAgent: make(map[string]map[uint64]*checkpoint.Record)}
}

// Locate 实现 Store
func (s *MemoryStore) Locate(agentID string, sequence uint64) string {
	return fmt.Sprintf("mem://cold/%s/%d", escapeID(agentID), sequence)
}

// Append 实现 Store
func (s *MemoryStore) Append(ctx context.Context, rec *checkpoint.Record) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	seqs, ok := s.byAgent[rec.AgentID]
	if !ok {
		seqs = make(map[uint64]*checkpoint.Record)
		s.byAgent[rec.AgentID] = seqs
	}
	if existing, ok := seqs[rec.Sequence]; ok {
		return false, resolveExisting(existing, rec)
	}
	seqs[rec.Sequence] = rec.Clone()
	return true, nil
}

// Get 实现 Store
func (s *MemoryStore) Get(ctx context.Context, agentID string, sequence uint64) (*checkpoint.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byAgent[agentID][sequence]
	if !ok {
		return nil, notFound(agentID, sequence)
	}
	return rec.Clone(), nil
}

// Latest 实现 Store
func (s *MemoryStore) Latest(ctx context.Context, agentID string) (*checkpoint.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *checkpoint.Record
	for _, rec := range s.byAgent[agentID] {
		if latest == nil || rec.Sequence > latest.Sequence {
			latest = rec
		}
	}
	if latest == nil {
		return nil, noHistory(agentID)
	}
	return latest.Clone(), nil
}

// List 实现 Store
func (s *MemoryStore) List(ctx context.Context, agentID string) ([]*checkpoint.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := make([]*checkpoint.Record, 0, len(s.byAgent[agentID]))
	for _, rec := range s.byAgent[agentID] {
		list = append(list, rec.Clone())
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Sequence < list[j].Sequence })
	return list, nil
}

// Revoke 实现 Store
func (s *MemoryStore) Revoke(ctx context.Context, agentID string, sequence uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byAgent[agentID], sequence)
	if len(s.byAgent[agentID]) == 0 {
		delete(s.byAgent, agentID)
	}
	return nil
}

// Close 实现 Store
func (s *MemoryStore) Close() error {
	return nil
}
