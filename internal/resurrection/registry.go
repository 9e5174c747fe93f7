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
	"sort"
	"sync"

	"agent-resurrection/internal/checkpoint"
	"agent-resurrection/pkg/errors"
	"agent-resurrection/pkg/metrics"
)

// Registry 进程内活跃 Manager 集合：同一 agent_id 在一个进程内最多一个活跃实例
type Registry struct {
	mu     sync.Mutex
	store  CheckpointStore
	opts   []Option
	agents map[string]*Manager
}

// NewRegistry 创建 Registry；opts 作为每个实例的默认选项
func NewRegistry(store CheckpointStore, opts ...Option) *Registry {
	return &Registry{
		store:  store,
		opts:   opts,
		agents: make(map[string]*Manager),
	}
}

func (r *Registry) options(extra []Option) []Option {
	return append(append([]Option(nil), r.opts...), extra...)
}

// Create 创建新 Agent 并登记；id 已有检查点时返回 ErrConflict（应使用 Resurrect）
func (r *Registry) Create(ctx context.Context, opts ...Option) (*Manager, error) {
	m, err := New(r.store, r.options(opts)...)
	if err != nil {
		return nil, err
	}
	_, err = r.store.Load(ctx, m.ID())
	switch {
	case err == nil:
		return nil, errors.Wrapf(errors.ErrConflict, "agent %s already has checkpoints, resurrect it instead", m.ID())
	case !errors.Is(err, errors.ErrNotFound):
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[m.ID()]; ok {
		return nil, errors.Wrapf(errors.ErrConflict, "agent %s already live", m.ID())
	}
	r.agents[m.ID()] = m
	metrics.LiveAgents.Inc()
	return m, nil
}

// Get 按 ID 获取活跃实例
func (r *Registry) Get(ctx context.Context, id string) (*Manager, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.agents[id]
	if !ok {
		return nil, errors.Wrapf(errors.ErrNotFound, "agent %s not live", id)
	}
	return m, nil
}

// Resurrect 返回 id 的活跃实例；不存在时从存储复活并登记
func (r *Registry) Resurrect(ctx context.Context, id string, opts ...Option) (*Manager, error) {
	r.mu.Lock()
	if m, ok := r.agents[id]; ok {
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()

	m, err := Resurrect(ctx, r.store, id, r.options(opts)...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	// 加载期间已有并发调用登记，以先登记者为准
	if live, ok := r.agents[id]; ok {
		return live, nil
	}
	r.agents[id] = m
	metrics.LiveAgents.Inc()
	return m, nil
}

// Hibernate 休眠并移出活跃集合；保存失败时实例保持登记
func (r *Registry) Hibernate(ctx context.Context, id string) (*checkpoint.Record, error) {
	m, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec, err := m.Hibernate(ctx)
	if errors.Is(err, ErrNotActive) {
		// 已被直接休眠的实例
		r.remove(id, m)
	}
	if err != nil {
		return nil, err
	}
	r.remove(id, m)
	return rec, nil
}

func (r *Registry) remove(id string, m *Manager) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.agents[id] == m {
		delete(r.agents, id)
		metrics.LiveAgents.Dec()
	}
}

// List 返回所有活跃实例（按 ID 排序）
func (r *Registry) List(ctx context.Context) []*Manager {
	r.mu.Lock()
	defer r.mu.Unlock()
	list := make([]*Manager, 0, len(r.agents))
	for _, m := range r.agents {
		list = append(list, m)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	return list
}

// HibernateAll 休眠全部活跃实例（进程退出前调用），返回遇到的第一个错误
func (r *Registry) HibernateAll(ctx context.Context) error {
	var first error
	for _, m := range r.List(ctx) {
		if _, err := r.Hibernate(ctx, m.ID()); err != nil && first == nil {
			first = err
		}
	}
	return first
}
