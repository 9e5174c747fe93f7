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
	"log/slog"
	"sync"
	"time"

	"agent-resurrection/internal/checkpoint"
	"agent-resurrection/pkg/errors"
	"agent-resurrection/pkg/metrics"
	"agent-resurrection/pkg/tracing"
)

// ErrNotActive 实例已休眠，不再接受操作
var ErrNotActive = errors.New("agent is not active")

// CheckpointStore Manager 所需的存储能力，*backend.Backend 实现该接口
type CheckpointStore interface {
	Save(ctx context.Context, rec *checkpoint.Record) (map[string]string, error)
	Load(ctx context.Context, agentID string) (*checkpoint.Record, error)
}

// Outcome 一次 Execute 的结果与对应检查点
type Outcome struct {
	Result     any
	Checkpoint *checkpoint.Record
}

// Stats 实例运行统计
type Stats struct {
	CheckpointsSaved int           `json:"checkpoints_saved"`
	ComputeTime      time.Duration `json:"compute_time"`
}

// Manager 绑定单个 agent_id 的生命周期：执行任务、按序号写检查点、休眠。
// 同一实例上的 Execute / Checkpoint / Hibernate 串行执行。
type Manager struct {
	mu         sync.Mutex
	store      CheckpointStore
	agentID    string
	sequence   uint64
	state      State
	executor   Executor
	hashLength int
	logger     *slog.Logger
	now        func() time.Time
	stats      Stats
}

// Option 配置 Manager
type Option func(*Manager)

// WithAgentID 指定 agent_id（默认生成新 id）。已有检查点的 id 应通过 Resurrect 继续，
// 从序号 0 重新开始的实例写检查点时会被存储层以 ErrConflict 拒绝。
func WithAgentID(id string) Option {
	return func(m *Manager) { m.agentID = id }
}

// WithExecutor 挂载执行器
func WithExecutor(e Executor) Option {
	return func(m *Manager) { m.executor = e }
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock 设置时钟（测试用）
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithHashLength 设置 state_hash 长度（16..64）
func WithHashLength(n int) Option {
	return func(m *Manager) { m.hashLength = n }
}

// withSequence 设置下一个检查点序号，仅由 Resurrect 使用
func withSequence(seq uint64) Option {
	return func(m *Manager) { m.sequence = seq }
}

// New 创建处于 Active 状态的 Manager
func New(store CheckpointStore, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.Wrap(errors.ErrInvalidArg, "nil checkpoint store")
	}
	m := &Manager{
		store:      store,
		state:      StateActive,
		hashLength: checkpoint.DefaultHashLength,
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.hashLength < checkpoint.DefaultHashLength || m.hashLength > checkpoint.FullHashLength {
		return nil, errors.Wrapf(errors.ErrInvalidArg, "hash length %d out of range", m.hashLength)
	}
	if m.agentID == "" {
		m.agentID = NewAgentID(m.now())
	}
	return m, nil
}

// ID 返回 agent_id
func (m *Manager) ID() string {
	return m.agentID
}

// Sequence 返回下一个检查点将使用的序号
func (m *Manager) Sequence() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sequence
}

// State 返回当前状态
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Stats 返回统计快照
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Execute 交给执行器处理 task，成功后以当前序号写检查点；
// 执行器失败或 ctx 已取消时不写检查点，序号不变。
func (m *Manager) Execute(ctx context.Context, task Task) (out *Outcome, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return nil, ErrNotActive
	}

	ctx, span := tracing.StartCheckpointSpan(ctx, "execute", m.agentID, m.sequence)
	defer func() { tracing.EndSpan(span, err) }()

	start := time.Now()
	result, err := m.run(ctx, task)
	m.stats.ComputeTime += time.Since(start)
	if err != nil {
		m.logger.Warn("任务执行失败，不写检查点", "agent_id", m.agentID, "sequence", m.sequence, "error", err)
		return nil, err
	}
	if err = ctx.Err(); err != nil {
		return nil, err
	}

	rec, err := m.checkpointLocked(ctx)
	if err != nil {
		return nil, err
	}
	return &Outcome{Result: result, Checkpoint: rec}, nil
}

func (m *Manager) run(ctx context.Context, task Task) (any, error) {
	if m.executor == nil {
		return stubResult(task), nil
	}
	return m.executor.Execute(ctx, task)
}

// Checkpoint 不执行任务直接写一个检查点
func (m *Manager) Checkpoint(ctx context.Context) (*checkpoint.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return nil, ErrNotActive
	}
	return m.checkpointLocked(ctx)
}

// Hibernate 写最终检查点并转为 Hibernated；保存失败时保持 Active
func (m *Manager) Hibernate(ctx context.Context) (*checkpoint.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateActive {
		return nil, ErrNotActive
	}
	rec, err := m.checkpointLocked(ctx)
	if err != nil {
		return nil, err
	}
	m.state = StateHibernated
	m.logger.Info("agent 已休眠", "agent_id", m.agentID, "sequence", rec.Sequence)
	return rec, nil
}

// checkpointLocked 构造并保存当前序号的检查点，保存成功后序号加一；调用方持有 m.mu
func (m *Manager) checkpointLocked(ctx context.Context) (*checkpoint.Record, error) {
	snap, err := m.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	rec, err := checkpoint.New(m.agentID, m.sequence, snap, m.now(), m.hashLength)
	if err != nil {
		return nil, err
	}
	locations, err := m.store.Save(ctx, rec)
	if err != nil {
		return nil, err
	}
	m.sequence++
	m.stats.CheckpointsSaved++
	return rec.WithLocations(locations), nil
}

func (m *Manager) snapshot(ctx context.Context) (checkpoint.Snapshot, error) {
	if s, ok := m.executor.(Snapshotter); ok {
		snap, err := s.Snapshot(ctx)
		if err != nil {
			return checkpoint.Snapshot{}, errors.Wrap(err, "executor snapshot")
		}
		return fillDefaults(snap, m.agentID, m.sequence), nil
	}
	return defaultSnapshot(m.agentID, m.sequence), nil
}

// RunPeriodic 按 interval 周期写检查点，直到 ctx 结束或实例休眠。
// 单次保存失败只记录日志，下一周期继续。
func (m *Manager) RunPeriodic(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.Wrapf(errors.ErrInvalidArg, "checkpoint interval %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			rec, err := m.Checkpoint(ctx)
			switch {
			case errors.Is(err, ErrNotActive):
				return nil
			case err != nil:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				m.logger.Error("周期检查点失败", "agent_id", m.agentID, "error", err)
			default:
				m.logger.Debug("周期检查点", "agent_id", m.agentID, "sequence", rec.Sequence)
			}
		}
	}
}

// Resurrect 从存储加载 agentID 的最新检查点并返回新的 Active 实例，序号从 loaded+1 继续。
// 加载失败（NotFound / Integrity）时不创建任何状态。
func Resurrect(ctx context.Context, store CheckpointStore, agentID string, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, errors.Wrap(errors.ErrInvalidArg, "nil checkpoint store")
	}
	rec, err := store.Load(ctx, agentID)
	if err != nil {
		metrics.ResurrectionTotal.WithLabelValues(resurrectStatus(err)).Inc()
		return nil, err
	}
	opts = append(append([]Option(nil), opts...), WithAgentID(agentID), withSequence(rec.Sequence+1))
	m, err := New(store, opts...)
	if err != nil {
		metrics.ResurrectionTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	if r, ok := m.executor.(Restorer); ok {
		if err := r.Restore(ctx, rec.Snapshot()); err != nil {
			metrics.ResurrectionTotal.WithLabelValues("error").Inc()
			return nil, errors.Wrap(err, "executor restore")
		}
	}
	metrics.ResurrectionTotal.WithLabelValues("ok").Inc()
	m.logger.Info("agent 已复活", "agent_id", agentID, "from_sequence", rec.Sequence, "state_hash", rec.StateHash)
	return m, nil
}

func resurrectStatus(err error) string {
	if errors.Is(err, errors.ErrNotFound) {
		return "not_found"
	}
	return "error"
}

// Status 查询 agent 的持久化状态：无检查点为 Unresolved，否则为 Hibernated 并返回最新记录
func Status(ctx context.Context, store CheckpointStore, agentID string) (State, *checkpoint.Record, error) {
	rec, err := store.Load(ctx, agentID)
	if errors.Is(err, errors.ErrNotFound) {
		return StateUnresolved, nil, nil
	}
	if err != nil {
		return StateUnresolved, nil, err
	}
	return StateHibernated, rec, nil
}
