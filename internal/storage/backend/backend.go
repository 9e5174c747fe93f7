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

package backend

import (
	"context"
	"log/slog"
	"time"

	"agent-resurrection/internal/checkpoint"
	"agent-resurrection/internal/storage/archive"
	"agent-resurrection/internal/storage/cache"
	"agent-resurrection/internal/storage/locator"
	"agent-resurrection/pkg/errors"
	"agent-resurrection/pkg/metrics"
	"agent-resurrection/pkg/tracing"
)

// Backend 分层检查点存储：快速层保存每个 agent 的最新记录，归档层保存 (agent, sequence) 完整历史，
// 内容寻址层仅由 state_hash 派生定位符。
type Backend struct {
	fast    cache.Store
	archive archive.Store
	schemes []string
	warm    bool
	logger  *slog.Logger
	locks   *keyedMutex
}

// Option 配置 Backend
type Option func(*Backend)

// WithSchemes 设置内容寻址定位符的 scheme 列表（默认 ipfs, arweave）
func WithSchemes(schemes []string) Option {
	return func(b *Backend) {
		b.schemes = append([]string(nil), schemes...)
	}
}

// WithWarmOnLoad 从归档层回退读取后是否回填快速层
func WithWarmOnLoad(warm bool) Option {
	return func(b *Backend) { b.warm = warm }
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// New 创建 Backend；fast 与 archive 均不可为 nil
func New(fast cache.Store, arch archive.Store, opts ...Option) (*Backend, error) {
	if fast == nil || arch == nil {
		return nil, errors.Wrap(errors.ErrInvalidArg, "backend requires a fast tier and an archive tier")
	}
	b := &Backend{
		fast:    fast,
		archive: arch,
		schemes: append([]string(nil), locator.DefaultSchemes...),
		warm:    true,
		logger:  slog.Default(),
		locks:   newKeyedMutex(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Locations 返回 rec 在各层的定位符：hot、cold 以及各内容寻址 scheme
func (b *Backend) Locations(rec *checkpoint.Record) map[string]string {
	out := locator.Derive(rec.StateHash, b.schemes)
	out[cache.TierName] = b.fast.Locate(rec.AgentID)
	out[archive.TierName] = b.archive.Locate(rec.AgentID, rec.Sequence)
	return out
}

// Save 将记录写入全部层并返回 {tier: locator}。
// 序号只能前进：不高于已存储最新序号的记录返回 ErrConflict，同一 (sequence, state_hash) 的重试除外。
// 写入顺序为归档层后快速层；快速层失败时撤销本次新增的归档记录，整体失败且不返回定位符。
func (b *Backend) Save(ctx context.Context, rec *checkpoint.Record) (locations map[string]string, err error) {
	if rec == nil {
		return nil, errors.Wrap(errors.ErrInvalidArg, "nil checkpoint")
	}
	ctx, span := tracing.StartCheckpointSpan(ctx, "save", rec.AgentID, rec.Sequence)
	defer func() {
		tracing.EndSpan(span, err)
		metrics.CheckpointTotal.WithLabelValues("save", statusOf(err)).Inc()
	}()

	if err = rec.Verify(); err != nil {
		metrics.IntegrityFailures.Inc()
		return nil, err
	}

	unlock := b.locks.Lock(rec.AgentID)
	defer unlock()

	if err = ctx.Err(); err != nil {
		return nil, err
	}

	head, tier, err := b.head(ctx, rec.AgentID)
	if err != nil {
		return nil, errors.NewTierError(tier, err)
	}
	if head != nil && rec.Sequence <= head.Sequence &&
		(rec.Sequence != head.Sequence || rec.StateHash != head.StateHash) {
		err = errors.Wrapf(errors.ErrConflict, "%s: latest stored sequence is %d", rec.Key(), head.Sequence)
		b.logger.Warn("checkpoint 序号未前进，拒绝写入", "agent_id", rec.AgentID, "sequence", rec.Sequence, "latest", head.Sequence)
		return nil, errors.NewTierError(archive.TierName, err)
	}

	locations = b.Locations(rec)
	stored := rec.WithLocations(locations)

	var inserted bool
	if err = b.timed(ctx, archive.TierName, rec.AgentID, func(ctx context.Context) error {
		var aerr error
		inserted, aerr = b.archive.Append(ctx, stored)
		return aerr
	}); err != nil {
		b.logger.Error("checkpoint 归档写入失败", "agent_id", rec.AgentID, "sequence", rec.Sequence, "error", err)
		return nil, errors.NewTierError(archive.TierName, err)
	}

	if err = b.timed(ctx, cache.TierName, rec.AgentID, func(ctx context.Context) error {
		return b.fast.Put(ctx, stored)
	}); err != nil {
		// 只撤销本次新增的归档记录；撤销不受调用方取消影响
		if inserted {
			if rerr := b.archive.Revoke(context.WithoutCancel(ctx), rec.AgentID, rec.Sequence); rerr != nil {
				b.logger.Error("checkpoint 归档撤销失败", "agent_id", rec.AgentID, "sequence", rec.Sequence, "error", rerr)
			}
		}
		b.logger.Error("checkpoint 快速层写入失败", "agent_id", rec.AgentID, "sequence", rec.Sequence, "error", err)
		return nil, errors.NewTierError(cache.TierName, err)
	}

	b.logger.Debug("checkpoint 已保存", "agent_id", rec.AgentID, "sequence", rec.Sequence, "state_hash", rec.StateHash)
	out := make(map[string]string, len(locations))
	for k, v := range locations {
		out[k] = v
	}
	return out, nil
}

// head 返回已存储的最新记录（仅用于序号比较，不校验）及其来源层；快速层为空或损坏时读归档层。
// 两层都没有记录时返回 nil, "", nil。
func (b *Backend) head(ctx context.Context, agentID string) (*checkpoint.Record, string, error) {
	rec, err := b.fast.Get(ctx, agentID)
	switch {
	case err == nil:
		return rec, cache.TierName, nil
	case !errors.Is(err, errors.ErrNotFound) && !errors.Is(err, errors.ErrIntegrity):
		return nil, cache.TierName, err
	}
	rec, err = b.archive.Latest(ctx, agentID)
	switch {
	case err == nil:
		return rec, archive.TierName, nil
	case errors.Is(err, errors.ErrNotFound):
		return nil, "", nil
	default:
		return nil, archive.TierName, err
	}
}

func (b *Backend) timed(ctx context.Context, tier, agentID string, write func(context.Context) error) (err error) {
	ctx, span := tracing.StartTierSpan(ctx, "write", tier, agentID)
	start := time.Now()
	defer func() {
		metrics.TierWriteDuration.WithLabelValues(tier).Observe(time.Since(start).Seconds())
		tracing.EndSpan(span, err)
	}()
	return write(ctx)
}

// Load 读取 agent 的最新记录：比较快速层与归档层最高序号，取较新者并校验 state_hash。
// 归档层领先（快速层丢失或两层写入之间中断）时按 warm_on_load 修复快速层。
func (b *Backend) Load(ctx context.Context, agentID string) (rec *checkpoint.Record, err error) {
	if agentID == "" {
		return nil, errors.Wrap(errors.ErrInvalidArg, "empty agent id")
	}
	ctx, span := tracing.StartTierSpan(ctx, "load", cache.TierName, agentID)
	defer func() {
		tracing.EndSpan(span, err)
		metrics.CheckpointTotal.WithLabelValues("load", statusOf(err)).Inc()
		if errors.Is(err, errors.ErrIntegrity) {
			metrics.IntegrityFailures.Inc()
		}
	}()

	hot, err := b.fast.Get(ctx, agentID)
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return nil, err
		}
		hot = nil
	}

	cold, err := b.archive.Latest(ctx, agentID)
	if err != nil {
		switch {
		case errors.Is(err, errors.ErrNotFound):
			if hot == nil {
				return nil, err
			}
		case hot != nil && !errors.Is(err, errors.ErrIntegrity):
			// 归档层暂不可用时仍可从快速层恢复
			b.logger.Warn("归档层读取失败，使用快速层记录", "agent_id", agentID, "error", err)
		default:
			return nil, err
		}
		cold = nil
	}

	if cold != nil && (hot == nil || cold.Sequence > hot.Sequence) {
		if err = cold.Verify(); err != nil {
			b.logger.Warn("归档层 checkpoint 校验失败", "agent_id", agentID, "sequence", cold.Sequence, "error", err)
			return nil, err
		}
		if hot != nil {
			b.logger.Warn("快速层落后于归档层", "agent_id", agentID, "hot", hot.Sequence, "cold", cold.Sequence)
		}
		if b.warm {
			b.warmFast(ctx, cold)
		}
		return cold, nil
	}

	if err = hot.Verify(); err != nil {
		b.logger.Warn("快速层 checkpoint 校验失败", "agent_id", agentID, "sequence", hot.Sequence, "error", err)
		return nil, err
	}
	return hot, nil
}

// warmFast 用归档记录回填快速层；持锁并复查，只在快速层缺失或序号更低时写入
func (b *Backend) warmFast(ctx context.Context, rec *checkpoint.Record) {
	unlock := b.locks.Lock(rec.AgentID)
	defer unlock()
	cur, err := b.fast.Get(ctx, rec.AgentID)
	switch {
	case err == nil && cur.Sequence >= rec.Sequence:
		return
	case err != nil && !errors.Is(err, errors.ErrNotFound) && !errors.Is(err, errors.ErrIntegrity):
		return
	}
	if err := b.fast.Put(ctx, rec); err != nil {
		b.logger.Warn("快速层回填失败", "agent_id", rec.AgentID, "sequence", rec.Sequence, "error", err)
		return
	}
	b.logger.Info("快速层已从归档回填", "agent_id", rec.AgentID, "sequence", rec.Sequence)
}

// History 返回 agent 的归档历史（序号升序），每条均经过校验；无记录时返回 ErrNotFound
func (b *Backend) History(ctx context.Context, agentID string) ([]*checkpoint.Record, error) {
	if agentID == "" {
		return nil, errors.Wrap(errors.ErrInvalidArg, "empty agent id")
	}
	list, err := b.archive.List(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "no checkpoints for %s", agentID)
	}
	for _, rec := range list {
		if err := rec.Verify(); err != nil {
			metrics.IntegrityFailures.Inc()
			return nil, err
		}
	}
	return list, nil
}

// Close 关闭两层存储
func (b *Backend) Close() error {
	ferr := b.fast.Close()
	aerr := b.archive.Close()
	if ferr != nil {
		return ferr
	}
	return aerr
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errors.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
