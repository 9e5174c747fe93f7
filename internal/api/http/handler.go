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

package http

import (
	"bytes"
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/prometheus/common/expfmt"

	"agent-resurrection/internal/checkpoint"
	"agent-resurrection/internal/resurrection"
	"agent-resurrection/pkg/errors"
	"agent-resurrection/pkg/metrics"
)

// CheckpointReader 只读检查点访问，*backend.Backend 实现该接口
type CheckpointReader interface {
	Load(ctx context.Context, agentID string) (*checkpoint.Record, error)
	History(ctx context.Context, agentID string) ([]*checkpoint.Record, error)
}

// Handler 检查点查询 API
type Handler struct {
	store    CheckpointReader
	registry *resurrection.Registry
}

// NewHandler 创建 Handler；registry 可为 nil（此时不报告进程内活跃实例）
func NewHandler(store CheckpointReader, registry *resurrection.Registry) *Handler {
	return &Handler{store: store, registry: registry}
}

// HealthCheck 健康检查
// GET /api/health
func (h *Handler) HealthCheck(ctx context.Context, c *app.RequestContext) {
	c.JSON(consts.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Unix(),
		"service":   "arp",
	})
}

// GetCheckpoint 返回 agent 最新的已校验检查点
// GET /api/agents/:id/checkpoint
func (h *Handler) GetCheckpoint(ctx context.Context, c *app.RequestContext) {
	agentID := c.Param("id")
	rec, err := h.store.Load(ctx, agentID)
	if err != nil {
		writeError(ctx, c, agentID, err)
		return
	}
	c.JSON(consts.StatusOK, rec)
}

// GetHistory 返回 agent 的归档历史（序号升序）
// GET /api/agents/:id/history
func (h *Handler) GetHistory(ctx context.Context, c *app.RequestContext) {
	agentID := c.Param("id")
	list, err := h.store.History(ctx, agentID)
	if err != nil {
		writeError(ctx, c, agentID, err)
		return
	}
	c.JSON(consts.StatusOK, map[string]any{
		"agent_id":    agentID,
		"checkpoints": list,
	})
}

// GetStatus 返回 agent 生命周期状态：active（本进程持有）、hibernated 或 unresolved
// GET /api/agents/:id/status
func (h *Handler) GetStatus(ctx context.Context, c *app.RequestContext) {
	agentID := c.Param("id")
	resp := map[string]any{"agent_id": agentID}

	if h.registry != nil {
		if m, err := h.registry.Get(ctx, agentID); err == nil {
			resp["state"] = m.State()
			resp["next_sequence"] = m.Sequence()
		}
	}

	rec, err := h.store.Load(ctx, agentID)
	switch {
	case err == nil:
		resp["sequence"] = rec.Sequence
		resp["state_hash"] = rec.StateHash
		resp["timestamp"] = rec.Timestamp
		if _, ok := resp["state"]; !ok {
			resp["state"] = resurrection.StateHibernated
		}
	case errors.Is(err, errors.ErrNotFound):
		if _, ok := resp["state"]; !ok {
			resp["state"] = resurrection.StateUnresolved
		}
	default:
		writeError(ctx, c, agentID, err)
		return
	}
	c.JSON(consts.StatusOK, resp)
}

// Metrics Prometheus 文本格式指标
// GET /metrics
func (h *Handler) Metrics(ctx context.Context, c *app.RequestContext) {
	var buf bytes.Buffer
	if err := metrics.WritePrometheus(&buf); err != nil {
		hlog.CtxErrorf(ctx, "failed to gather metrics: %v", err)
		c.JSON(consts.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	c.Data(consts.StatusOK, string(expfmt.NewFormat(expfmt.TypeTextPlain)), buf.Bytes())
}

func writeError(ctx context.Context, c *app.RequestContext, agentID string, err error) {
	status := consts.StatusInternalServerError
	kind := "internal"
	switch {
	case errors.Is(err, errors.ErrNotFound):
		status, kind = consts.StatusNotFound, "not_found"
	case errors.Is(err, errors.ErrIntegrity):
		status, kind = consts.StatusConflict, "integrity"
	case errors.Is(err, errors.ErrInvalidArg):
		status, kind = consts.StatusBadRequest, "invalid_argument"
	default:
		hlog.CtxErrorf(ctx, "checkpoint query failed for %s: %v", agentID, err)
	}
	c.JSON(status, map[string]string{
		"error":    err.Error(),
		"kind":     kind,
		"agent_id": agentID,
	})
}
