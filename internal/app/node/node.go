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

package node

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/hlog"
	hertzslog "github.com/hertz-contrib/logger/slog"
	"github.com/hertz-contrib/obs-opentelemetry/provider"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	apihttp "agent-resurrection/internal/api/http"
	"agent-resurrection/internal/resurrection"
	"agent-resurrection/internal/storage/archive"
	"agent-resurrection/internal/storage/backend"
	"agent-resurrection/internal/storage/cache"
	"agent-resurrection/pkg/config"
	"agent-resurrection/pkg/log"
	"agent-resurrection/pkg/tracing"
)

// otelProviderShutdown 用于优雅关闭时关闭 OpenTelemetry provider
type otelProviderShutdown interface {
	Shutdown(ctx context.Context) error
}

// Node 统一初始化：存储层、Backend、Registry 与查询 API，供 CLI 各子命令复用
type Node struct {
	Config   *config.Config
	Logger   *log.Logger
	Backend  *backend.Backend
	Registry *resurrection.Registry

	interval time.Duration
	hertz    *server.Hertz
	shutdown []otelProviderShutdown

	// 周期检查点 goroutine 的生命周期
	periodicCtx    context.Context
	periodicCancel context.CancelFunc
	periodicWG     sync.WaitGroup
}

// New 根据配置创建 Node；cfg 为 nil 时使用默认配置
func New(ctx context.Context, cfg *config.Config) (*Node, error) {
	if cfg == nil {
		var err error
		if cfg, err = config.LoadConfig(""); err != nil {
			return nil, err
		}
	}
	logger, err := log.NewLogger(&log.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化日志失败: %w", err)
	}
	interval, err := cfg.Checkpoint.IntervalDuration()
	if err != nil {
		return nil, err
	}

	fast, err := cache.NewCache(ctx, cfg.Storage.Fast)
	if err != nil {
		return nil, fmt.Errorf("初始化快速层失败: %w", err)
	}
	arch, err := archive.NewArchive(ctx, cfg.Storage.Archive)
	if err != nil {
		_ = fast.Close()
		return nil, fmt.Errorf("初始化归档层失败: %w", err)
	}
	b, err := backend.New(fast, arch,
		backend.WithSchemes(cfg.Storage.Locators),
		backend.WithWarmOnLoad(cfg.Storage.WarmOnLoad),
		backend.WithLogger(logger.Logger),
	)
	if err != nil {
		_ = fast.Close()
		_ = arch.Close()
		return nil, err
	}

	registry := resurrection.NewRegistry(b,
		resurrection.WithLogger(logger.Logger),
		resurrection.WithHashLength(cfg.Checkpoint.HashLength),
	)
	pctx, cancel := context.WithCancel(context.Background())
	logger.Debug("node 已初始化",
		"fast_tier", cfg.Storage.Fast.Type,
		"archive_tier", cfg.Storage.Archive.Type,
		"checkpoint_interval", interval.String())
	return &Node{
		Config:         cfg,
		Logger:         logger,
		Backend:        b,
		Registry:       registry,
		interval:       interval,
		periodicCtx:    pctx,
		periodicCancel: cancel,
	}, nil
}

// InitTracing 非 HTTP 场景（CLI 子命令）启用 OTLP 链路追踪；未配置 endpoint 时不做任何事
func (n *Node) InitTracing() error {
	tc := n.Config.Monitoring.Tracing
	endpoint := tracingEndpoint(tc)
	if !tc.Enable || endpoint == "" {
		return nil
	}
	tp, err := tracing.InitTracer(tracing.OTelConfig{
		ServiceName:    tc.ServiceName,
		ExportEndpoint: endpoint,
		Insecure:       tc.Insecure,
	})
	if err != nil {
		return fmt.Errorf("初始化链路追踪失败: %w", err)
	}
	n.shutdown = append(n.shutdown, tp)
	n.Logger.Info("链路追踪已启用", "service_name", tc.ServiceName, "endpoint", endpoint)
	return nil
}

var _ otelProviderShutdown = (*sdktrace.TracerProvider)(nil)

func tracingEndpoint(tc config.TracingConfig) string {
	if tc.ExportEndpoint != "" {
		return tc.ExportEndpoint
	}
	return os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
}

// Create 创建新 Agent 并按配置启动周期检查点
func (n *Node) Create(ctx context.Context, opts ...resurrection.Option) (*resurrection.Manager, error) {
	m, err := n.Registry.Create(ctx, opts...)
	if err != nil {
		return nil, err
	}
	n.startPeriodic(m)
	return m, nil
}

// Resurrect 复活 Agent（已存活则直接返回）并按配置启动周期检查点
func (n *Node) Resurrect(ctx context.Context, agentID string, opts ...resurrection.Option) (*resurrection.Manager, error) {
	if m, err := n.Registry.Get(ctx, agentID); err == nil {
		return m, nil
	}
	m, err := n.Registry.Resurrect(ctx, agentID, opts...)
	if err != nil {
		return nil, err
	}
	n.startPeriodic(m)
	return m, nil
}

func (n *Node) startPeriodic(m *resurrection.Manager) {
	if n.interval <= 0 {
		return
	}
	n.periodicWG.Add(1)
	go func() {
		defer n.periodicWG.Done()
		if err := m.RunPeriodic(n.periodicCtx, n.interval); err != nil && n.periodicCtx.Err() == nil {
			n.Logger.Warn("周期检查点退出", "agent_id", m.ID(), "error", err)
		}
	}()
}

// Serve 启动只读查询 API，阻塞直到服务停止
func (n *Node) Serve(addr string) error {
	if addr == "" {
		addr = n.Config.API.Addr()
	}
	levelVar := &slog.LevelVar{}
	levelVar.Set(log.ParseLevel(n.Config.Log.Level))
	hlog.SetLogger(hertzslog.NewLogger(
		hertzslog.WithOutput(n.Logger.Writer()),
		hertzslog.WithLevel(levelVar),
	))

	router := apihttp.NewRouter(
		apihttp.NewHandler(n.Backend, n.Registry),
		n.Config.Monitoring.Prometheus.Enable,
	)

	tc := n.Config.Monitoring.Tracing
	if endpoint := tracingEndpoint(tc); tc.Enable && endpoint != "" {
		opts := []provider.Option{
			provider.WithServiceName(tc.ServiceName),
			provider.WithExportEndpoint(endpoint),
		}
		if tc.Insecure {
			opts = append(opts, provider.WithInsecure())
		}
		n.shutdown = append(n.shutdown, provider.NewOpenTelemetryProvider(opts...))
		tracerOpt, cfg := hertztracing.NewServerTracer()
		n.hertz = router.Build(addr, tracerOpt)
		n.hertz.Use(hertztracing.ServerMiddleware(cfg))
		n.Logger.Info("链路追踪已启用", "service_name", tc.ServiceName, "endpoint", endpoint)
	} else {
		n.hertz = router.Build(addr)
	}
	n.Logger.Info("查询 API 启动", "addr", addr)
	return n.hertz.Run()
}

// Shutdown 优雅关闭：休眠所有活跃 Agent，停止 API 与周期检查点，关闭存储与日志
func (n *Node) Shutdown(ctx context.Context) error {
	first := n.Registry.HibernateAll(ctx)
	if first != nil {
		n.Logger.Error("休眠活跃 Agent 失败", "error", first)
	}
	n.periodicCancel()
	n.periodicWG.Wait()

	if n.hertz != nil {
		if err := n.hertz.Shutdown(ctx); err != nil && first == nil {
			first = err
		}
	}
	for _, s := range n.shutdown {
		_ = s.Shutdown(ctx)
	}
	if err := n.Backend.Close(); err != nil && first == nil {
		first = err
	}
	_ = n.Logger.Close()
	return first
}
