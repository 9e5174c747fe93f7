package http

import (
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/config"

	"agent-resurrection/internal/api/http/middleware"
)

// Router HTTP 路由器
type Router struct {
	handler       *Handler
	exposeMetrics bool
}

// NewRouter 创建路由器；exposeMetrics 为 false 时不注册 /metrics
func NewRouter(handler *Handler, exposeMetrics bool) *Router {
	return &Router{handler: handler, exposeMetrics: exposeMetrics}
}

// Register 在 h 上注册全部路由
func (r *Router) Register(h *server.Hertz) {
	h.Use(middleware.AccessLog())
	if r.exposeMetrics {
		h.GET("/metrics", r.handler.Metrics)
	}

	api := h.Group("/api")
	api.GET("/health", r.handler.HealthCheck)

	agents := api.Group("/agents")
	{
		agents.GET("/:id/checkpoint", r.handler.GetCheckpoint)
		agents.GET("/:id/history", r.handler.GetHistory)
		agents.GET("/:id/status", r.handler.GetStatus)
	}
}

// Build 创建监听 addr 的 Hertz 服务并注册路由；opts 用于附加 tracer 等服务端选项
func (r *Router) Build(addr string, opts ...config.Option) *server.Hertz {
	opts = append([]config.Option{server.WithHostPorts(addr)}, opts...)
	h := server.Default(opts...)
	r.Register(h)
	return h
}
