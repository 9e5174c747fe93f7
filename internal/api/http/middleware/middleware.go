package middleware

import (
	"context"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/hlog"
)

// AccessLog 请求日志中间件
func AccessLog() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		start := time.Now()
		c.Next(ctx)
		hlog.CtxInfof(ctx, "%s %s | %d | %s | %s",
			c.Method(), c.Path(), c.Response.StatusCode(), c.ClientIP(), time.Since(start))
	}
}
