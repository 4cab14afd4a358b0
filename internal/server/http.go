package server

import (
	"context"

	"ConnGuard/internal/conf"
	"ConnGuard/internal/server/middleware"
	"ConnGuard/internal/service"
	pkglog "ConnGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/middleware/selector"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, connectionService *service.ConnectionService, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var token string
	if c != nil && c.HTTP != nil {
		token = c.HTTP.AdminToken
	}

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper), // 请求日志中间件：记录请求方法、路径、耗时
			// 健康检查免鉴权
			selector.Server(middleware.AdminAuth(token, logHelper)).
				Match(func(_ context.Context, operation string) bool {
					return operation != service.OperationHealth
				}).
				Build(),
		),
	}
	if c != nil && c.HTTP != nil {
		if c.HTTP.Network != "" {
			opts = append(opts, http.Network(c.HTTP.Network))
		}
		if c.HTTP.Addr != "" {
			opts = append(opts, http.Address(c.HTTP.Addr))
		}
		if c.HTTP.Timeout > 0 {
			opts = append(opts, http.Timeout(c.HTTP.Timeout))
		}
	}
	srv := http.NewServer(opts...)

	service.RegisterConnectionHTTPServer(srv, connectionService)

	return srv
}
