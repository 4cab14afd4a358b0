// Package middleware provides HTTP middleware for authentication, logging, and request processing.
package middleware

import (
	"context"
	"crypto/subtle"
	"strings"

	pkglog "ConnGuard/pkg/log"

	"github.com/go-kratos/kratos/v2/errors"
	"github.com/go-kratos/kratos/v2/middleware"
	"github.com/go-kratos/kratos/v2/transport"
	"github.com/go-kratos/kratos/v2/transport/http"
)

// ReasonUnauthorized is returned when the admin token is missing or wrong.
const ReasonUnauthorized = "UNAUTHORIZED"

// AdminAuth 校验管理接口的访问令牌
// 支持 "Authorization: Bearer {token}" 与 "X-API-Key: {token}" 两种格式
// token 为空时不做校验
func AdminAuth(token string, logger *pkglog.LogHelper) middleware.Middleware {
	return func(handler middleware.Handler) middleware.Handler {
		if token == "" {
			return handler
		}
		return func(ctx context.Context, req interface{}) (interface{}, error) {
			var presented, operation string

			if tr, ok := transport.FromServerContext(ctx); ok {
				operation = tr.Operation()
				if ht, ok := tr.(http.Transporter); ok {
					r := ht.Request()
					presented = strings.TrimSpace(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
					if presented == "" {
						presented = r.Header.Get("X-API-Key")
					}
				}
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
				logger.Connection("Rejected admin request",
					"operation", operation,
					"api_key_masked", maskAPIKey(presented),
				)
				return nil, errors.Unauthorized(ReasonUnauthorized, "missing or invalid admin token")
			}

			return handler(ctx, req)
		}
	}
}

// maskAPIKey 脱敏 API Key，仅显示前 8 位
// 示例: "sk-1234567890abcdef" -> "sk-12345***"
func maskAPIKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:8] + "***"
}
