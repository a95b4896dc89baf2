// Package middleware 提供HTTP中间件
package middleware

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/paiban/dispatch/internal/security"
	"github.com/paiban/dispatch/pkg/claim"
	"github.com/paiban/dispatch/pkg/dispatcher"
	"github.com/paiban/dispatch/pkg/logger"
)

// AuthConfig 认证配置
type AuthConfig struct {
	Tokens    *security.Tokens // 为 nil 时不校验令牌，使用 Anonymous
	Anonymous dispatcher.AuthContext
	SkipPaths []string // 跳过认证的路径前缀
}

// Authenticate 校验 Bearer 令牌并把调用方放入上下文
func Authenticate(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range cfg.SkipPaths {
				if strings.HasPrefix(r.URL.Path, p) {
					next.ServeHTTP(w, r)
					return
				}
			}

			auth := cfg.Anonymous
			if cfg.Tokens != nil {
				raw := security.ExtractBearer(r)
				if raw == "" {
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", security.ErrMissingToken.Error())
					return
				}
				claims, err := cfg.Tokens.Verify(raw)
				if err != nil {
					logger.WithContext(r.Context()).Warn().Err(err).Msg("令牌校验失败")
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", security.ErrInvalidToken.Error())
					return
				}
				auth = AuthFromClaims(claims)
			}

			ctx := dispatcher.WithAuth(r.Context(), auth)
			ctx = logger.ContextWithCaller(ctx, auth.Actor())
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AuthFromClaims 把令牌声明转换为派单授权上下文
func AuthFromClaims(c *security.Claims) dispatcher.AuthContext {
	kind := dispatcher.CallerAuto
	if c.Kind == string(dispatcher.CallerManual) {
		kind = dispatcher.CallerManual
	}
	return dispatcher.AuthContext{Kind: kind, Subject: c.Subject, Roles: c.Roles}
}

// RequireRole 只允许具备任一角色的手工调用方
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := dispatcher.AuthFrom(r.Context())
			for _, have := range auth.Roles {
				for _, want := range roles {
					if have == want {
						next.ServeHTTP(w, r)
						return
					}
				}
			}
			writeError(w, http.StatusForbidden, "FORBIDDEN", "权限不足")
		})
	}
}

// RateLimit 按调用方限制请求频率，匿名调用方按来源地址
func RateLimit(limiter claim.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow(clientKey(r)) {
				writeError(w, http.StatusTooManyRequests, "RATE_LIMITED", security.ErrRateLimitExceeded.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientKey(r *http.Request) string {
	if auth := dispatcher.AuthFrom(r.Context()); auth.Subject != "" && auth.Subject != dispatcher.SystemAuth.Subject {
		return auth.Actor()
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(map[string]string{"error": code, "message": msg}); err != nil &&
		!errors.Is(err, http.ErrHandlerTimeout) {
		logger.Warn().Err(err).Msg("写入错误响应失败")
	}
}
